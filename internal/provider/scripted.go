package provider

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Round is the scripted response to one StreamCompletion call. Events are
// delivered in order; then Err is returned if set, otherwise io.EOF. OpenErr
// makes StreamCompletion itself fail.
type Round struct {
	Events  []Event
	Err     error
	OpenErr error
}

// Scripted implements Provider from a fixed list of rounds, for tests and
// local development. It records the input of every call.
type Scripted struct {
	mu         sync.Mutex
	rounds     []Round
	repeatLast bool
	calls      [][]Turn
	tools      [][]ToolSchema
}

// NewScripted creates a provider that answers call i with rounds[i].
func NewScripted(rounds ...Round) *Scripted {
	return &Scripted{rounds: rounds}
}

// RepeatLast makes every call past the scripted rounds reuse the last one.
func (s *Scripted) RepeatLast() *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeatLast = true
	return s
}

// Name returns "scripted".
func (s *Scripted) Name() string { return "scripted" }

// StreamCompletion returns the next scripted round.
func (s *Scripted) StreamCompletion(ctx context.Context, turns []Turn, tools []ToolSchema) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.calls)
	s.calls = append(s.calls, append([]Turn(nil), turns...))
	s.tools = append(s.tools, tools)

	var round Round
	switch {
	case n < len(s.rounds):
		round = s.rounds[n]
	case s.repeatLast && len(s.rounds) > 0:
		round = s.rounds[len(s.rounds)-1]
	default:
		return nil, &Error{Provider: "scripted", Err: fmt.Errorf("no round scripted for call %d", n+1)}
	}
	if round.OpenErr != nil {
		return nil, &Error{Provider: "scripted", Err: round.OpenErr}
	}
	return &scriptedStream{ctx: ctx, round: round}, nil
}

// Calls returns the turns passed to each StreamCompletion call.
func (s *Scripted) Calls() [][]Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Turn(nil), s.calls...)
}

// Tools returns the tool schemas passed to each StreamCompletion call.
func (s *Scripted) Tools() [][]ToolSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]ToolSchema(nil), s.tools...)
}

type scriptedStream struct {
	ctx    context.Context
	round  Round
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (Event, error) {
	if s.closed {
		return Event{}, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return Event{}, &Error{Provider: "scripted", Err: err}
	}
	if s.pos < len(s.round.Events) {
		ev := s.round.Events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.round.Err != nil {
		return Event{}, &Error{Provider: "scripted", Err: s.round.Err}
	}
	return Event{}, io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// TextReply builds the events of a plain assistant reply split into chunks.
func TextReply(chunks ...string) []Event {
	var events []Event
	full := ""
	for _, c := range chunks {
		events = append(events, Event{Type: EventTextDelta, Text: c})
		full += c
	}
	events = append(events, Event{Type: EventTextDone, Text: full})
	return events
}

// ToolCall builds the events of one streamed tool call whose arguments
// arrive as the given fragments.
func ToolCall(callID, name string, fragments ...string) []Event {
	events := []Event{{Type: EventToolCallStart, CallID: callID, ToolName: name}}
	for _, f := range fragments {
		events = append(events, Event{Type: EventToolCallDelta, CallID: callID, ToolName: name, Fragment: f})
	}
	return append(events, Event{Type: EventToolCallDone, CallID: callID, ToolName: name})
}

// Concat joins event slices, appending a final EventTurnDone.
func Concat(parts ...[]Event) []Event {
	var events []Event
	for _, p := range parts {
		events = append(events, p...)
	}
	return append(events, Event{Type: EventTurnDone})
}
