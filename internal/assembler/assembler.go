// Package assembler rebuilds provider input from the stored transcript.
package assembler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zulandar/spotter/internal/models"
	"github.com/zulandar/spotter/internal/provider"
)

// Source reads the transcript window after a summary cursor.
type Source interface {
	ListSince(ctx context.Context, conversationID string, cursor uint) ([]models.Message, error)
}

// NewUserTurn is the user message that opens the turn being assembled. It
// is already persisted; MessageID identifies it in the window.
type NewUserTurn struct {
	MessageID uint
	Text      string
}

// AssemblyError reports a transcript that violates call/result ordering.
type AssemblyError struct {
	ConversationID string
	MessageID      uint
	CallID         string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembler: conversation %s: tool_result %d answers call %q with no earlier tool_call",
		e.ConversationID, e.MessageID, e.CallID)
}

// Assembler converts stored messages into provider turns.
type Assembler struct {
	src Source
}

// New creates an Assembler reading from src.
func New(src Source) *Assembler {
	return &Assembler{src: src}
}

// BuildInput returns the provider input for a new user turn: the summary as
// a system turn, every message after the summary cursor, then the user turn.
func (a *Assembler) BuildInput(ctx context.Context, conv *models.Conversation, user NewUserTurn) ([]provider.Turn, error) {
	msgs, err := a.src.ListSince(ctx, conv.ID, conv.SummaryCursor)
	if err != nil {
		return nil, fmt.Errorf("assembler: build input: %w", err)
	}

	var turns []provider.Turn
	if conv.Summary != "" {
		turns = append(turns, provider.Turn{Role: provider.RoleSystem, Text: conv.Summary})
	}

	window := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if user.MessageID != 0 && m.ID == user.MessageID {
			continue
		}
		window = append(window, m)
	}
	turns, err = Append(turns, window)
	if err != nil {
		return nil, err
	}
	return append(turns, provider.Turn{Role: provider.RoleUser, Text: user.Text}), nil
}

// Append maps msgs onto turns. Calls already present in turns count as
// prior calls for the results in msgs.
func Append(turns []provider.Turn, msgs []models.Message) ([]provider.Turn, error) {
	seen := make(map[string]bool)
	for _, t := range turns {
		for _, c := range t.Calls {
			seen[c.ID] = true
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			turns = append(turns, provider.Turn{Role: provider.RoleUser, Text: m.Content})
		case models.RoleAssistant:
			// Text streamed after calls in the same round is stored ahead of
			// their results; it joins the model turn holding the calls.
			if n := len(turns); n > 0 && turns[n-1].Role == provider.RoleModel && len(turns[n-1].Calls) > 0 {
				turns[n-1].Text = joinText(turns[n-1].Text, m.Content)
				continue
			}
			turns = append(turns, provider.Turn{Role: provider.RoleModel, Text: m.Content})
		case models.RoleToolCall:
			seen[m.CallID] = true
			call := provider.FunctionCall{ID: m.CallID, Name: m.ToolName, Arguments: callArguments(m)}
			// Calls join the model turn they were streamed in.
			if n := len(turns); n > 0 && turns[n-1].Role == provider.RoleModel {
				turns[n-1].Calls = append(turns[n-1].Calls, call)
				continue
			}
			turns = append(turns, provider.Turn{Role: provider.RoleModel, Calls: []provider.FunctionCall{call}})
		case models.RoleToolResult:
			if !seen[m.CallID] {
				return nil, &AssemblyError{ConversationID: m.ConversationID, MessageID: m.ID, CallID: m.CallID}
			}
			res := provider.FunctionResult{ID: m.CallID, Name: m.ToolName, Response: resultResponse(m)}
			if n := len(turns); n > 0 && turns[n-1].Role == provider.RoleTool {
				turns[n-1].Results = append(turns[n-1].Results, res)
				continue
			}
			turns = append(turns, provider.Turn{Role: provider.RoleTool, Results: []provider.FunctionResult{res}})
		}
	}
	return turns, nil
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}

// callArguments prefers the validated payload and falls back to the raw
// argument text stored for calls that failed validation.
func callArguments(m models.Message) json.RawMessage {
	if len(m.Payload) > 0 {
		return json.RawMessage(m.Payload)
	}
	if m.Content != "" {
		return json.RawMessage(m.Content)
	}
	return json.RawMessage("{}")
}

func resultResponse(m models.Message) json.RawMessage {
	if len(m.Payload) > 0 {
		return json.RawMessage(m.Payload)
	}
	b, _ := json.Marshal(map[string]string{"output": m.Content})
	return b
}
