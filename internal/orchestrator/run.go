package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zulandar/spotter/internal/assembler"
	"github.com/zulandar/spotter/internal/models"
	"github.com/zulandar/spotter/internal/progress"
	"github.com/zulandar/spotter/internal/provider"
	"github.com/zulandar/spotter/internal/sse"
	"github.com/zulandar/spotter/internal/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errDisconnected = errors.New("orchestrator: client disconnected")

// heldResult is a tool result waiting for the end of its provider round.
type heldResult struct {
	callID    string
	tool      string
	outcome   tools.Outcome
	reconfirm bool
}

// run is the state of a single turn. It is never shared between turns.
type run struct {
	o       *Orchestrator
	convID  string
	t       Transport
	ec      tools.ExecContext
	tracker *progress.Tracker
	log     *zap.Logger

	// store writes outlive a client disconnect so executed work is recorded.
	persistCtx context.Context

	outcome TurnOutcome
	round   []models.Message
	held    []heldResult
	refused map[string]bool
	started []string
	names   map[string]string
	text    strings.Builder
}

func newRun(o *Orchestrator, convID, userID string, t Transport) *run {
	return &run{
		o:       o,
		convID:  convID,
		t:       t,
		ec:      tools.ExecContext{UserID: userID, ConversationID: convID, Repo: o.repo},
		tracker: progress.NewTracker(o.dispatcher.Registry().ProgressSpecs()),
		log:     o.log.With(zap.String("conversation_id", convID)),
		refused: make(map[string]bool),
		names:   make(map[string]string),
	}
}

func (r *run) execute(ctx context.Context, userText string) (TurnOutcome, error) {
	r.persistCtx = context.WithoutCancel(ctx)

	conv, err := r.o.store.GetConversation(ctx, r.convID)
	if err != nil {
		return r.fail(ReasonInternal, sse.CodeInternal, fmt.Errorf("orchestrator: load conversation: %w", err))
	}
	// The user's new turn is the reconfirmation a failed non-retryable tool
	// was waiting for.
	if p := conv.State.Data().Pending; p != nil && p.Kind == models.PendingToolReconfirm {
		if _, err := r.o.store.ClearPending(r.persistCtx, r.convID, models.PendingToolReconfirm, 0); err != nil {
			return r.fail(ReasonInternal, sse.CodeInternal, fmt.Errorf("orchestrator: clear reconfirmation: %w", err))
		}
	}

	userMsg := models.Message{ConversationID: r.convID, Role: models.RoleUser, Content: userText}
	if err := r.persist(&userMsg); err != nil {
		return r.fail(ReasonInternal, sse.CodeInternal, err)
	}
	if err := r.o.store.Touch(r.persistCtx, r.convID); err != nil {
		r.log.Warn("touch conversation", zap.Error(err))
	}

	turns, err := r.o.assembler.BuildInput(ctx, conv, assembler.NewUserTurn{MessageID: userMsg.ID, Text: userText})
	if err != nil {
		var aerr *assembler.AssemblyError
		if errors.As(err, &aerr) {
			return r.fail(ReasonAssemblyError, sse.CodeAssemblyError, err)
		}
		return r.fail(ReasonInternal, sse.CodeInternal, err)
	}
	schemas := r.o.dispatcher.Registry().Schemas()

	for round := 1; round <= r.o.maxRoundTrips; round++ {
		if r.t.Closed() {
			return r.abort(ReasonDisconnected)
		}
		r.outcome.RoundTrips = round
		r.round = r.round[:0]

		err := r.streamRound(ctx, round, turns, schemas)
		hadCalls := len(r.held) > 0
		if ferr := r.flushHeld(); ferr != nil {
			return r.fail(ReasonInternal, sse.CodeInternal, ferr)
		}
		switch {
		case errors.Is(err, errDisconnected):
			return r.abort(ReasonDisconnected)
		case err != nil:
			if r.t.Closed() {
				return r.abort(ReasonDisconnected)
			}
			var perr *provider.Error
			if errors.As(err, &perr) {
				return r.fail(ReasonProviderError, sse.CodeProviderError, fmt.Errorf("orchestrator: round %d: %w", round, err))
			}
			return r.fail(ReasonInternal, sse.CodeInternal, fmt.Errorf("orchestrator: round %d: %w", round, err))
		}

		if !hadCalls {
			return r.finish()
		}
		turns, err = assembler.Append(turns, r.round)
		if err != nil {
			return r.fail(ReasonAssemblyError, sse.CodeAssemblyError, err)
		}
	}
	return r.abort(ReasonBudgetExhausted)
}

// streamRound makes one provider call and consumes its stream. Tool results
// produced during the round are left in r.held.
func (r *run) streamRound(ctx context.Context, round int, turns []provider.Turn, schemas []provider.ToolSchema) error {
	ctx, span := r.o.tracer.Start(ctx, "orchestrator.round", trace.WithAttributes(
		attribute.Int("spotter.round", round),
		attribute.Int("spotter.input_turns", len(turns)),
	))
	defer span.End()
	r.o.roundCount.Add(ctx, 1)

	stream, err := r.o.provider.StreamCompletion(ctx, turns, schemas)
	if err != nil {
		return asProviderError(r.o.provider.Name(), err)
	}
	defer stream.Close()

	for {
		if r.t.Closed() {
			r.discardCalls()
			return errDisconnected
		}
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Unfinished text and calls are dropped: only completed output is
			// persisted.
			r.text.Reset()
			r.discardCalls()
			return asProviderError(r.o.provider.Name(), err)
		}
		if err := r.handle(ctx, ev); err != nil {
			return err
		}
	}

	if err := r.completeText(""); err != nil {
		return err
	}
	if len(r.started) > 0 {
		r.log.Warn("provider ended round with unfinished tool calls", zap.Strings("call_ids", r.started))
		r.discardCalls()
	}
	return nil
}

func (r *run) handle(ctx context.Context, ev provider.Event) error {
	switch ev.Type {
	case provider.EventTextDelta:
		if ev.Text == "" {
			return nil
		}
		r.text.WriteString(ev.Text)
		r.t.Send(sse.EventTextDelta, sse.TextDelta{Text: ev.Text})

	case provider.EventTextDone:
		return r.completeText(ev.Text)

	case provider.EventToolCallStart:
		if err := r.completeText(""); err != nil {
			return err
		}
		r.beginCall(ev.CallID, ev.ToolName)

	case provider.EventToolCallDelta:
		if _, ok := r.names[ev.CallID]; !ok {
			r.beginCall(ev.CallID, ev.ToolName)
		}
		m := r.tracker.Feed(ev.CallID, ev.Fragment)
		r.t.Send(sse.EventToolProgress, sse.ToolProgress{
			CallID:       m.CallID,
			Tool:         r.names[ev.CallID],
			FieldsClosed: m.Closed,
			Done:         m.Done,
			Total:        m.Total,
			Label:        m.Label,
		})

	case provider.EventToolCallDone:
		if _, ok := r.names[ev.CallID]; !ok {
			r.beginCall(ev.CallID, ev.ToolName)
		}
		return r.completeCall(ctx, ev.CallID)

	case provider.EventTurnDone:
		if ev.Usage != nil {
			r.log.Debug("provider usage",
				zap.Int("input_tokens", ev.Usage.InputTokens),
				zap.Int("output_tokens", ev.Usage.OutputTokens),
			)
		}
	}
	return nil
}

// completeText persists the assistant text of the current segment. full,
// when set, is the provider's final text and wins over the relayed deltas.
func (r *run) completeText(full string) error {
	text := full
	if text == "" {
		text = r.text.String()
	}
	r.text.Reset()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	msg := models.Message{ConversationID: r.convID, Role: models.RoleAssistant, Content: text}
	if err := r.persist(&msg); err != nil {
		return err
	}
	r.round = append(r.round, msg)
	r.t.Send(sse.EventTextDone, sse.TextDone{MessageID: msg.ID, Text: text})
	return nil
}

func (r *run) beginCall(callID, tool string) {
	r.names[callID] = tool
	r.started = append(r.started, callID)
	r.tracker.Begin(callID, tool)
}

func (r *run) endCall(callID string) string {
	tool := r.names[callID]
	delete(r.names, callID)
	for i, id := range r.started {
		if id == callID {
			r.started = append(r.started[:i], r.started[i+1:]...)
			break
		}
	}
	return tool
}

func (r *run) discardCalls() {
	for _, id := range r.started {
		r.tracker.Discard(id)
		delete(r.names, id)
	}
	r.started = nil
}

// completeCall records a finished tool call and runs it. The tool_call
// message is always persisted first; its result is held until the round
// ends.
func (r *run) completeCall(ctx context.Context, callID string) error {
	raw := r.tracker.Raw(callID)
	tool := r.endCall(callID)
	args, parseErr := r.tracker.Finalize(callID)

	callMsg := models.Message{
		ConversationID: r.convID,
		Role:           models.RoleToolCall,
		CallID:         callID,
		ToolName:       tool,
	}
	if parseErr != nil {
		callMsg.Content = raw
	} else {
		callMsg.Payload = []byte(args)
	}
	if err := r.persist(&callMsg); err != nil {
		return err
	}
	r.round = append(r.round, callMsg)

	def, known := r.o.dispatcher.Registry().Lookup(tool)
	nonRetryable := known && !def.Retryable

	var out tools.Outcome
	switch {
	case parseErr != nil:
		out = argumentFailure(parseErr)
	case nonRetryable && r.refused[tool]:
		out = tools.Failure("reconfirmation_required: %s failed earlier in this turn and must not run again until the user confirms", tool)
	default:
		var execErr error
		out, execErr = r.o.dispatcher.Execute(ctx, tool, args, r.ec)
		var uerr *tools.UnknownToolError
		if errors.As(execErr, &uerr) {
			r.log.Info("model requested unknown tool", zap.String("tool", tool))
		}
	}

	held := heldResult{callID: callID, tool: tool, outcome: out}
	if !out.Success && nonRetryable && !r.refused[tool] {
		r.refused[tool] = true
		held.reconfirm = true
	}
	r.held = append(r.held, held)

	r.o.toolCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", out.Success),
	))
	return nil
}

// flushHeld persists the round's tool results in arrival order and relays
// them to the client.
func (r *run) flushHeld() error {
	held := r.held
	r.held = nil
	for _, h := range held {
		msg := models.Message{
			ConversationID: r.convID,
			Role:           models.RoleToolResult,
			CallID:         h.callID,
			ToolName:       h.tool,
			Payload:        []byte(h.outcome.JSON()),
		}
		if h.outcome.Success && h.outcome.RequiresConfirmation {
			msg.Status = models.StatusPending
		}
		if err := r.persist(&msg); err != nil {
			return err
		}
		r.round = append(r.round, msg)

		switch {
		case msg.Status == models.StatusPending:
			r.setPending(models.PendingPlanConfirmation, msg.ID, h.tool)
		case h.reconfirm:
			r.setPending(models.PendingToolReconfirm, msg.ID, h.tool)
		}

		r.t.Send(sse.EventToolResult, sse.ToolResult{
			CallID:    h.callID,
			Tool:      h.tool,
			MessageID: msg.ID,
			Success:   h.outcome.Success,
			Data:      h.outcome.Data,
			Error:     h.outcome.Error,
			Status:    msg.Status,
		})
	}
	return nil
}

func (r *run) setPending(kind string, messageID uint, tool string) {
	err := r.o.store.SetPending(r.persistCtx, r.convID, models.PendingAction{
		Kind:      kind,
		MessageID: messageID,
		ToolName:  tool,
	})
	if err != nil {
		r.log.Warn("set pending action", zap.String("kind", kind), zap.Error(err))
	}
}

func (r *run) persist(msg *models.Message) error {
	if _, err := r.o.store.Append(r.persistCtx, msg); err != nil {
		return fmt.Errorf("orchestrator: persist %s: %w", msg.Role, err)
	}
	r.outcome.MessagesPersisted++
	return nil
}

func argumentFailure(err error) tools.Outcome {
	var perr *progress.ArgumentParseError
	if !errors.As(err, &perr) {
		return tools.Failure("invalid arguments: %v", err)
	}
	out := tools.Failure("invalid arguments: %s", perr.Reason)
	if len(perr.Violations) > 0 {
		out.Data = map[string]any{"violations": perr.Violations}
	}
	return out
}

func asProviderError(name string, err error) error {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}
	return &provider.Error{Provider: name, Err: err}
}
