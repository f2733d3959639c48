// Package orchestrator drives one conversation turn: it streams the model's
// output to the client, runs the tools the model asks for, and records the
// transcript in causal order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/spotter/internal/assembler"
	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/models"
	"github.com/zulandar/spotter/internal/provider"
	"github.com/zulandar/spotter/internal/sse"
	"github.com/zulandar/spotter/internal/telemetry"
	"github.com/zulandar/spotter/internal/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxRoundTrips bounds the provider calls made for a single turn.
const DefaultMaxRoundTrips = 6

// Turn statuses.
const (
	StatusDone    = "done"
	StatusAborted = "aborted"
	StatusFailed  = "failed"
)

// Abort and failure reasons.
const (
	ReasonDisconnected    = "client_disconnected"
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonProviderError   = "provider_error"
	ReasonAssemblyError   = "assembly_error"
	ReasonInternal        = "internal"
)

// Transcript is the store surface the orchestrator needs.
type Transcript interface {
	assembler.Source
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	Touch(ctx context.Context, id string) error
	Append(ctx context.Context, msg *models.Message) (uint, error)
	SetPending(ctx context.Context, id string, action models.PendingAction) error
	ClearPending(ctx context.Context, id, kind string, messageID uint) (bool, error)
}

// Transport is the client stream of a turn. Writes after the client has
// gone are expected to be no-ops.
type Transport interface {
	Send(event string, payload any)
	Terminate(event string, payload any)
	Closed() bool
}

// TurnOutcome summarizes a finished turn.
type TurnOutcome struct {
	Status            string
	Reason            string
	MessagesPersisted int
	RoundTrips        int
}

// Orchestrator runs conversation turns. It holds no per-turn state and may
// run any number of turns concurrently.
type Orchestrator struct {
	store         Transcript
	assembler     *assembler.Assembler
	provider      provider.Provider
	dispatcher    *tools.Dispatcher
	repo          db.Repository
	maxRoundTrips int
	log           *zap.Logger

	tracer     trace.Tracer
	turnCount  metric.Int64Counter
	roundCount metric.Int64Counter
	toolCount  metric.Int64Counter
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Store         Transcript
	Provider      provider.Provider
	Dispatcher    *tools.Dispatcher
	Repo          db.Repository // handed to tool handlers
	MaxRoundTrips int           // defaults to DefaultMaxRoundTrips
	Logger        *zap.Logger   // defaults to a no-op logger
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("orchestrator: provider is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("orchestrator: dispatcher is required")
	}
	maxRounds := opts.MaxRoundTrips
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRoundTrips
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	meter := telemetry.Meter("spotter/orchestrator")
	turnCount := counter(meter, "spotter.turns", "Conversation turns by final status")
	roundCount := counter(meter, "spotter.round_trips", "Provider calls made by conversation turns")
	toolCount := counter(meter, "spotter.tool_calls", "Completed tool calls by tool and result")

	return &Orchestrator{
		store:         opts.Store,
		assembler:     assembler.New(opts.Store),
		provider:      opts.Provider,
		dispatcher:    opts.Dispatcher,
		repo:          opts.Repo,
		maxRoundTrips: maxRounds,
		log:           log,
		tracer:        telemetry.Tracer("spotter/orchestrator"),
		turnCount:     turnCount,
		roundCount:    roundCount,
		toolCount:     toolCount,
	}, nil
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// Run drives one turn of the conversation for userText and streams it to t.
// Every message is durable as soon as it is appended, so an aborted turn
// leaves a valid transcript. A non-nil error is returned only for failures
// that ended the turn: assembly, provider, or storage errors. Aborts for a
// disconnected client or an exhausted round-trip budget are reported in the
// outcome.
func (o *Orchestrator) Run(ctx context.Context, conversationID, userID, userText string, t Transport) (TurnOutcome, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("spotter.conversation_id", conversationID),
		attribute.String("spotter.provider", o.provider.Name()),
	))
	defer span.End()

	r := newRun(o, conversationID, userID, t)
	out, err := r.execute(ctx, userText)

	span.SetAttributes(
		attribute.String("spotter.turn.status", out.Status),
		attribute.Int("spotter.turn.round_trips", out.RoundTrips),
		attribute.Int("spotter.turn.messages_persisted", out.MessagesPersisted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, out.Reason)
	}
	o.turnCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", out.Status),
		attribute.String("reason", out.Reason),
	))

	fields := []zap.Field{
		zap.String("conversation_id", conversationID),
		zap.String("status", out.Status),
		zap.Int("round_trips", out.RoundTrips),
		zap.Int("messages_persisted", out.MessagesPersisted),
	}
	switch {
	case err != nil:
		o.log.Error("turn failed", append(fields, zap.String("reason", out.Reason), zap.Error(err))...)
	case out.Status == StatusAborted:
		o.log.Info("turn aborted", append(fields, zap.String("reason", out.Reason))...)
	default:
		o.log.Info("turn complete", fields...)
	}
	return out, err
}

// fail ends the turn with an error event.
func (r *run) fail(reason, code string, err error) (TurnOutcome, error) {
	r.outcome.Status = StatusFailed
	r.outcome.Reason = reason
	r.t.Terminate(sse.EventError, sse.Error{
		Code:              code,
		Message:           clientMessage(code, err),
		MessagesPersisted: r.outcome.MessagesPersisted,
		RoundTrips:        r.outcome.RoundTrips,
	})
	return r.outcome, err
}

// abort ends the turn without an error: the client left or the budget ran
// out. The terminal event is best effort.
func (r *run) abort(reason string) (TurnOutcome, error) {
	r.outcome.Status = StatusAborted
	r.outcome.Reason = reason
	code := sse.CodeDisconnected
	if reason == ReasonBudgetExhausted {
		code = sse.CodeBudgetExhausted
	}
	r.t.Terminate(sse.EventError, sse.Error{
		Code:              code,
		Message:           clientMessage(code, nil),
		MessagesPersisted: r.outcome.MessagesPersisted,
		RoundTrips:        r.outcome.RoundTrips,
	})
	return r.outcome, nil
}

func (r *run) finish() (TurnOutcome, error) {
	r.outcome.Status = StatusDone
	r.t.Terminate(sse.EventDone, sse.Done{
		MessagesPersisted: r.outcome.MessagesPersisted,
		RoundTrips:        r.outcome.RoundTrips,
	})
	return r.outcome, nil
}

func clientMessage(code string, err error) string {
	switch code {
	case sse.CodeProviderError:
		var perr *provider.Error
		if errors.As(err, &perr) && perr.Status != 0 {
			return fmt.Sprintf("the model provider failed (status %d)", perr.Status)
		}
		return "the model provider failed"
	case sse.CodeBudgetExhausted:
		return "the assistant used too many tool round trips"
	case sse.CodeAssemblyError:
		return "the conversation history is inconsistent"
	case sse.CodeDisconnected:
		return "client disconnected"
	}
	return "internal error"
}
