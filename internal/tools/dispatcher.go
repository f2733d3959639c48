package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// UnknownToolError reports a call to a name outside the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return "unknown tool: " + e.Name
}

// ExecutionFault reports a handler that returned an error or panicked.
type ExecutionFault struct {
	Tool  string
	Err   error
	Panic any
}

func (e *ExecutionFault) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("tools: %s panicked: %v", e.Tool, e.Panic)
	}
	return fmt.Sprintf("tools: %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionFault) Unwrap() error { return e.Err }

// Dispatcher executes tool calls by name.
type Dispatcher struct {
	registry *Registry
	log      *zap.Logger
}

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	Registry *Registry
	Logger   *zap.Logger // defaults to a no-op logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("tools: dispatcher: registry is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{registry: opts.Registry, log: log}, nil
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Execute runs the named tool. The returned Outcome is always usable as a
// tool result. The error is an *UnknownToolError or *ExecutionFault for
// callers that want to tell failures apart; it never needs to abort a turn.
func (d *Dispatcher) Execute(ctx context.Context, name string, args json.RawMessage, ec ExecContext) (Outcome, error) {
	t, ok := d.registry.Lookup(name)
	if !ok {
		err := &UnknownToolError{Name: name}
		return Outcome{Error: err.Error()}, err
	}

	out, fault := d.invoke(ctx, t, args, ec)
	if fault != nil {
		d.log.Error("tool execution fault",
			zap.String("tool", name),
			zap.String("conversation_id", ec.ConversationID),
			zap.Error(fault),
		)
		return Outcome{Error: "internal"}, fault
	}
	if !out.Success && out.Error == "" {
		out.Error = "failed"
	}
	return out, nil
}

func (d *Dispatcher) invoke(ctx context.Context, t Tool, args json.RawMessage, ec ExecContext) (out Outcome, fault *ExecutionFault) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{}
			fault = &ExecutionFault{Tool: t.Name, Panic: p}
		}
	}()
	out, err := t.Handler.Handle(ctx, ec, args)
	if err != nil {
		return Outcome{}, &ExecutionFault{Tool: t.Name, Err: err}
	}
	return out, nil
}
