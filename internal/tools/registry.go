// Package tools holds the static tool registry and the dispatcher that runs
// model-requested tool calls against application data.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/progress"
	"github.com/zulandar/spotter/internal/provider"
	"github.com/zulandar/spotter/internal/schema"
)

// ExecContext is everything a handler may touch while running.
type ExecContext struct {
	UserID         string
	ConversationID string
	Repo           db.Repository
}

// Outcome is the normalized result of a tool call. It is persisted as the
// tool_result payload and handed back to the model.
type Outcome struct {
	Success              bool   `json:"success"`
	Data                 any    `json:"data,omitempty"`
	Error                string `json:"error,omitempty"`
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
}

// Failure builds an unsuccessful Outcome for an expected domain failure.
func Failure(format string, args ...any) Outcome {
	return Outcome{Error: fmt.Sprintf(format, args...)}
}

// JSON returns the outcome encoded for persistence.
func (o Outcome) JSON() json.RawMessage {
	b, err := json.Marshal(o)
	if err != nil {
		b, _ = json.Marshal(Outcome{Error: "internal"})
	}
	return b
}

// Handler runs one tool. Expected domain failures are returned as an
// unsuccessful Outcome with a nil error; a non-nil error means a fault.
type Handler interface {
	Handle(ctx context.Context, ec ExecContext, args json.RawMessage) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ec ExecContext, args json.RawMessage) (Outcome, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ec ExecContext, args json.RawMessage) (Outcome, error) {
	return f(ctx, ec, args)
}

// Tool is a registered tool definition.
type Tool struct {
	Name        string
	Description string
	Parameters  *schema.Schema
	// ProgressFields are the top-level argument fields reported while the
	// call streams. Defaults to every declared parameter.
	ProgressFields []string
	// Retryable is false for tools the model must not re-run after a failure
	// until the user has spoken again.
	Retryable bool
	Handler   Handler

	validator *schema.Validator
}

// Registry is the set of tools available to the model. It is populated at
// startup and read-only afterwards.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Duplicate or incomplete definitions are rejected.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tools: register: name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: register %s: handler is required", t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: register %s: already registered", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = &schema.Schema{Type: schema.Object}
	}
	v, err := schema.Compile(t.Name, t.Parameters)
	if err != nil {
		return fmt.Errorf("tools: register %s: %w", t.Name, err)
	}
	t.validator = v
	if t.ProgressFields == nil {
		t.ProgressFields = schema.FieldNames(t.Parameters)
	}
	r.tools[t.Name] = t
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns the declarations sent to the provider, sorted by name.
func (r *Registry) Schemas() []provider.ToolSchema {
	out := make([]provider.ToolSchema, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		out = append(out, provider.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// ProgressSpecs returns the per-tool declarations for a progress.Tracker.
func (r *Registry) ProgressSpecs() map[string]progress.Spec {
	specs := make(map[string]progress.Spec, len(r.tools))
	for name, t := range r.tools {
		specs[name] = progress.Spec{Fields: t.ProgressFields, Validator: t.validator}
	}
	return specs
}
