// Package provider defines the streaming model-provider contract used by the
// orchestrator, and the adapters that implement it.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zulandar/spotter/internal/schema"
)

// Role identifies who produced a Turn.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	// RoleTool carries function results back to the model.
	RoleTool Role = "tool"
)

// Turn is one entry of model input.
type Turn struct {
	Role    Role
	Text    string
	Calls   []FunctionCall   // set on RoleModel turns that requested tools
	Results []FunctionResult // set on RoleTool turns
}

// FunctionCall is a tool invocation the model made in an earlier round.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// FunctionResult answers the FunctionCall with the same ID.
type FunctionResult struct {
	ID       string
	Name     string
	Response json.RawMessage
}

// ToolSchema declares a callable tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  *schema.Schema
}

// EventType discriminates stream events.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventTextDone      EventType = "text_done"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallDelta EventType = "tool_call_delta"
	EventToolCallDone  EventType = "tool_call_done"
	EventTurnDone      EventType = "turn_done"
)

// Event is one item of a provider stream. Which fields are set depends on
// Type: Text for text events, CallID/ToolName for tool events, Fragment for
// argument deltas, Usage for EventTurnDone.
type Event struct {
	Type     EventType
	Text     string
	CallID   string
	ToolName string
	Fragment string
	Usage    *Usage
}

// Usage reports token accounting for one provider round trip.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Stream yields events until io.EOF. Close releases the underlying
// connection and is safe to call more than once.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Provider opens a streaming completion for the given input.
type Provider interface {
	Name() string
	StreamCompletion(ctx context.Context, turns []Turn, tools []ToolSchema) (Stream, error)
}

// Error reports a failed or non-successful provider round trip.
type Error struct {
	Provider string
	Status   int // HTTP-style status when known, 0 otherwise
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
