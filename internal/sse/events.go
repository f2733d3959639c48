package sse

// Event names sent on a turn stream.
const (
	EventTextDelta    = "text_delta"
	EventTextDone     = "text_done"
	EventToolProgress = "tool_progress"
	EventToolResult   = "tool_result"
	EventDone         = "done"
	EventError        = "error"
)

// Error codes carried by the error event.
const (
	CodeProviderError   = "provider_error"
	CodeBudgetExhausted = "budget_exhausted"
	CodeAssemblyError   = "assembly_error"
	CodeInternal        = "internal"
	CodeDisconnected    = "client_disconnected"
)

// TextDelta is an incremental assistant text fragment.
type TextDelta struct {
	Text string `json:"text"`
}

// TextDone reports a persisted assistant message.
type TextDone struct {
	MessageID uint   `json:"message_id"`
	Text      string `json:"text"`
}

// ToolProgress is the coarse argument progress of a streaming tool call.
type ToolProgress struct {
	CallID       string   `json:"call_id"`
	Tool         string   `json:"tool"`
	FieldsClosed []string `json:"fields_closed"`
	Done         int      `json:"done"`
	Total        int      `json:"total"`
	Label        string   `json:"label"`
}

// ToolResult reports a persisted tool result.
type ToolResult struct {
	CallID    string `json:"call_id"`
	Tool      string `json:"tool"`
	MessageID uint   `json:"message_id"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Done ends a turn that completed normally.
type Done struct {
	MessagesPersisted int `json:"messages_persisted"`
	RoundTrips        int `json:"round_trips"`
}

// Error ends a turn that aborted.
type Error struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	MessagesPersisted int    `json:"messages_persisted"`
	RoundTrips        int    `json:"round_trips"`
}
