// Package progress tracks streamed tool-call arguments. It reports which
// declared top-level fields have finished arriving without needing the
// buffer to be complete JSON, and performs the strict parse once the call
// ends.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/spotter/internal/schema"
)

// DefaultMaxBytes caps the argument buffer of a single call.
const DefaultMaxBytes = 1 << 20

// Spec declares, per tool, the fields to report progress on and the
// validator enforced at Finalize.
type Spec struct {
	Fields    []string
	Validator *schema.Validator
}

// Milestone is the coarse progress of one call. It never carries the
// argument text itself.
type Milestone struct {
	CallID string   `json:"call_id"`
	Tool   string   `json:"tool"`
	Closed []string `json:"fields_closed"`
	Done   int      `json:"done"`
	Total  int      `json:"total"`
	Bytes  int      `json:"bytes"`
	Label  string   `json:"label"`
}

// ArgumentParseError reports arguments that failed the strict parse or
// schema validation at Finalize.
type ArgumentParseError struct {
	CallID     string
	Tool       string
	Raw        string
	Reason     string
	Violations []schema.Violation
}

func (e *ArgumentParseError) Error() string {
	return fmt.Sprintf("progress: arguments for %s (%s): %s", e.Tool, e.CallID, e.Reason)
}

// Tracker holds argument state for the calls of a single orchestration run.
// It is not safe for concurrent use.
type Tracker struct {
	specs    map[string]Spec
	calls    map[string]*callState
	maxBytes int
}

// NewTracker creates a Tracker for the given per-tool specs.
func NewTracker(specs map[string]Spec) *Tracker {
	return &Tracker{
		specs:    specs,
		calls:    make(map[string]*callState),
		maxBytes: DefaultMaxBytes,
	}
}

// SetMaxBytes overrides the per-call buffer cap.
func (t *Tracker) SetMaxBytes(n int) {
	if n > 0 {
		t.maxBytes = n
	}
}

// Begin starts tracking a call. Beginning an already tracked call resets it.
func (t *Tracker) Begin(callID, tool string) {
	t.calls[callID] = &callState{tool: tool}
}

// Feed appends fragment to the call's buffer and returns its progress. An
// unknown call is begun implicitly with an empty tool name. Feed never
// fails: malformed input only stops progress from advancing.
func (t *Tracker) Feed(callID, fragment string) Milestone {
	st, ok := t.calls[callID]
	if !ok {
		st = &callState{}
		t.calls[callID] = st
	}
	if st.overflow || st.buf.Len()+len(fragment) > t.maxBytes {
		st.overflow = true
		return t.milestone(callID, st)
	}
	st.buf.WriteString(fragment)
	for i := 0; i < len(fragment); i++ {
		st.scan(fragment[i])
	}
	return t.milestone(callID, st)
}

// Raw returns the text accumulated so far for a call.
func (t *Tracker) Raw(callID string) string {
	if st, ok := t.calls[callID]; ok {
		return st.buf.String()
	}
	return ""
}

// Finalize strictly parses and validates the call's arguments and stops
// tracking it. An empty buffer is treated as an empty object.
func (t *Tracker) Finalize(callID string) (json.RawMessage, error) {
	st, ok := t.calls[callID]
	if !ok {
		return nil, &ArgumentParseError{CallID: callID, Reason: "call was never started"}
	}
	delete(t.calls, callID)

	raw := strings.TrimSpace(st.buf.String())
	perr := &ArgumentParseError{CallID: callID, Tool: st.tool, Raw: st.buf.String()}
	if st.overflow {
		perr.Reason = fmt.Sprintf("arguments exceed %d bytes", t.maxBytes)
		return nil, perr
	}
	if raw == "" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		perr.Reason = "invalid JSON"
		return nil, perr
	}

	spec, ok := t.specs[st.tool]
	if !ok || spec.Validator == nil {
		return json.RawMessage(raw), nil
	}
	if err := spec.Validator.Validate([]byte(raw)); err != nil {
		perr.Reason = err.Error()
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			perr.Reason = "schema validation failed"
			perr.Violations = verr.Violations
		}
		return nil, perr
	}
	return json.RawMessage(raw), nil
}

// Discard stops tracking a call without parsing it.
func (t *Tracker) Discard(callID string) {
	delete(t.calls, callID)
}

// Active returns the number of calls currently tracked.
func (t *Tracker) Active() int {
	return len(t.calls)
}

func (t *Tracker) milestone(callID string, st *callState) Milestone {
	m := Milestone{CallID: callID, Tool: st.tool, Bytes: st.buf.Len(), Closed: []string{}}
	declared := t.specs[st.tool].Fields
	if len(declared) == 0 {
		m.Closed = append(m.Closed, st.closed...)
		m.Done = len(st.closed)
		m.Label = fmt.Sprintf("%d fields parsed", m.Done)
		return m
	}
	for _, f := range declared {
		if st.isClosed(f) {
			m.Closed = append(m.Closed, f)
		}
	}
	m.Done = len(m.Closed)
	m.Total = len(declared)
	m.Label = fmt.Sprintf("%d of %d fields parsed", m.Done, m.Total)
	return m
}
