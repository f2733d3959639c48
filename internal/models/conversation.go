package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversationStateVersion is the schema version written into every
// ConversationState. Rows carrying any other version are rejected on read.
const ConversationStateVersion = 1

// Pending action kinds.
const (
	PendingPlanConfirmation = "plan_confirmation"
	PendingToolReconfirm    = "tool_reconfirmation"
)

// Conversation is a single ongoing exchange between a user and the assistant.
type Conversation struct {
	ID             string                                `gorm:"primaryKey;size:36"`
	OwnerID        string                                `gorm:"size:64;not null;index"`
	State          datatypes.JSONType[ConversationState] `gorm:"not null"`
	Summary        string                                `gorm:"type:text"`
	SummaryCursor  uint                                  `gorm:"default:0"`
	SummaryVersion int                                   `gorm:"default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

// ConversationState carries cross-turn state. Pending is nil when nothing
// awaits the user.
type ConversationState struct {
	Version int            `json:"version"`
	Pending *PendingAction `json:"pending,omitempty"`
}

// PendingAction is one of the known kinds of user action a conversation can
// be waiting on.
type PendingAction struct {
	Kind      string    `json:"kind"`
	MessageID uint      `json:"message_id,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewConversationState returns an empty state at the current schema version.
func NewConversationState() ConversationState {
	return ConversationState{Version: ConversationStateVersion}
}

// Validate checks the schema version and the pending action shape.
func (s ConversationState) Validate() error {
	if s.Version != ConversationStateVersion {
		return fmt.Errorf("models: unsupported conversation state version %d", s.Version)
	}
	if s.Pending == nil {
		return nil
	}
	switch s.Pending.Kind {
	case PendingPlanConfirmation:
		if s.Pending.MessageID == 0 {
			return fmt.Errorf("models: plan_confirmation requires message_id")
		}
	case PendingToolReconfirm:
		if s.Pending.ToolName == "" {
			return fmt.Errorf("models: tool_reconfirmation requires tool_name")
		}
	default:
		return fmt.Errorf("models: unknown pending action kind %q", s.Pending.Kind)
	}
	return nil
}
