package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolCall   = "tool_call"
	RoleToolResult = "tool_result"
)

// Message statuses for entries that represent a pending UI action. Ordinary
// messages carry an empty status.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusEdited    = "edited"
	StatusCancelled = "cancelled"
	StatusApplied   = "applied"
)

// Message is one transcript entry. The autoincrement ID is the causal order
// of a conversation.
type Message struct {
	ID             uint           `gorm:"primaryKey;autoIncrement"`
	ConversationID string         `gorm:"size:36;not null;index"`
	Role           string         `gorm:"size:16;not null"`
	Content        string         `gorm:"type:text"`
	CallID         string         `gorm:"size:64;index"`
	ToolName       string         `gorm:"size:64"`
	Payload        datatypes.JSON `gorm:"type:json"`
	Status         string         `gorm:"size:16;index"`
	CreatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

// statusTransitions lists the allowed next statuses for each status.
var statusTransitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusEdited, StatusCancelled},
	StatusConfirmed: {StatusApplied},
	StatusEdited:    {StatusApplied},
}

// CanTransition reports whether a message may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
