package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/spotter/internal/models"
	"gorm.io/gorm"
)

// ListSince returns the conversation's messages with an ID greater than
// cursor, in causal order.
func (s *Store) ListSince(ctx context.Context, conversationID string, cursor uint) ([]models.Message, error) {
	var msgs []models.Message
	result := s.db.WithContext(ctx).
		Where("conversation_id = ? AND id > ?", conversationID, cursor).
		Order("id ASC").Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("transcript: list %s since %d: %w", conversationID, cursor, result.Error)
	}
	return msgs, nil
}

// Append persists msg and returns its ID. A tool_result is rejected unless
// its tool_call is already stored.
func (s *Store) Append(ctx context.Context, msg *models.Message) (uint, error) {
	if msg.ConversationID == "" {
		return 0, fmt.Errorf("transcript: append: conversation id is required")
	}
	switch msg.Role {
	case models.RoleUser, models.RoleAssistant:
	case models.RoleToolCall:
		if msg.CallID == "" {
			return 0, fmt.Errorf("transcript: append: tool_call requires call id")
		}
	case models.RoleToolResult:
		if msg.CallID == "" {
			return 0, fmt.Errorf("transcript: append: tool_result requires call id")
		}
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ? AND role = ? AND call_id = ?", msg.ConversationID, models.RoleToolCall, msg.CallID).
			Count(&count).Error; err != nil {
			return 0, fmt.Errorf("transcript: append: %w", err)
		}
		if count == 0 {
			return 0, fmt.Errorf("call %s: %w", msg.CallID, ErrOrphanResult)
		}
	default:
		return 0, fmt.Errorf("transcript: append: unknown role %q", msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return 0, fmt.Errorf("transcript: append %s: %w", msg.Role, err)
	}
	return msg.ID, nil
}

// GetMessage loads a single live message.
func (s *Store) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: get message %d: %w", id, err)
	}
	return &msg, nil
}

// UpdateStatus moves a message to a new UI-confirmation status. The update
// is conditional on the current status so concurrent changes cannot skip a
// state. When the message leaves pending, a plan confirmation that points at
// it is cleared from the conversation.
func (s *Store) UpdateStatus(ctx context.Context, messageID uint, status string) error {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !models.CanTransition(msg.Status, status) {
		return fmt.Errorf("message %d %q -> %q: %w", messageID, msg.Status, status, ErrInvalidTransition)
	}
	result := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status = ?", messageID, msg.Status).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("transcript: update status %d: %w", messageID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message %d changed concurrently: %w", messageID, ErrInvalidTransition)
	}
	if msg.Status == models.StatusPending {
		if _, err := s.ClearPending(ctx, msg.ConversationID, models.PendingPlanConfirmation, messageID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// PendingBefore returns pending messages created before cutoff.
func (s *Store) PendingBefore(ctx context.Context, cutoff time.Time) ([]models.Message, error) {
	var msgs []models.Message
	result := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.StatusPending, cutoff).
		Order("id ASC").Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("transcript: pending before %s: %w", cutoff.Format(time.RFC3339), result.Error)
	}
	return msgs, nil
}
