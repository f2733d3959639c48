// Package transcript persists conversations and their messages.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/spotter/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a conversation or message does not exist
	// or has been soft-deleted.
	ErrNotFound = errors.New("transcript: not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("transcript: invalid status transition")
	// ErrOrphanResult is returned when a tool_result is appended before its
	// tool_call.
	ErrOrphanResult = errors.New("transcript: tool_result without prior tool_call")
	// ErrCursorRewind is returned when a checkpoint would move the summary
	// cursor backwards.
	ErrCursorRewind = errors.New("transcript: checkpoint cursor moves backwards")
	// ErrSplitToolPair is returned when a checkpoint cursor would summarize a
	// tool_call while leaving its tool_result after the cursor.
	ErrSplitToolPair = errors.New("transcript: checkpoint splits a tool_call from its tool_result")
)

// Store handles persistence of conversations and transcript messages.
// Messages are append-only; the only mutations are status changes and soft
// deletes.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB  *gorm.DB
	Now func() time.Time // defaults to time.Now
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("transcript: store: db is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: opts.DB, now: now}, nil
}

// CreateConversation starts a new conversation owned by ownerID.
func (s *Store) CreateConversation(ctx context.Context, ownerID string) (*models.Conversation, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("transcript: owner is required")
	}
	conv := models.Conversation{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		State:   datatypes.NewJSONType(models.NewConversationState()),
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("transcript: create conversation: %w", err)
	}
	return &conv, nil
}

// GetConversation loads a live conversation and validates its state.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: get conversation %s: %w", id, err)
	}
	if err := conv.State.Data().Validate(); err != nil {
		return nil, fmt.Errorf("transcript: conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Touch bumps the conversation's updated timestamp.
func (s *Store) Touch(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).Update("updated_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("transcript: touch %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetPending records the action the conversation is waiting on, replacing
// any previous one.
func (s *Store) SetPending(ctx context.Context, id string, action models.PendingAction) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = s.now()
	}
	state := models.NewConversationState()
	state.Pending = &action
	if err := state.Validate(); err != nil {
		return fmt.Errorf("transcript: set pending: %w", err)
	}
	return s.writeState(ctx, id, state)
}

// ClearPending removes the pending action if it is of the given kind. For
// plan confirmations, messageID must also match; pass 0 to match any.
// Returns whether anything was cleared.
func (s *Store) ClearPending(ctx context.Context, id, kind string, messageID uint) (bool, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return false, err
	}
	pending := conv.State.Data().Pending
	if pending == nil || pending.Kind != kind {
		return false, nil
	}
	if messageID != 0 && pending.MessageID != messageID {
		return false, nil
	}
	if err := s.writeState(ctx, id, models.NewConversationState()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) writeState(ctx context.Context, id string, state models.ConversationState) error {
	result := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      datatypes.NewJSONType(state),
			"updated_at": s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("transcript: write state %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// Checkpoint records a summary covering every message up to and including
// throughMessageID. Later input assembly only reads messages after it.
func (s *Store) Checkpoint(ctx context.Context, id, summary string, throughMessageID uint) (*models.Conversation, error) {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if throughMessageID < conv.SummaryCursor {
		return nil, fmt.Errorf("conversation %s: cursor %d < %d: %w", id, throughMessageID, conv.SummaryCursor, ErrCursorRewind)
	}
	if throughMessageID > 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Message{}).
			Where("id = ? AND conversation_id = ?", throughMessageID, id).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("transcript: checkpoint %s: %w", id, err)
		}
		if count == 0 {
			return nil, fmt.Errorf("message %d in conversation %s: %w", throughMessageID, id, ErrNotFound)
		}
		split, err := s.splitResults(ctx, id, throughMessageID)
		if err != nil {
			return nil, fmt.Errorf("transcript: checkpoint %s: %w", id, err)
		}
		if split > 0 {
			return nil, fmt.Errorf("conversation %s: cursor %d leaves %d tool_result(s) without their call: %w", id, throughMessageID, split, ErrSplitToolPair)
		}
	}
	result := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND summary_version = ?", id, conv.SummaryVersion).
		Updates(map[string]any{
			"summary":         summary,
			"summary_cursor":  throughMessageID,
			"summary_version": conv.SummaryVersion + 1,
			"updated_at":      s.now(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("transcript: checkpoint %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("transcript: checkpoint %s: concurrent checkpoint", id)
	}
	return s.GetConversation(ctx, id)
}

// splitResults counts tool_result messages after cursor whose tool_call is
// not also after cursor.
func (s *Store) splitResults(ctx context.Context, id string, cursor uint) (int64, error) {
	calls := s.db.WithContext(ctx).Model(&models.Message{}).Select("call_id").
		Where("conversation_id = ? AND id > ? AND role = ?", id, cursor, models.RoleToolCall)
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND id > ? AND role = ?", id, cursor, models.RoleToolResult).
		Where("call_id NOT IN (?)", calls).
		Count(&n).Error
	return n, err
}

// SoftDelete marks a conversation deleted. Its messages stay in place.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Conversation{})
	if result.Error != nil {
		return fmt.Errorf("transcript: delete %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}
