package transcript

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/spotter/internal/models"
)

func TestAppend_AssignsOrderedIDs(t *testing.T) {
	s := openTestStore(t)
	conv := createTestConversation(t, s)

	a := appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "a"})
	b := appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Content: "b"})
	if b <= a {
		t.Errorf("ids not increasing: %d then %d", a, b)
	}
}

func TestAppend_Validation(t *testing.T) {
	s := openTestStore(t)
	conv := createTestConversation(t, s)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  models.Message
	}{
		{"missing conversation", models.Message{Role: models.RoleUser}},
		{"unknown role", models.Message{ConversationID: conv.ID, Role: "system"}},
		{"tool_call without call id", models.Message{ConversationID: conv.ID, Role: models.RoleToolCall}},
		{"tool_result without call id", models.Message{ConversationID: conv.ID, Role: models.RoleToolResult}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			if _, err := s.Append(ctx, &msg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAppend_OrphanToolResult(t *testing.T) {
	s := openTestStore(t)
	conv := createTestConversation(t, s)

	msg := models.Message{ConversationID: conv.ID, Role: models.RoleToolResult, CallID: "call-1"}
	_, err := s.Append(context.Background(), &msg)
	if !errors.Is(err, ErrOrphanResult) {
		t.Fatalf("err = %v, want ErrOrphanResult", err)
	}

	appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleToolCall, CallID: "call-1", ToolName: "log_meal"})
	msg = models.Message{ConversationID: conv.ID, Role: models.RoleToolResult, CallID: "call-1", ToolName: "log_meal"}
	if _, err := s.Append(context.Background(), &msg); err != nil {
		t.Fatalf("Append after tool_call: %v", err)
	}
}

func TestAppend_ToolCallInOtherConversationDoesNotCount(t *testing.T) {
	s := openTestStore(t)
	convA := createTestConversation(t, s)
	convB := createTestConversation(t, s)
	appendTestMessage(t, s, models.Message{ConversationID: convA.ID, Role: models.RoleToolCall, CallID: "shared"})

	msg := models.Message{ConversationID: convB.ID, Role: models.RoleToolResult, CallID: "shared"}
	if _, err := s.Append(context.Background(), &msg); !errors.Is(err, ErrOrphanResult) {
		t.Errorf("err = %v, want ErrOrphanResult", err)
	}
}

func TestListSince(t *testing.T) {
	s := openTestStore(t)
	conv := createTestConversation(t, s)
	other := createTestConversation(t, s)

	first := appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "1"})
	appendTestMessage(t, s, models.Message{ConversationID: other.ID, Role: models.RoleUser, Content: "x"})
	appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Content: "2"})
	appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "3"})

	msgs, err := s.ListSince(context.Background(), conv.ID, first)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "2" || msgs[1].Content != "3" {
		t.Errorf("contents = %q, %q; want 2, 3", msgs[0].Content, msgs[1].Content)
	}
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{models.StatusPending, models.StatusConfirmed, true},
		{models.StatusPending, models.StatusEdited, true},
		{models.StatusPending, models.StatusCancelled, true},
		{models.StatusPending, models.StatusApplied, false},
		{models.StatusConfirmed, models.StatusApplied, true},
		{models.StatusEdited, models.StatusApplied, true},
		{models.StatusCancelled, models.StatusApplied, false},
		{models.StatusApplied, models.StatusPending, false},
		{"", models.StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			s := openTestStore(t)
			conv := createTestConversation(t, s)
			id := appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Status: tt.from})

			err := s.UpdateStatus(context.Background(), id, tt.to)
			if tt.ok && err != nil {
				t.Errorf("UpdateStatus: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("err = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestUpdateStatus_ClearsPlanConfirmation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	conv := createTestConversation(t, s)
	appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleToolCall, CallID: "c1", ToolName: "generate_plan"})
	id := appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleToolResult, CallID: "c1", ToolName: "generate_plan", Status: models.StatusPending})
	if err := s.SetPending(ctx, conv.ID, models.PendingAction{Kind: models.PendingPlanConfirmation, MessageID: id}); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	if err := s.UpdateStatus(ctx, id, models.StatusConfirmed); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.State.Data().Pending != nil {
		t.Errorf("Pending = %+v, want cleared", got.State.Data().Pending)
	}
	msg, _ := s.GetMessage(ctx, id)
	if msg.Status != models.StatusConfirmed {
		t.Errorf("Status = %q, want confirmed", msg.Status)
	}
}

func TestUpdateStatus_MissingMessage(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpdateStatus(context.Background(), 404, models.StatusConfirmed); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPendingBefore(t *testing.T) {
	s := openTestStore(t)
	conv := createTestConversation(t, s)
	old := time.Now().Add(-48 * time.Hour)
	appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Status: models.StatusPending, CreatedAt: old})
	appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Status: models.StatusPending})
	appendTestMessage(t, s, models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, Status: models.StatusConfirmed, CreatedAt: old})

	msgs, err := s.PendingBefore(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PendingBefore: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if !msgs[0].CreatedAt.Equal(old) && msgs[0].CreatedAt.Unix() != old.Unix() {
		t.Errorf("CreatedAt = %v, want %v", msgs[0].CreatedAt, old)
	}
}
