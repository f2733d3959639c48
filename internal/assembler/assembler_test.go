package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/models"
	"github.com/zulandar/spotter/internal/provider"
	"github.com/zulandar/spotter/internal/transcript"
	"gorm.io/datatypes"
)

type fakeSource struct {
	msgs []models.Message
	err  error
}

func (f *fakeSource) ListSince(ctx context.Context, conversationID string, cursor uint) ([]models.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Message
	for _, m := range f.msgs {
		if m.ConversationID == conversationID && m.ID > cursor {
			out = append(out, m)
		}
	}
	return out, nil
}

func msg(id uint, role, content string) models.Message {
	return models.Message{ID: id, ConversationID: "c1", Role: role, Content: content}
}

func call(id uint, callID, name, args string) models.Message {
	return models.Message{ID: id, ConversationID: "c1", Role: models.RoleToolCall, CallID: callID, ToolName: name, Payload: datatypes.JSON(args)}
}

func result(id uint, callID, name, payload string) models.Message {
	return models.Message{ID: id, ConversationID: "c1", Role: models.RoleToolResult, CallID: callID, ToolName: name, Payload: datatypes.JSON(payload)}
}

func TestBuildInput_MapsWindow(t *testing.T) {
	src := &fakeSource{msgs: []models.Message{
		msg(1, models.RoleUser, "old question"),
		msg(2, models.RoleAssistant, "old answer"),
		msg(3, models.RoleUser, "plan please"),
		msg(4, models.RoleAssistant, "Checking your history."),
		call(5, "a", "get_recent_workouts", `{}`),
		call(6, "b", "log_meal", `{"name":"oats","calories":300}`),
		result(7, "a", "get_recent_workouts", `{"success":true}`),
		result(8, "b", "log_meal", `{"success":false,"error":"nope"}`),
		msg(9, models.RoleAssistant, "Here is the plan."),
		msg(10, models.RoleUser, "thanks"),
	}}
	conv := &models.Conversation{ID: "c1", Summary: "User trains for a 10k.", SummaryCursor: 2}

	turns, err := New(src).BuildInput(context.Background(), conv, NewUserTurn{MessageID: 10, Text: "thanks"})
	if err != nil {
		t.Fatalf("BuildInput: %v", err)
	}

	want := []provider.Turn{
		{Role: provider.RoleSystem, Text: "User trains for a 10k."},
		{Role: provider.RoleUser, Text: "plan please"},
		{Role: provider.RoleModel, Text: "Checking your history.", Calls: []provider.FunctionCall{
			{ID: "a", Name: "get_recent_workouts", Arguments: json.RawMessage(`{}`)},
			{ID: "b", Name: "log_meal", Arguments: json.RawMessage(`{"name":"oats","calories":300}`)},
		}},
		{Role: provider.RoleTool, Results: []provider.FunctionResult{
			{ID: "a", Name: "get_recent_workouts", Response: json.RawMessage(`{"success":true}`)},
			{ID: "b", Name: "log_meal", Response: json.RawMessage(`{"success":false,"error":"nope"}`)},
		}},
		{Role: provider.RoleModel, Text: "Here is the plan."},
		{Role: provider.RoleUser, Text: "thanks"},
	}
	if diff := cmp.Diff(want, turns); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildInput_NoSummary(t *testing.T) {
	src := &fakeSource{}
	conv := &models.Conversation{ID: "c1"}
	turns, err := New(src).BuildInput(context.Background(), conv, NewUserTurn{Text: "hi"})
	if err != nil {
		t.Fatalf("BuildInput: %v", err)
	}
	want := []provider.Turn{{Role: provider.RoleUser, Text: "hi"}}
	if diff := cmp.Diff(want, turns); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildInput_OrphanResult(t *testing.T) {
	src := &fakeSource{msgs: []models.Message{
		msg(1, models.RoleUser, "q"),
		result(2, "ghost", "log_meal", `{"success":true}`),
		call(3, "ghost", "log_meal", `{}`),
	}}
	_, err := New(src).BuildInput(context.Background(), &models.Conversation{ID: "c1"}, NewUserTurn{Text: "next"})
	var aerr *AssemblyError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want AssemblyError", err)
	}
	if aerr.CallID != "ghost" || aerr.MessageID != 2 {
		t.Errorf("AssemblyError = %+v", aerr)
	}
}

// A call that sits before the summary cursor is outside the window, so its
// result cannot be paired.
func TestBuildInput_CursorSplitsPair(t *testing.T) {
	src := &fakeSource{msgs: []models.Message{
		call(1, "a", "log_meal", `{}`),
		result(2, "a", "log_meal", `{"success":true}`),
	}}
	conv := &models.Conversation{ID: "c1", SummaryCursor: 1}
	_, err := New(src).BuildInput(context.Background(), conv, NewUserTurn{Text: "x"})
	var aerr *AssemblyError
	if !errors.As(err, &aerr) {
		t.Fatalf("err = %v, want AssemblyError", err)
	}
}

func TestBuildInput_SourceError(t *testing.T) {
	boom := errors.New("db down")
	_, err := New(&fakeSource{err: boom}).BuildInput(context.Background(), &models.Conversation{ID: "c1"}, NewUserTurn{Text: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped source error", err)
	}
}

func TestAppend_UsesCallsFromEarlierTurns(t *testing.T) {
	turns := []provider.Turn{
		{Role: provider.RoleUser, Text: "q"},
		{Role: provider.RoleModel, Calls: []provider.FunctionCall{{ID: "a", Name: "log_meal"}}},
	}
	got, err := Append(turns, []models.Message{result(5, "a", "log_meal", `{"success":true}`)})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(got) != 3 || got[2].Role != provider.RoleTool {
		t.Errorf("turns = %+v", got)
	}
}

func TestAppend_TextAfterCallsJoinsCallTurn(t *testing.T) {
	msgs := []models.Message{
		msg(1, models.RoleUser, "log oats"),
		msg(2, models.RoleAssistant, "On it."),
		call(3, "a", "log_meal", `{"name":"oats","calories":300}`),
		msg(4, models.RoleAssistant, "Logged it."),
		result(5, "a", "log_meal", `{"success":true}`),
		msg(6, models.RoleAssistant, "Anything else?"),
	}
	got, err := Append(nil, msgs)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	want := []provider.Turn{
		{Role: provider.RoleUser, Text: "log oats"},
		{Role: provider.RoleModel, Text: "On it.\n\nLogged it.", Calls: []provider.FunctionCall{
			{ID: "a", Name: "log_meal", Arguments: json.RawMessage(`{"name":"oats","calories":300}`)},
		}},
		{Role: provider.RoleTool, Results: []provider.FunctionResult{
			{ID: "a", Name: "log_meal", Response: json.RawMessage(`{"success":true}`)},
		}},
		{Role: provider.RoleModel, Text: "Anything else?"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}

func TestAppend_InvalidArgumentsFallBackToRaw(t *testing.T) {
	m := models.Message{ID: 1, ConversationID: "c1", Role: models.RoleToolCall, CallID: "a", ToolName: "log_meal", Content: `{"name":`}
	got, err := Append(nil, []models.Message{m})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if string(got[0].Calls[0].Arguments) != `{"name":` {
		t.Errorf("Arguments = %s", got[0].Calls[0].Arguments)
	}
}

func TestAppend_ResultWithoutPayload(t *testing.T) {
	turns := []provider.Turn{{Role: provider.RoleModel, Calls: []provider.FunctionCall{{ID: "a"}}}}
	m := models.Message{ID: 2, ConversationID: "c1", Role: models.RoleToolResult, CallID: "a", Content: "done"}
	got, err := Append(turns, []models.Message{m})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if string(got[1].Results[0].Response) != `{"output":"done"}` {
		t.Errorf("Response = %s", got[1].Results[0].Response)
	}
}

// BuildInput over a real store skips the already persisted user message.
func TestBuildInput_WithStore(t *testing.T) {
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	store, err := transcript.NewStore(transcript.StoreOpts{DB: gdb})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()
	conv, err := store.CreateConversation(ctx, "u1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for _, m := range []models.Message{
		{ConversationID: conv.ID, Role: models.RoleUser, Content: "first"},
		{ConversationID: conv.ID, Role: models.RoleAssistant, Content: "reply"},
	} {
		m := m
		if _, err := store.Append(ctx, &m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	userMsg := models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "second"}
	id, err := store.Append(ctx, &userMsg)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	turns, err := New(store).BuildInput(ctx, conv, NewUserTurn{MessageID: id, Text: "second"})
	if err != nil {
		t.Fatalf("BuildInput: %v", err)
	}
	want := []provider.Turn{
		{Role: provider.RoleUser, Text: "first"},
		{Role: provider.RoleModel, Text: "reply"},
		{Role: provider.RoleUser, Text: "second"},
	}
	if diff := cmp.Diff(want, turns); diff != "" {
		t.Errorf("turns mismatch (-want +got):\n%s", diff)
	}
}
