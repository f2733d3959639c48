package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/models"
)

func TestSyncPlanStatus(t *testing.T) {
	d, ec, repo := openBuiltinTest(t)
	ctx := context.Background()
	out, err := d.Execute(ctx, ToolGeneratePlan, json.RawMessage(`{"kind":"meal","days":1,"items":[{"day":1,"name":"Oats"}]}`), ec)
	if err != nil || !out.Success {
		t.Fatalf("Execute: %+v, %v", out, err)
	}

	msg := &models.Message{ID: 9, Role: models.RoleToolResult, ToolName: ToolGeneratePlan, Payload: []byte(out.JSON()), Status: models.StatusApplied}
	if err := SyncPlanStatus(ctx, repo, msg); err != nil {
		t.Fatalf("SyncPlanStatus: %v", err)
	}
	var plans []models.Plan
	if err := repo.Find(ctx, &plans, db.Query{}); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(plans) != 1 || plans[0].Status != "active" {
		t.Errorf("plans = %+v", plans)
	}
}

func TestSyncPlanStatus_IgnoresOtherMessages(t *testing.T) {
	_, _, repo := openBuiltinTest(t)
	msgs := []*models.Message{
		{Role: models.RoleToolResult, ToolName: ToolLogMeal, Status: models.StatusConfirmed, Payload: []byte(`{}`)},
		{Role: models.RoleAssistant, ToolName: ToolGeneratePlan, Status: models.StatusConfirmed},
		{Role: models.RoleToolResult, ToolName: ToolGeneratePlan, Status: models.StatusPending, Payload: []byte(`{}`)},
		{Role: models.RoleToolResult, ToolName: ToolGeneratePlan, Status: models.StatusConfirmed, Payload: []byte(`{"success":false}`)},
	}
	for i, m := range msgs {
		if err := SyncPlanStatus(context.Background(), repo, m); err != nil {
			t.Errorf("message %d: %v", i, err)
		}
	}
}
