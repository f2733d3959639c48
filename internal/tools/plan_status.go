package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/models"
)

// planStatuses maps a confirmation status of a generate_plan result onto
// the plan row.
var planStatuses = map[string]string{
	models.StatusConfirmed: "confirmed",
	models.StatusEdited:    "edited",
	models.StatusCancelled: "cancelled",
	models.StatusApplied:   "active",
}

// SyncPlanStatus copies the status of a generate_plan tool result onto the
// plan it drafted. Messages from other tools are ignored.
func SyncPlanStatus(ctx context.Context, repo db.Repository, msg *models.Message) error {
	if msg.Role != models.RoleToolResult || msg.ToolName != ToolGeneratePlan {
		return nil
	}
	status, ok := planStatuses[msg.Status]
	if !ok {
		return nil
	}
	var out struct {
		Data struct {
			PlanID uint `json:"plan_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return fmt.Errorf("tools: plan status for message %d: %w", msg.ID, err)
	}
	if out.Data.PlanID == 0 {
		return nil
	}
	return repo.Update(ctx, &models.Plan{ID: out.Data.PlanID}, map[string]any{"status": status})
}
