package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/models"
	"github.com/zulandar/spotter/internal/schema"
	"gorm.io/datatypes"
)

// Built-in tool names.
const (
	ToolGeneratePlan       = "generate_plan"
	ToolRecentWorkouts     = "get_recent_workouts"
	ToolLogMeal            = "log_meal"
	ToolLogBodyComposition = "log_body_composition"
)

// Builtins are the fitness tools shipped with the assistant.
type Builtins struct {
	now func() time.Time
}

// NewBuiltins creates the built-in tool set. now defaults to time.Now.
func NewBuiltins(now func() time.Time) *Builtins {
	if now == nil {
		now = time.Now
	}
	return &Builtins{now: now}
}

// NewBuiltinRegistry returns a Registry holding every built-in tool.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := NewBuiltins(nil).Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds the built-in tools to r.
func (b *Builtins) Register(r *Registry) error {
	defs := []Tool{
		{
			Name:           ToolGeneratePlan,
			Description:    "Draft a multi-day workout or meal plan for the user to review. The plan is saved as a draft and must be confirmed by the user.",
			Parameters:     planSchema,
			ProgressFields: []string{"kind", "days", "title", "items"},
			Retryable:      true,
			Handler:        HandlerFunc(b.generatePlan),
		},
		{
			Name:        ToolRecentWorkouts,
			Description: "List the user's recently logged workouts, newest first.",
			Parameters:  recentWorkoutsSchema,
			Retryable:   true,
			Handler:     HandlerFunc(b.recentWorkouts),
		},
		{
			Name:        ToolLogMeal,
			Description: "Record a meal with its calories and macronutrients.",
			Parameters:  mealSchema,
			Retryable:   true,
			Handler:     HandlerFunc(b.logMeal),
		},
		{
			Name:        ToolLogBodyComposition,
			Description: "Record a body weight and optional body-fat measurement. Do not retry after a failure without asking the user.",
			Parameters:  bodySchema,
			Retryable:   false,
			Handler:     HandlerFunc(b.logBodyComposition),
		},
	}
	for _, t := range defs {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

var planSchema = &schema.Schema{
	Type: schema.Object,
	Properties: map[string]*schema.Schema{
		"kind":  {Type: schema.String, Description: "Plan type.", Enum: []any{"workout", "meal"}},
		"days":  {Type: schema.Integer, Description: "Number of days covered.", Minimum: schema.Float(1), Maximum: schema.Float(28)},
		"title": {Type: schema.String, Description: "Short plan title."},
		"items": {
			Type:        schema.Array,
			Description: "One entry per scheduled session or meal.",
			Items: &schema.Schema{
				Type: schema.Object,
				Properties: map[string]*schema.Schema{
					"day":    {Type: schema.Integer, Minimum: schema.Float(1)},
					"name":   {Type: schema.String},
					"detail": {Type: schema.String},
				},
				Required: []string{"day", "name"},
			},
		},
	},
	Required: []string{"kind", "days", "items"},
}

var recentWorkoutsSchema = &schema.Schema{
	Type: schema.Object,
	Properties: map[string]*schema.Schema{
		"days":  {Type: schema.Integer, Description: "Look-back window in days.", Minimum: schema.Float(1), Maximum: schema.Float(90)},
		"limit": {Type: schema.Integer, Description: "Maximum rows returned.", Minimum: schema.Float(1), Maximum: schema.Float(50)},
	},
}

var mealSchema = &schema.Schema{
	Type: schema.Object,
	Properties: map[string]*schema.Schema{
		"name":      {Type: schema.String},
		"calories":  {Type: schema.Integer, Minimum: schema.Float(0)},
		"protein_g": {Type: schema.Number, Minimum: schema.Float(0)},
		"carbs_g":   {Type: schema.Number, Minimum: schema.Float(0)},
		"fat_g":     {Type: schema.Number, Minimum: schema.Float(0)},
		"eaten_at":  {Type: schema.String, Description: "RFC 3339 timestamp; defaults to now."},
	},
	Required: []string{"name", "calories"},
}

var bodySchema = &schema.Schema{
	Type: schema.Object,
	Properties: map[string]*schema.Schema{
		"weight_kg":    {Type: schema.Number, Minimum: schema.Float(20), Maximum: schema.Float(400)},
		"body_fat_pct": {Type: schema.Number, Minimum: schema.Float(2), Maximum: schema.Float(70)},
		"measured_at":  {Type: schema.String, Description: "RFC 3339 timestamp; defaults to now."},
	},
	Required: []string{"weight_kg"},
}

type planItem struct {
	Day    int    `json:"day"`
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

type planArgs struct {
	Kind  string     `json:"kind"`
	Days  int        `json:"days"`
	Title string     `json:"title"`
	Items []planItem `json:"items"`
}

func (b *Builtins) generatePlan(ctx context.Context, ec ExecContext, raw json.RawMessage) (Outcome, error) {
	var args planArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Outcome{}, fmt.Errorf("decode arguments: %w", err)
	}
	if len(args.Items) == 0 {
		return Failure("a plan needs at least one item"), nil
	}
	for _, it := range args.Items {
		if it.Day > args.Days {
			return Failure("item %q is scheduled on day %d of a %d-day plan", it.Name, it.Day, args.Days), nil
		}
	}
	title := args.Title
	if title == "" {
		title = fmt.Sprintf("%d-day %s plan", args.Days, args.Kind)
	}
	items, err := json.Marshal(args.Items)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode items: %w", err)
	}

	plan := models.Plan{
		UserID:         ec.UserID,
		ConversationID: ec.ConversationID,
		Kind:           args.Kind,
		Title:          title,
		Days:           args.Days,
		Items:          datatypes.JSON(items),
		Status:         "draft",
	}
	if err := ec.Repo.Insert(ctx, &plan); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Success: true,
		Data: map[string]any{
			"plan_id": plan.ID,
			"kind":    plan.Kind,
			"title":   plan.Title,
			"days":    plan.Days,
			"items":   len(args.Items),
		},
		RequiresConfirmation: true,
	}, nil
}

type workoutView struct {
	Activity    string    `json:"activity"`
	DurationMin int       `json:"duration_min"`
	Calories    int       `json:"calories"`
	PerformedAt time.Time `json:"performed_at"`
}

func (b *Builtins) recentWorkouts(ctx context.Context, ec ExecContext, raw json.RawMessage) (Outcome, error) {
	args := struct {
		Days  int `json:"days"`
		Limit int `json:"limit"`
	}{Days: 7, Limit: 20}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Outcome{}, fmt.Errorf("decode arguments: %w", err)
	}

	var rows []models.WorkoutLog
	err := ec.Repo.Find(ctx, &rows, db.Query{
		Where:       map[string]any{"user_id": ec.UserID},
		SinceColumn: "performed_at",
		Since:       b.now().AddDate(0, 0, -args.Days),
		Order:       "performed_at DESC",
		Limit:       args.Limit,
	})
	if err != nil {
		return Outcome{}, err
	}
	views := make([]workoutView, len(rows))
	for i, w := range rows {
		views[i] = workoutView{
			Activity:    w.Activity,
			DurationMin: w.DurationMin,
			Calories:    w.Calories,
			PerformedAt: w.PerformedAt,
		}
	}
	return Outcome{
		Success: true,
		Data:    map[string]any{"days": args.Days, "count": len(views), "workouts": views},
	}, nil
}

func (b *Builtins) logMeal(ctx context.Context, ec ExecContext, raw json.RawMessage) (Outcome, error) {
	var args struct {
		Name     string  `json:"name"`
		Calories int     `json:"calories"`
		ProteinG float64 `json:"protein_g"`
		CarbsG   float64 `json:"carbs_g"`
		FatG     float64 `json:"fat_g"`
		EatenAt  string  `json:"eaten_at"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Outcome{}, fmt.Errorf("decode arguments: %w", err)
	}
	eatenAt, ok := b.timestamp(args.EatenAt)
	if !ok {
		return Failure("eaten_at %q is not an RFC 3339 timestamp", args.EatenAt), nil
	}

	meal := models.MealLog{
		UserID:   ec.UserID,
		Name:     args.Name,
		Calories: args.Calories,
		ProteinG: args.ProteinG,
		CarbsG:   args.CarbsG,
		FatG:     args.FatG,
		EatenAt:  eatenAt,
	}
	if err := ec.Repo.Insert(ctx, &meal); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Success: true,
		Data:    map[string]any{"meal_id": meal.ID, "calories": meal.Calories},
	}, nil
}

func (b *Builtins) logBodyComposition(ctx context.Context, ec ExecContext, raw json.RawMessage) (Outcome, error) {
	var args struct {
		WeightKg   float64  `json:"weight_kg"`
		BodyFatPct *float64 `json:"body_fat_pct"`
		MeasuredAt string   `json:"measured_at"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return Outcome{}, fmt.Errorf("decode arguments: %w", err)
	}
	measuredAt, ok := b.timestamp(args.MeasuredAt)
	if !ok {
		return Failure("measured_at %q is not an RFC 3339 timestamp", args.MeasuredAt), nil
	}
	if measuredAt.After(b.now()) {
		return Failure("measured_at is in the future"), nil
	}

	rec := models.BodyRecord{
		UserID:     ec.UserID,
		WeightKg:   args.WeightKg,
		BodyFatPct: args.BodyFatPct,
		MeasuredAt: measuredAt,
	}
	if err := ec.Repo.Insert(ctx, &rec); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Success: true,
		Data:    map[string]any{"record_id": rec.ID, "weight_kg": rec.WeightKg},
	}, nil
}

// timestamp parses an optional RFC 3339 value, defaulting to now.
func (b *Builtins) timestamp(s string) (time.Time, bool) {
	if s == "" {
		return b.now(), true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
