package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/spotter/internal/config"
	"github.com/zulandar/spotter/internal/models"
	"gorm.io/gorm"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want []string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, Name: "spotter", User: "root"},
			want: []string{"root@tcp(127.0.0.1:3306)/spotter", "parseTime=true"},
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{Host: "db.internal", Port: 3307, Name: "spotter_prod", User: "app", Password: "pw"},
			want: []string{"app:pw@tcp(db.internal:3307)/spotter_prod"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("DSN() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConnect_SQLiteFile(t *testing.T) {
	path := t.TempDir() + "/spotter.db"
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 6 {
		t.Errorf("len(AllModels()) = %d, want 6", got)
	}
}

func openRepo(t *testing.T) (*gorm.DB, *GormRepository) {
	t.Helper()
	gdb, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	return gdb, NewRepository(gdb)
}

func TestRepository_InsertAndFind(t *testing.T) {
	_, repo := openRepo(t)
	ctx := context.Background()
	now := time.Now()

	rows := []models.WorkoutLog{
		{UserID: "u1", Activity: "run", DurationMin: 30, PerformedAt: now.Add(-48 * time.Hour)},
		{UserID: "u1", Activity: "swim", DurationMin: 45, PerformedAt: now.Add(-2 * time.Hour)},
		{UserID: "u2", Activity: "row", DurationMin: 20, PerformedAt: now.Add(-1 * time.Hour)},
	}
	for i := range rows {
		if err := repo.Insert(ctx, &rows[i]); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	var got []models.WorkoutLog
	err := repo.Find(ctx, &got, Query{
		Where:       map[string]any{"user_id": "u1"},
		SinceColumn: "performed_at",
		Since:       now.Add(-24 * time.Hour),
		Order:       "performed_at DESC",
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0].Activity != "swim" {
		t.Errorf("Find = %+v, want only swim", got)
	}
}

func TestRepository_FindLimit(t *testing.T) {
	_, repo := openRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := repo.Insert(ctx, &models.MealLog{UserID: "u1", Name: "oats", EatenAt: time.Now()}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	var got []models.MealLog
	if err := repo.Find(ctx, &got, Query{Limit: 3}); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestRepository_Update(t *testing.T) {
	gdb, repo := openRepo(t)
	ctx := context.Background()
	plan := models.Plan{UserID: "u1", Kind: "workout", Days: 7, Status: "draft"}
	if err := repo.Insert(ctx, &plan); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Update(ctx, &plan, map[string]any{"status": "applied"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	var reloaded models.Plan
	gdb.First(&reloaded, plan.ID)
	if reloaded.Status != "applied" {
		t.Errorf("Status = %q, want applied", reloaded.Status)
	}
}

func TestRepository_UpdateMissingRow(t *testing.T) {
	_, repo := openRepo(t)
	err := repo.Update(context.Background(), &models.Plan{ID: 999}, map[string]any{"status": "applied"})
	if err == nil {
		t.Fatal("expected error for missing row")
	}
	if !strings.Contains(err.Error(), "row not found") {
		t.Errorf("error = %q", err.Error())
	}
}
