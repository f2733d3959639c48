package models

import (
	"time"

	"gorm.io/datatypes"
)

// WorkoutLog is a completed workout recorded by a user.
type WorkoutLog struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"size:64;not null;index"`
	Activity    string `gorm:"size:64;not null"`
	DurationMin int
	Calories    int
	PerformedAt time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// MealLog is a meal entry with its macro breakdown.
type MealLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:64;not null;index"`
	Name      string `gorm:"size:128;not null"`
	Calories  int
	ProteinG  float64
	CarbsG    float64
	FatG      float64
	EatenAt   time.Time `gorm:"index"`
	CreatedAt time.Time
}

// BodyRecord is a body-composition measurement.
type BodyRecord struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	UserID     string  `gorm:"size:64;not null;index"`
	WeightKg   float64 `gorm:"not null"`
	BodyFatPct *float64
	MeasuredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// Plan is a drafted workout or meal plan proposed by the assistant.
type Plan struct {
	ID             uint           `gorm:"primaryKey;autoIncrement"`
	UserID         string         `gorm:"size:64;not null;index"`
	ConversationID string         `gorm:"size:36;index"`
	Kind           string         `gorm:"size:16;not null"` // "workout" or "meal"
	Title          string         `gorm:"size:128"`
	Days           int            `gorm:"not null"`
	Items          datatypes.JSON `gorm:"type:json"`
	Status         string         `gorm:"size:16;default:draft"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
