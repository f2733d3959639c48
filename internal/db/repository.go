package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Query filters a Find call. Where holds column equality conditions; Since
// adds "<SinceColumn> >= Since" when SinceColumn is set.
type Query struct {
	Where       map[string]any
	SinceColumn string
	Since       any
	Order       string
	Limit       int
}

// Repository is the narrow data-store surface handed to tool handlers: read
// filtered rows, insert a row, update a row.
type Repository interface {
	Find(ctx context.Context, dest any, q Query) error
	Insert(ctx context.Context, row any) error
	Update(ctx context.Context, row any, fields map[string]any) error
}

// GormRepository implements Repository on a *gorm.DB.
type GormRepository struct {
	db *gorm.DB
}

// NewRepository wraps db as a Repository.
func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Find loads rows matching q into dest, which must be a pointer to a slice.
func (r *GormRepository) Find(ctx context.Context, dest any, q Query) error {
	tx := r.db.WithContext(ctx)
	if len(q.Where) > 0 {
		tx = tx.Where(q.Where)
	}
	if q.SinceColumn != "" {
		tx = tx.Where(fmt.Sprintf("%s >= ?", q.SinceColumn), q.Since)
	}
	if q.Order != "" {
		tx = tx.Order(q.Order)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Find(dest).Error; err != nil {
		return fmt.Errorf("db: find: %w", err)
	}
	return nil
}

// Insert creates row.
func (r *GormRepository) Insert(ctx context.Context, row any) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("db: insert: %w", err)
	}
	return nil
}

// Update sets fields on row, which must carry its primary key.
func (r *GormRepository) Update(ctx context.Context, row any, fields map[string]any) error {
	result := r.db.WithContext(ctx).Model(row).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("db: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("db: update: row not found")
	}
	return nil
}
