package course

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sirbramstech/campus-backend/pkg/db/models"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
)

// Repository exposes the course reads the payment pipeline needs.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID loads the course with its mentor preloaded so callers can
// snapshot the mentor name without a second query.
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.Course, error) {
	var course models.Course
	if err := r.db.WithContext(ctx).Preload("Mentor").First(&course, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading course")
	}
	return &course, nil
}
