package student

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sirbramstech/campus-backend/pkg/db/models"
	"github.com/sirbramstech/campus-backend/pkg/enums"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
)

// Repository exposes the member reads the payment pipeline needs.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindStudentByID loads a member and verifies they hold the student role.
func (r *Repository) FindStudentByID(ctx context.Context, id int64) (*models.Member, error) {
	var member models.Member
	if err := r.db.WithContext(ctx).First(&member, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading student")
	}
	if member.Role != enums.MemberRoleStudent {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
	}
	return &member, nil
}
