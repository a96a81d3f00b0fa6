package enrollment

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sirbramstech/campus-backend/pkg/db/models"
	"github.com/sirbramstech/campus-backend/pkg/enums"
	"github.com/sirbramstech/campus-backend/pkg/pagination"
)

// ErrAlreadyPaid marks an upsert refused because the existing enrollment
// already reflects a confirmed payment.
var ErrAlreadyPaid = errors.New("enrollment already paid")

// Repository defines persistence for enrollments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertInitiated(ctx context.Context, enrollment *models.Enrollment) (*models.Enrollment, error)
	FindByID(ctx context.Context, id int64) (*models.Enrollment, error)
	FindByStudentAndCourse(ctx context.Context, studentID, courseID int64) (*models.Enrollment, error)
	FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Enrollment, error)
	MarkPaid(ctx context.Context, checkoutID, transactionCode string) (*models.Enrollment, bool, error)
	Decide(ctx context.Context, id int64, decision enums.EnrollmentStatus) (bool, error)
	List(ctx context.Context, params ListParams) ([]models.Enrollment, *pagination.Cursor, error)
	ListPaidByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error)
}

// ListParams describe the admin listing filters.
type ListParams struct {
	Status *enums.EnrollmentStatus
	Limit  int
	Cursor *pagination.Cursor
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// UpsertInitiated creates or refreshes the (student, course) row for a new
// payment attempt. The conflict clause carries the guard that a row holding a
// confirmed payment is never overwritten, so concurrent initiations cannot
// regress a paid enrollment even when the pre-check raced.
func (r *repositoryImpl) UpsertInitiated(ctx context.Context, enrollment *models.Enrollment) (*models.Enrollment, error) {
	enrollment.Status = enums.EnrollmentStatusInitiated

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"student_name", "course_title", "course_code", "mentor_name",
			"amount", "duration",
			"merchant_request_id", "checkout_request_id", "transaction_code",
			"status", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "enrollments.status NOT IN (?, ?)", Vars: []any{
				string(enums.EnrollmentStatusPaidPending),
				string(enums.EnrollmentStatusApproved),
			}},
		}},
	}).Create(enrollment)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyPaid
	}

	// Re-read so retries that hit the update path return the persisted row.
	return r.FindByStudentAndCourse(ctx, enrollment.StudentID, enrollment.CourseID)
}

func (r *repositoryImpl) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := r.db.WithContext(ctx).First(&enrollment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *repositoryImpl) FindByStudentAndCourse(ctx context.Context, studentID, courseID int64) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		First(&enrollment, "student_id = ? AND course_id = ?", studentID, courseID).
		Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *repositoryImpl) FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		First(&enrollment, "checkout_request_id = ?", checkoutID).
		Error
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// MarkPaid promotes the initiated attempt identified by checkoutID to
// paid_pending_approval and stamps the provider receipt. The status guard in
// the WHERE clause makes callback replays no-ops: the second return is false
// when no row moved. A replay that carries a receipt the promotion missed
// (the reconciler promotes without one) backfills it without re-transitioning.
func (r *repositoryImpl) MarkPaid(ctx context.Context, checkoutID, transactionCode string) (*models.Enrollment, bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("checkout_request_id = ? AND status = ?", checkoutID, enums.EnrollmentStatusInitiated).
		Updates(map[string]any{
			"status":           enums.EnrollmentStatusPaidPending,
			"transaction_code": transactionCode,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, false, result.Error
	}

	if result.RowsAffected == 0 && transactionCode != "" {
		backfill := r.db.WithContext(ctx).
			Model(&models.Enrollment{}).
			Where("checkout_request_id = ? AND status IN (?, ?) AND (transaction_code IS NULL OR transaction_code = '')",
				checkoutID, enums.EnrollmentStatusPaidPending, enums.EnrollmentStatusApproved).
			Updates(map[string]any{
				"transaction_code": transactionCode,
				"updated_at":       time.Now().UTC(),
			})
		if backfill.Error != nil {
			return nil, false, backfill.Error
		}
	}

	enrollment, err := r.FindByCheckoutID(ctx, checkoutID)
	if err != nil {
		return nil, false, err
	}
	return enrollment, result.RowsAffected > 0, nil
}

// Decide finalizes the mentor decision. Only rows still awaiting a decision
// move; the boolean reports whether the transition happened.
func (r *repositoryImpl) Decide(ctx context.Context, id int64, decision enums.EnrollmentStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", id, enums.EnrollmentStatusPaidPending).
		Updates(map[string]any{
			"status":     decision,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) List(ctx context.Context, params ListParams) ([]models.Enrollment, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.Enrollment{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var enrollments []models.Enrollment
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&enrollments).Error; err != nil {
		return nil, nil, err
	}

	if len(enrollments) > normalized {
		next := enrollments[normalized]
		enrollments = enrollments[:normalized]
		return enrollments, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return enrollments, nil, nil
}

// ListPaidByStudent returns the student's confirmed enrollments, newest first.
func (r *repositoryImpl) ListPaidByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND status IN (?, ?)",
			studentID, enums.EnrollmentStatusPaidPending, enums.EnrollmentStatusApproved).
		Order("created_at DESC, id DESC").
		Find(&enrollments).
		Error
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}
