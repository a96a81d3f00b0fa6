package enrollment

import (
	"context"
	"errors"

	"gorm.io/gorm"

	notification "github.com/sirbramstech/campus-backend/internal/notifications"
	"github.com/sirbramstech/campus-backend/pkg/db/models"
	"github.com/sirbramstech/campus-backend/pkg/enums"
	pkgerrors "github.com/sirbramstech/campus-backend/pkg/errors"
	"github.com/sirbramstech/campus-backend/pkg/logger"
	"github.com/sirbramstech/campus-backend/pkg/pagination"
)

// StudentDirectory resolves the student behind an enrollment, used to address
// notification emails.
type StudentDirectory interface {
	FindStudentByID(ctx context.Context, id int64) (*models.Member, error)
}

// Service defines the mentor approval workflow and enrollment reads.
type Service interface {
	Approve(ctx context.Context, enrollmentID int64) (*models.Enrollment, error)
	Reject(ctx context.Context, enrollmentID int64) (*models.Enrollment, error)
	List(ctx context.Context, input ListInput) (*ListResult, error)
	StudentCourses(ctx context.Context, studentID int64) ([]models.Enrollment, error)
	Receipt(ctx context.Context, enrollmentID int64) (*ReceiptView, error)
}

// ListInput configures the admin enrollment listing.
type ListInput struct {
	Status string
	Limit  int
	Cursor string
}

// ListResult wraps returned enrollments and the cursor for the next page.
type ListResult struct {
	Items  []models.Enrollment `json:"items"`
	Cursor string              `json:"cursor"`
}

// ReceiptView is the payment receipt derived from enrollment snapshots.
type ReceiptView struct {
	EnrollmentID    int64                  `json:"enrollment_id"`
	StudentName     string                 `json:"student_name"`
	CourseTitle     string                 `json:"course_title"`
	CourseCode      string                 `json:"course_code"`
	MentorName      string                 `json:"mentor_name"`
	Amount          string                 `json:"amount"`
	Duration        *string                `json:"duration,omitempty"`
	TransactionCode string                 `json:"transaction_code"`
	Status          enums.EnrollmentStatus `json:"status"`
}

type service struct {
	repo     Repository
	students StudentDirectory
	notifier notification.Service
	logg     *logger.Logger
}

// NewService wires the approval workflow dependencies.
func NewService(repo Repository, students StudentDirectory, notifier notification.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "enrollment repository required")
	}
	if students == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "student directory required")
	}
	if notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notification service required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{repo: repo, students: students, notifier: notifier, logg: logg}, nil
}

func (s *service) Approve(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	return s.decide(ctx, enrollmentID, enums.EnrollmentStatusApproved)
}

func (s *service) Reject(ctx context.Context, enrollmentID int64) (*models.Enrollment, error) {
	return s.decide(ctx, enrollmentID, enums.EnrollmentStatusRejected)
}

func (s *service) decide(ctx context.Context, enrollmentID int64, decision enums.EnrollmentStatus) (*models.Enrollment, error) {
	if enrollmentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "enrollment id required")
	}

	current, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "enrollment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading enrollment")
	}
	if !current.Status.CanDecide() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "enrollment is not awaiting approval").
			WithDetails(map[string]any{"status": current.Status})
	}

	moved, err := s.repo.Decide(ctx, enrollmentID, decision)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording decision")
	}
	if !moved {
		// Lost a race with another decision; the guard kept the first one.
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "enrollment is not awaiting approval")
	}

	updated, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reloading enrollment")
	}

	s.notifyDecision(ctx, updated)
	return updated, nil
}

// notifyDecision emails the student in the background. Delivery problems are
// logged by the notification service and never fail the decision.
func (s *service) notifyDecision(ctx context.Context, enrollment *models.Enrollment) {
	background := context.WithoutCancel(ctx)
	go func() {
		student, err := s.students.FindStudentByID(background, enrollment.StudentID)
		if err != nil {
			s.logg.Error(background, "resolving student for notification", err)
			return
		}
		switch enrollment.Status {
		case enums.EnrollmentStatusApproved:
			_ = s.notifier.EnrollmentApproved(background, enrollment, student.Email)
		case enums.EnrollmentStatusRejected:
			_ = s.notifier.EnrollmentRejected(background, enrollment, student.Email)
		}
	}()
}

func (s *service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	params := ListParams{Limit: input.Limit}

	if input.Status != "" {
		status, err := enums.ParseEnrollmentStatus(input.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		params.Status = &status
	}
	if input.Cursor != "" {
		cursor, err := pagination.ParseCursor(input.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		params.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list enrollments")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) StudentCourses(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	if studentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}
	rows, err := s.repo.ListPaidByStudent(ctx, studentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list student courses")
	}
	return rows, nil
}

func (s *service) Receipt(ctx context.Context, enrollmentID int64) (*ReceiptView, error) {
	if enrollmentID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "enrollment id required")
	}

	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "enrollment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading enrollment")
	}
	if !enrollment.Status.IsPaid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no confirmed payment for this enrollment").
			WithDetails(map[string]any{"status": enrollment.Status})
	}

	receipt := &ReceiptView{
		EnrollmentID: enrollment.ID,
		StudentName:  enrollment.StudentName,
		CourseTitle:  enrollment.CourseTitle,
		CourseCode:   enrollment.CourseCode,
		MentorName:   enrollment.MentorName,
		Amount:       enrollment.Amount.StringFixed(2),
		Duration:     enrollment.Duration,
		Status:       enrollment.Status,
	}
	if enrollment.TransactionCode != nil {
		receipt.TransactionCode = *enrollment.TransactionCode
	}
	return receipt, nil
}
