package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sirbramstech/campus-backend/pkg/enums"
)

// Enrollment is the durable record of a student's paid/approved relationship
// to a course. At most one row exists per (student, course) pair; payment
// retries update the row in place.
type Enrollment struct {
	ID        int64 `gorm:"column:id;primaryKey;autoIncrement"`
	StudentID int64 `gorm:"column:student_id;not null;uniqueIndex:idx_enrollments_student_course"`
	CourseID  int64 `gorm:"column:course_id;not null;uniqueIndex:idx_enrollments_student_course"`

	// Snapshots captured at payment time, kept for receipts even if the
	// source records change later.
	StudentName string          `gorm:"column:student_name;not null"`
	CourseTitle string          `gorm:"column:course_title;not null"`
	CourseCode  string          `gorm:"column:course_code;not null"`
	MentorName  string          `gorm:"column:mentor_name;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Duration    *string         `gorm:"column:duration"`

	// Provider correlation, populated as the payment progresses.
	MerchantRequestID *string `gorm:"column:merchant_request_id"`
	CheckoutRequestID *string `gorm:"column:checkout_request_id"`
	TransactionCode   *string `gorm:"column:transaction_code"`

	Status enums.EnrollmentStatus `gorm:"column:status;not null;default:'initiated'"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// NewEnrollmentSnapshot builds an enrollment row carrying the receipt
// snapshot fields from the current student and course records.
func NewEnrollmentSnapshot(student *Member, course *Course) *Enrollment {
	row := &Enrollment{
		StudentID:   student.ID,
		CourseID:    course.ID,
		StudentName: student.Name,
		CourseTitle: course.Title,
		CourseCode:  course.Code,
		Amount:      course.Amount,
	}
	if course.Mentor != nil {
		row.MentorName = course.Mentor.Name
	}
	if course.Duration != "" {
		duration := course.Duration
		row.Duration = &duration
	}
	return row
}
