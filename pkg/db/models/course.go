package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course is a purchasable course. The pipeline reads it to derive the fee and
// the snapshot fields stamped onto enrollments.
type Course struct {
	ID          int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Title       string          `gorm:"column:title;not null;uniqueIndex"`
	Code        string          `gorm:"column:code;not null;uniqueIndex"`
	Description string          `gorm:"column:description"`
	MentorID    int64           `gorm:"column:mentor_id;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(10,2);not null"`
	Duration    string          `gorm:"column:duration"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`

	Mentor *Member `gorm:"foreignKey:MentorID"`
}
