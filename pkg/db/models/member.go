package models

import (
	"time"

	"github.com/sirbramstech/campus-backend/pkg/enums"
)

// Member is a platform account. The enrollment pipeline only reads members
// (students and mentors); account CRUD lives elsewhere.
type Member struct {
	ID        int64            `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string           `gorm:"column:name;not null"`
	Username  string           `gorm:"column:username;not null;uniqueIndex"`
	Email     string           `gorm:"column:email;not null;uniqueIndex"`
	Phone     string           `gorm:"column:phone"`
	Role      enums.MemberRole `gorm:"column:role;not null;default:'student'"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
