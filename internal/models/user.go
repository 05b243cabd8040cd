package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a registered trader. Registration funds the simulated wallet; the
// portfolio row appears on the first recompute.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Email        string         `gorm:"uniqueIndex;size:100;not null" json:"email"`
	PasswordHash string         `gorm:"size:255;not null" json:"-"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	// Relations
	Trades    []Trade    `gorm:"foreignKey:UserID" json:"trades,omitempty"`
	Wallet    *Wallet    `gorm:"foreignKey:UserID" json:"wallet,omitempty"`
	Portfolio *Portfolio `gorm:"foreignKey:UserID" json:"portfolio,omitempty"`
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}
