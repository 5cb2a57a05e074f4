package models

import (
	"gorm.io/gorm"
)

// User represents a user account in the system
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	TokenVersion int    `gorm:"default:0" json:"-"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Social account used by the automation engine
	AccountUsername string `json:"account_username"`
	AccountPassword string `json:"-"` // Encrypted in application layer

	// Notification preferences
	NotifyByEmail bool `gorm:"default:true" json:"notify_by_email"`

	// Relations
	Prospects []Prospect `gorm:"foreignKey:UserID" json:"prospects,omitempty"`
	Sequences []Sequence `gorm:"foreignKey:UserID" json:"sequences,omitempty"`
}

// Sanitize clears secret material before the user leaves the process
func (u *User) Sanitize() {
	u.PasswordHash = ""
	u.AccountPassword = ""
}
