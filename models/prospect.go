package models

import (
	"time"

	"gorm.io/gorm"
)

// Prospect is the person a sequence reaches out to
type Prospect struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// ProfileURL is the external reference handed to the action executor
	ProfileURL string `gorm:"not null;index" json:"profile_url"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Headline   string `json:"headline"`
	Company    string `json:"company"`
	Location   string `json:"location"`

	// Status
	IsConnected    bool       `gorm:"default:false" json:"is_connected"`
	ConnectedAt    *time.Time `json:"connected_at"`
	IsDoNotContact bool       `gorm:"default:false" json:"is_do_not_contact"`
}

// FullName joins the first and last name
func (p *Prospect) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	if p.FirstName == "" {
		return p.LastName
	}
	return p.FirstName + " " + p.LastName
}
