package models

import "gorm.io/gorm"

// All lists every model managed by AutoMigrate, parents first
func All() []interface{} {
	return []interface{}{
		&User{},
		&Prospect{},
		&Sequence{},
		&Notification{},
	}
}

// Migrate creates or updates the schema for every model
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
