package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table owned by the service
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Owner{},
		&Unsubscribe{},
		&TrackedMessage{},
		&TrackedLink{},
		&OpenEvent{},
		&LinkClickEvent{},
		&Sequence{},
		&SequenceStep{},
		&SequenceEnrollment{},
	)
}
