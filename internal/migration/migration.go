// Package migration creates the schema on startup so local and self-hosted
// installs work out of the box.
package migration

import (
	"errors"

	summarydomain "github.com/clipbrief/clipbrief/internal/summary/domain"
	usagedomain "github.com/clipbrief/clipbrief/internal/usage/domain"
	userdomain "github.com/clipbrief/clipbrief/internal/user/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(
		&userdomain.User{},
		&usagedomain.UsageEvent{},
		&summarydomain.Summary{},
	)
}
