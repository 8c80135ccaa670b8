package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/clipbrief/clipbrief/internal/user/domain"
	"github.com/clipbrief/clipbrief/pkg/db"
	"gorm.io/gorm"
)

const defaultAdminEmail = "admin@clipbrief.local"

// EnsureAdminUser seeds an enterprise user for self-hosted installs so the
// instance is usable without a signup flow. Idempotent.
func EnsureAdminUser(gdb *gorm.DB, node *snowflake.Node, email string) error {
	if gdb == nil {
		return errors.New("seed database handle is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		email = defaultAdminEmail
	}

	ctx := context.Background()
	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing userdomain.User
		err := tx.Where("email = ?", email).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		err = tx.Create(&userdomain.User{
			ID:    node.Generate(),
			Email: email,
			Plan:  userdomain.PlanEnterprise,
		}).Error
		if db.IsDuplicateKeyErr(err) {
			// Another instance bootstrapped the same user concurrently.
			return nil
		}
		return err
	})
}
