package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTrx(tx *gorm.DB) Repository

	// FindByID returns nil, nil when the user does not exist.
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)

	Create(ctx context.Context, user *User) error

	// IncrementUsage bumps the cached display counter with a version
	// compare-and-swap. Returns ErrVersionConflict on a lost-update race.
	IncrementUsage(ctx context.Context, user *User) error
}
