// Package domain contains the user record consumed by admission control.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is the subscription tier owned by the billing collaborator.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// UnlimitedSummaries marks a per-user override with no cap.
const UnlimitedSummaries = -1

// User carries plan and quota-override fields. SummariesUsed is a cached
// display counter; enforcement always counts the usage ledger instead.
type User struct {
	ID    snowflake.ID `gorm:"primaryKey" json:"id"`
	Email string       `gorm:"type:text;uniqueIndex;not null" json:"email"`
	Plan  Plan         `gorm:"type:text;not null;default:'free'" json:"plan"`

	// SummariesLimit overrides the plan default when positive;
	// UnlimitedSummaries (-1) lifts the cap; zero means plan default.
	SummariesLimit int `gorm:"not null;default:0" json:"summaries_limit"`

	SummariesUsed int `gorm:"not null;default:0" json:"summaries_used"`

	// Version guards every direct mutation of this row (compare-and-swap).
	Version int `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

var (
	ErrNotFound        = errors.New("user_not_found")
	ErrVersionConflict = errors.New("user_version_conflict")
)
