// Package domain contains the append-only usage ledger. The ledger is the
// sole enforcement source for quota: rows are never updated or deleted in
// normal operation, and deleting a summary never touches its ledger row.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventTypeSummaryCreated is the only billable event type today. The model
// extends to other billable actions by adding event types.
const EventTypeSummaryCreated = "summary_created"

// AnonymousUserID is the reserved sentinel under which all not-signed-in
// traffic is recorded, disambiguated by fingerprint and client IP.
const AnonymousUserID snowflake.ID = 0

// UsageEvent records one consumed quota unit. Immutable once written.
type UsageEvent struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID snowflake.ID `gorm:"not null;index:idx_usage_events_user_type,priority:1" json:"user_id"`

	EventType string `gorm:"type:text;not null;index:idx_usage_events_user_type,priority:2" json:"event_type"`

	// Traceability references only; quota math never reads them.
	SummaryID snowflake.ID `gorm:"not null" json:"summary_id"`
	VideoID   string       `gorm:"type:text" json:"video_id"`

	// First-class columns for the anonymous dual-signal lookup.
	BrowserFingerprint string `gorm:"type:text;index" json:"browser_fingerprint,omitempty"`
	ClientIP           string `gorm:"type:text;index" json:"client_ip,omitempty"`

	Metadata datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

var (
	ErrMissingEventType = errors.New("missing_event_type")
	ErrMissingSummary   = errors.New("missing_summary_reference")
)
