package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Ledger is the append-only writer plus the read-side counters admission
// control depends on. Append must only run inside the creation transaction.
type Ledger interface {
	WithTrx(tx *gorm.DB) Ledger

	Append(ctx context.Context, event *UsageEvent) error

	// CountSince returns matching events; a nil since means lifetime count.
	CountSince(ctx context.Context, userID snowflake.ID, eventType string, since *time.Time) (int64, error)

	// ExistsForAnonymous reports any prior anonymous event matching the
	// fingerprint OR the client IP. Either signal alone flags prior use,
	// which keeps the anonymous limit conservative.
	ExistsForAnonymous(ctx context.Context, eventType, fingerprint, clientIP string) (bool, error)
}
