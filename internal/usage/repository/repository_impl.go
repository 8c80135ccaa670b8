package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/clipbrief/clipbrief/internal/usage/domain"
	"gorm.io/gorm"
)

type ledger struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) usagedomain.Ledger {
	return &ledger{db: db}
}

func (l *ledger) WithTrx(tx *gorm.DB) usagedomain.Ledger {
	return &ledger{db: tx}
}

func (l *ledger) Append(ctx context.Context, event *usagedomain.UsageEvent) error {
	if event == nil || event.SummaryID == 0 {
		return usagedomain.ErrMissingSummary
	}
	if strings.TrimSpace(event.EventType) == "" {
		return usagedomain.ErrMissingEventType
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return l.db.WithContext(ctx).Create(event).Error
}

func (l *ledger) CountSince(ctx context.Context, userID snowflake.ID, eventType string, since *time.Time) (int64, error) {
	query := l.db.WithContext(ctx).
		Model(&usagedomain.UsageEvent{}).
		Where("user_id = ? AND event_type = ?", userID, eventType)
	if since != nil {
		query = query.Where("created_at >= ?", since.UTC())
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}

func (l *ledger) ExistsForAnonymous(ctx context.Context, eventType, fingerprint, clientIP string) (bool, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	clientIP = strings.TrimSpace(clientIP)
	if fingerprint == "" && clientIP == "" {
		return false, nil
	}

	where := "user_id = ? AND event_type = ?"
	args := []any{usagedomain.AnonymousUserID, eventType}
	switch {
	case fingerprint != "" && clientIP != "":
		where += " AND (browser_fingerprint = ? OR client_ip = ?)"
		args = append(args, fingerprint, clientIP)
	case fingerprint != "":
		where += " AND browser_fingerprint = ?"
		args = append(args, fingerprint)
	default:
		where += " AND client_ip = ?"
		args = append(args, clientIP)
	}

	var exists bool
	err := l.db.WithContext(ctx).Raw(
		"SELECT EXISTS(SELECT 1 FROM usage_events WHERE "+where+")",
		args...,
	).Scan(&exists).Error
	if err != nil {
		return false, err
	}
	return exists, nil
}
