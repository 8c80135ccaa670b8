// Package domain contains the summary resource. A summary row is the
// billable unit of work; its ledger event outlives it.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Summary is one summarized video. UserID 0 marks an anonymous trial summary.
type Summary struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID snowflake.ID `gorm:"not null;index" json:"user_id"`

	VideoID  string `gorm:"type:text;not null" json:"video_id"`
	VideoURL string `gorm:"type:text;not null" json:"video_url"`
	Title    string `gorm:"type:text" json:"title"`

	Status  Status `gorm:"type:text;not null;default:'pending'" json:"status"`
	Content string `gorm:"type:text" json:"content,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Summary) TableName() string { return "summaries" }

var (
	ErrNotFound      = errors.New("summary_not_found")
	ErrNotOwner      = errors.New("summary_not_owner")
	ErrInvalidStatus = errors.New("invalid_summary_status")
)
