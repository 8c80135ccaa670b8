package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/clipbrief/clipbrief/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	UserID    snowflake.ID
	PageToken string
	PageSize  int
}

type ListResponse struct {
	pagination.PageInfo
	Summaries []Summary `json:"summaries"`
}

// Store persists summary rows. Create participates in the creation
// transaction via WithTrx; Delete removes the row only and must never be
// wired to the usage ledger.
type Store interface {
	WithTrx(tx *gorm.DB) Store

	Create(ctx context.Context, summary *Summary) error
	GetByID(ctx context.Context, id snowflake.ID) (*Summary, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, status Status, content string) error
	Delete(ctx context.Context, id snowflake.ID) error
}
