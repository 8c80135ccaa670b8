package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	summarydomain "github.com/clipbrief/clipbrief/internal/summary/domain"
	"github.com/clipbrief/clipbrief/pkg/db/option"
	"github.com/clipbrief/clipbrief/pkg/db/pagination"
	"github.com/clipbrief/clipbrief/pkg/repository"
	"gorm.io/gorm"
)

type store struct {
	db        *gorm.DB
	summaries repository.Repository[summarydomain.Summary]
}

func Provide(db *gorm.DB) summarydomain.Store {
	return &store{
		db:        db,
		summaries: repository.ProvideStore[summarydomain.Summary](db),
	}
}

func (s *store) WithTrx(tx *gorm.DB) summarydomain.Store {
	return &store{
		db:        tx,
		summaries: s.summaries.WithTrx(tx),
	}
}

func (s *store) Create(ctx context.Context, summary *summarydomain.Summary) error {
	now := time.Now().UTC()
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = now
	}
	if summary.Status == "" {
		summary.Status = summarydomain.StatusPending
	}
	return s.summaries.Create(ctx, summary)
}

func (s *store) GetByID(ctx context.Context, id snowflake.ID) (*summarydomain.Summary, error) {
	var summary summarydomain.Summary
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, summarydomain.ErrNotFound
		}
		return nil, err
	}
	return &summary, nil
}

func (s *store) List(ctx context.Context, req summarydomain.ListRequest) (summarydomain.ListResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	items, err := s.summaries.Find(ctx,
		&summarydomain.Summary{UserID: req.UserID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  pageSize,
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return summarydomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *summarydomain.Summary) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	summaries := make([]summarydomain.Summary, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		summaries = append(summaries, *item)
	}

	resp := summarydomain.ListResponse{Summaries: summaries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *store) UpdateStatus(ctx context.Context, id snowflake.ID, status summarydomain.Status, content string) error {
	switch status {
	case summarydomain.StatusPending, summarydomain.StatusCompleted, summarydomain.StatusFailed:
	default:
		return summarydomain.ErrInvalidStatus
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if content != "" {
		updates["content"] = content
	}
	result := s.db.WithContext(ctx).
		Model(&summarydomain.Summary{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return summarydomain.ErrNotFound
	}
	return nil
}

// Delete removes the summary row only. The matching usage event stays:
// consumption is defined by the ledger, not by live resources.
func (s *store) Delete(ctx context.Context, id snowflake.ID) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&summarydomain.Summary{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return summarydomain.ErrNotFound
	}
	return nil
}
