package option

import (
	"strings"

	"github.com/clipbrief/clipbrief/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// ApplyPagination applies cursor pagination. It fetches one extra row so the
// caller can detect a next page.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := p.PageSize
		if size <= 0 {
			size = 10
		}
		if token := strings.TrimSpace(p.PageToken); token != "" {
			if cursor, err := pagination.DecodeCursor(token); err == nil && cursor != nil {
				if cursor.CreatedAt != "" {
					db = db.Where("created_at < ?", cursor.CreatedAt)
				}
			}
		}
		return db.Limit(size + 1)
	})
}

// QuerySortBy restricts sorting to an allow-listed column set.
type QuerySortBy struct {
	Allow  map[string]bool
	Column string
	Desc   bool
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(sort.Column)
		if column == "" {
			column = "created_at"
		}
		if len(sort.Allow) > 0 && !sort.Allow[column] {
			column = "created_at"
		}
		direction := "DESC"
		if !sort.Desc && column != "created_at" {
			direction = "ASC"
		}
		return db.Order(column + " " + direction)
	})
}
