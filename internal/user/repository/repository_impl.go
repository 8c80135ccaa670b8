package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/clipbrief/clipbrief/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) userdomain.Repository {
	return &repo{db: db}
}

func (r *repo) WithTrx(tx *gorm.DB) userdomain.Repository {
	return &repo{db: tx}
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	var user userdomain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repo) Create(ctx context.Context, user *userdomain.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *repo) IncrementUsage(ctx context.Context, user *userdomain.User) error {
	if user == nil {
		return userdomain.ErrNotFound
	}
	result := r.db.WithContext(ctx).Exec(
		`UPDATE users
		 SET summaries_used = summaries_used + 1,
		     version = version + 1,
		     updated_at = ?
		 WHERE id = ? AND version = ?`,
		time.Now().UTC(),
		user.ID,
		user.Version,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return userdomain.ErrVersionConflict
	}
	user.SummariesUsed++
	user.Version++
	return nil
}
