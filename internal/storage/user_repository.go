package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"chatsync/internal/apperrors"
	"chatsync/internal/models"
)

// UserRepository 定义了用户数据的只读访问。用户的创建和维护属于
// 外部账户子系统，引擎只做查询。
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// gormUserRepository 使用 GORM 实现 UserRepository。
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建一个新的基于 GORM 的 UserRepository。
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

// GetByID 通过ID检索用户。
func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("用户 %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// GetByUsername 通过用户名检索用户。
func (r *gormUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("用户 %s: %w", username, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}
