package store

import (
	"context"
	"errors"

	"github.com/safemasking/masking-api/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type User interface {
	Get(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, user model.User) (*model.User, error)
	Upsert(ctx context.Context, user model.User) (*model.User, error)
}

type UserStore struct {
	db *gorm.DB
}

// Make sure we conform to User interface
var _ User = (*UserStore)(nil)

func NewUserStore(db *gorm.DB) User {
	return &UserStore{db: db}
}

func (s *UserStore) Get(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.getDB(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) Create(ctx context.Context, user model.User) (*model.User, error) {
	if err := s.getDB(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return &user, nil
}

// Upsert refreshes the profile fields of an existing user or creates it.
func (s *UserStore) Upsert(ctx context.Context, user model.User) (*model.User, error) {
	result := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "organization"}),
	}).Create(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return s.Get(ctx, user.Username)
}

func (s *UserStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
