package store

import (
	"context"

	"github.com/safemasking/masking-api/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultUsername is the principal injected by the "none" authenticator.
	DefaultUsername = "admin"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	User() User
	InitialMigration(ctx context.Context) error
	Seed() error
	Ping(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db   *gorm.DB
	job  Job
	user User
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:  NewJobStore(db),
		user: NewUserStore(db),
		db:   db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) User() User {
	return s.user
}

// InitialMigration creates the schema from the gorm models. Postgres deployments
// use the goose migrations in pkg/migrations instead.
func (s *DataStore) InitialMigration(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.User{}, &model.Job{}, &model.Detection{})
}

// Seed creates the default user used when authentication is disabled.
func (s *DataStore) Seed() error {
	tx, err := newTransaction(s.db)
	if err != nil {
		return err
	}

	user := model.User{
		Username:     DefaultUsername,
		FirstName:    "Admin",
		Organization: "internal",
	}

	if err := tx.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *DataStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
