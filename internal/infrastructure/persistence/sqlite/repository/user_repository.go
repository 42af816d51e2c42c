package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"caseimport/internal/domain/importing"
	"caseimport/internal/infrastructure/persistence/sqlite/model"
	"caseimport/internal/ports"
)

type UserRepository struct {
	db *gorm.DB
}

var _ ports.UserRepository = (*UserRepository)(nil)

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindUser(ctx context.Context, userID string) (importing.User, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return importing.User{}, err
	}

	var row model.User
	if err := db.Where("user_id = ?", userID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return importing.User{}, ports.ErrUserNotFound
		}
		return importing.User{}, classify(err, "query user")
	}
	return mapUser(row), nil
}

// FindOrCreateSystemUser lazily creates the import system identity.
// Concurrent callers converge on the same row.
func (r *UserRepository) FindOrCreateSystemUser(ctx context.Context) (importing.User, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return importing.User{}, err
	}

	candidate := model.User{
		UserID:      uuid.NewString(),
		Username:    importing.SystemUsername,
		DisplayName: "System Import",
		IsSystem:    true,
		CreatedAt:   nowText(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return importing.User{}, classify(err, "insert system user")
	}

	var row model.User
	if err := db.Where("username = ?", importing.SystemUsername).Take(&row).Error; err != nil {
		return importing.User{}, classify(err, "query system user")
	}
	return mapUser(row), nil
}

// CreateUser registers a regular submitting user.
func (r *UserRepository) CreateUser(ctx context.Context, user importing.User) (importing.User, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return importing.User{}, err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	row := model.User{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		IsSystem:    user.IsSystem,
		CreatedAt:   nowText(),
	}
	if err := db.Create(&row).Error; err != nil {
		return importing.User{}, classify(err, "insert user")
	}
	return mapUser(row), nil
}

func mapUser(row model.User) importing.User {
	return importing.User{
		ID:          row.UserID,
		Username:    row.Username,
		DisplayName: row.DisplayName,
		IsSystem:    row.IsSystem,
	}
}
