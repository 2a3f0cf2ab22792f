// Package repository declares the storage interfaces the service layer
// depends on. internal/repository/sqlite is the production implementation;
// service tests use in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/quest-platform/internal/model"
)

// UserRepository is the credential store.
//
// Email and UserName lookups are case-insensitive. Create must enforce
// email and user name uniqueness atomically and report a violation as an
// apperror.Conflict whose Code is "email_taken" or "username_taken".
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByGoogleID matches the linked Google subject exactly.
	GetByGoogleID(ctx context.Context, subject string) (*model.User, error)
	// GetByIdentifier matches identifier against email or user name.
	GetByIdentifier(ctx context.Context, identifier string) (*model.User, error)
	UserNameExists(ctx context.Context, userName string) (bool, error)
	List(ctx context.Context) ([]model.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateRole(ctx context.Context, id string, role model.Role) (*model.User, error)
}

// GameFilter narrows a game listing. Zero values mean "no constraint".
// Genres and Platforms match a game that has any of the listed values.
type GameFilter struct {
	Genres      []string
	Platforms   []string
	MinPrice    *float64
	MaxPrice    *float64
	MinDiscount *int
}

type GameRepository interface {
	Create(ctx context.Context, game *model.Game) error
	GetByID(ctx context.Context, id string) (*model.Game, error)
	List(ctx context.Context, filter GameFilter) ([]model.Game, error)
	Update(ctx context.Context, game *model.Game) error
	Delete(ctx context.Context, id string) error
}

type QuestRepository interface {
	Create(ctx context.Context, quest *model.Quest) error
	GetByID(ctx context.Context, id string) (*model.Quest, error)
	List(ctx context.Context) ([]model.Quest, error)
	Update(ctx context.Context, quest *model.Quest) error
	Delete(ctx context.Context, id string) error
}
