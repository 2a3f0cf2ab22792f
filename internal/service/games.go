package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/repository"
	"github.com/sakif/quest-platform/internal/validator"
)

// GameInput is the request body for creating and updating a game.
//
// ReleaseDate accepts RFC 3339 or a plain "2006-01-02" date. Discount is
// not part of the input; it is derived from Price and OriginalPrice.
type GameInput struct {
	Title         string   `json:"title" validate:"required,max=200"`
	Description   string   `json:"description" validate:"required"`
	Image         string   `json:"image" validate:"required"`
	Price         *float64 `json:"price" validate:"omitnil,gte=0"`
	OriginalPrice *float64 `json:"originalPrice" validate:"omitnil,gte=0"`
	Rating        *float64 `json:"rating" validate:"omitnil,gte=0,lte=5"`
	Platforms     []string `json:"platforms"`
	Genres        []string `json:"genres"`
	ReleaseDate   string   `json:"releaseDate"`
	Developer     string   `json:"developer" validate:"max=200"`
	Publisher     string   `json:"publisher" validate:"max=200"`
	Tags          []string `json:"tags"`
}

// GameService implements the game catalogue operations.
type GameService struct {
	games  repository.GameRepository
	logger *slog.Logger
}

func NewGameService(games repository.GameRepository, logger *slog.Logger) *GameService {
	return &GameService{games: games, logger: logger}
}

func (s *GameService) Create(ctx context.Context, in GameInput) (*model.Game, error) {
	if err := validator.Validate(in); err != nil {
		return nil, validator.ToAppError(err)
	}
	if in.Price == nil {
		return nil, apperror.ValidationFailed("price", "missing required fields: price").WithCode("missing_fields")
	}

	game := &model.Game{}
	if err := applyGameInput(game, in); err != nil {
		return nil, err
	}

	if err := s.games.Create(ctx, game); err != nil {
		return nil, fmt.Errorf("service/games: creating game: %w", err)
	}

	s.logger.Info("game created", slog.String("id", game.ID), slog.String("title", game.Title))
	return game, nil
}

func (s *GameService) Get(ctx context.Context, id string) (*model.Game, error) {
	game, err := s.games.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr("service/games: getting game", err)
	}
	return game, nil
}

func (s *GameService) List(ctx context.Context, filter repository.GameFilter) ([]model.Game, error) {
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		return nil, apperror.ValidationFailed("minPrice", "minPrice must not exceed maxPrice")
	}
	games, err := s.games.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/games: listing games: %w", err)
	}
	return games, nil
}

// Update replaces the editable fields of game id. A missing price keeps
// the stored one; the discount is recomputed either way.
func (s *GameService) Update(ctx context.Context, id string, in GameInput) (*model.Game, error) {
	if err := validator.Validate(in); err != nil {
		return nil, validator.ToAppError(err)
	}

	game, err := s.games.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr("service/games: loading game", err)
	}
	if err := applyGameInput(game, in); err != nil {
		return nil, err
	}

	if err := s.games.Update(ctx, game); err != nil {
		return nil, wrapRepoErr("service/games: updating game", err)
	}

	s.logger.Info("game updated", slog.String("id", game.ID))
	return game, nil
}

func (s *GameService) Delete(ctx context.Context, id string) error {
	if err := s.games.Delete(ctx, id); err != nil {
		return wrapRepoErr("service/games: deleting game", err)
	}
	s.logger.Info("game deleted", slog.String("id", id))
	return nil
}

func applyGameInput(game *model.Game, in GameInput) error {
	var release *time.Time
	if in.ReleaseDate != "" {
		t, err := parseReleaseDate(in.ReleaseDate)
		if err != nil {
			return apperror.ValidationFailed("releaseDate", "releaseDate must be a date like 2024-03-01")
		}
		release = &t
	}

	game.Title = strings.TrimSpace(in.Title)
	game.Description = in.Description
	game.Image = in.Image
	if in.Price != nil {
		game.Price = *in.Price
	}
	game.OriginalPrice = in.OriginalPrice
	game.Rating = in.Rating
	game.Platforms = in.Platforms
	game.Genres = in.Genres
	game.ReleaseDate = release
	game.Developer = in.Developer
	game.Publisher = in.Publisher
	game.Tags = in.Tags
	game.ApplyDiscount()
	return nil
}

func parseReleaseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}

// wrapRepoErr keeps AppErrors from the store visible to errors.As while
// adding context to everything else.
func wrapRepoErr(action string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fmt.Errorf("%s: %w", action, err)
}
