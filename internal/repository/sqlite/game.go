package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/repository"
)

// GameDB is the games table.
type GameDB struct {
	conn *sql.DB
}

var _ repository.GameRepository = (*GameDB)(nil)

const gameColumns = `id, title, description, image, price, original_price, discount, rating,
	platforms, genres, release_date, developer, publisher, tags, created_at, updated_at`

func scanGame(row rowScanner) (*model.Game, error) {
	var (
		g                       model.Game
		originalPrice, rating   sql.NullFloat64
		releaseDate             sql.NullTime
		platforms, genres, tags string
	)
	if err := row.Scan(
		&g.ID, &g.Title, &g.Description, &g.Image, &g.Price, &originalPrice,
		&g.Discount, &rating, &platforms, &genres, &releaseDate,
		&g.Developer, &g.Publisher, &tags, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if originalPrice.Valid {
		g.OriginalPrice = &originalPrice.Float64
	}
	if rating.Valid {
		g.Rating = &rating.Float64
	}
	if releaseDate.Valid {
		g.ReleaseDate = &releaseDate.Time
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{{platforms, &g.Platforms}, {genres, &g.Genres}, {tags, &g.Tags}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decoding list column: %w", err)
		}
	}
	return &g, nil
}

// encodeList stores nil as an empty array so json_each always sees an array.
func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

// Create inserts game, assigning its ID and timestamps. The caller is
// responsible for computing Discount.
func (g *GameDB) Create(ctx context.Context, game *model.Game) error {
	game.ID = xid.New().String()
	now := time.Now().UTC()
	game.CreatedAt = now
	game.UpdatedAt = now

	_, err := g.conn.ExecContext(ctx,
		`INSERT INTO games (`+gameColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		game.ID, game.Title, game.Description, game.Image, game.Price,
		nullFloat(game.OriginalPrice), game.Discount, nullFloat(game.Rating),
		encodeList(game.Platforms), encodeList(game.Genres), nullTime(game.ReleaseDate),
		game.Developer, game.Publisher, encodeList(game.Tags),
		game.CreatedAt, game.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating game: %w", err)
	}
	return nil
}

func (g *GameDB) GetByID(ctx context.Context, id string) (*model.Game, error) {
	game, err := scanGame(g.conn.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("game", id)
		}
		return nil, fmt.Errorf("sqlite: getting game %s: %w", id, err)
	}
	return game, nil
}

// List returns the games matching filter, oldest first.
func (g *GameDB) List(ctx context.Context, filter repository.GameFilter) ([]model.Game, error) {
	where, args := gameWhere(filter)

	rows, err := g.conn.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games`+where+` ORDER BY created_at, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing games: %w", err)
	}
	defer rows.Close()

	games := []model.Game{}
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning game row: %w", err)
		}
		games = append(games, *game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating games: %w", err)
	}
	return games, nil
}

// gameWhere builds the WHERE clause for filter. Only placeholders are
// interpolated; every value travels as an argument.
func gameWhere(filter repository.GameFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	anyOf := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(games.%s) WHERE json_each.value IN (%s))",
			column, placeholders,
		))
		for _, v := range values {
			args = append(args, v)
		}
	}
	anyOf("genres", filter.Genres)
	anyOf("platforms", filter.Platforms)

	if filter.MinPrice != nil {
		conds = append(conds, "price >= ?")
		args = append(args, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		conds = append(conds, "price <= ?")
		args = append(args, *filter.MaxPrice)
	}
	if filter.MinDiscount != nil {
		conds = append(conds, "discount >= ?")
		args = append(args, *filter.MinDiscount)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (g *GameDB) Update(ctx context.Context, game *model.Game) error {
	game.UpdatedAt = time.Now().UTC()

	result, err := g.conn.ExecContext(ctx,
		`UPDATE games
		 SET title = ?, description = ?, image = ?, price = ?, original_price = ?,
		     discount = ?, rating = ?, platforms = ?, genres = ?, release_date = ?,
		     developer = ?, publisher = ?, tags = ?, updated_at = ?
		 WHERE id = ?`,
		game.Title, game.Description, game.Image, game.Price, nullFloat(game.OriginalPrice),
		game.Discount, nullFloat(game.Rating), encodeList(game.Platforms), encodeList(game.Genres),
		nullTime(game.ReleaseDate), game.Developer, game.Publisher, encodeList(game.Tags),
		game.UpdatedAt, game.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating game %s: %w", game.ID, err)
	}
	return checkAffected(result, "game", game.ID)
}

func (g *GameDB) Delete(ctx context.Context, id string) error {
	result, err := g.conn.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting game %s: %w", id, err)
	}
	return checkAffected(result, "game", id)
}
