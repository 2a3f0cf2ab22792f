package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/repository"
)

// QuestDB is the quests table.
type QuestDB struct {
	conn *sql.DB
}

var _ repository.QuestRepository = (*QuestDB)(nil)

const questColumns = `id, title, description, points, progress, total_steps, icon_name, type, created_at, updated_at`

func scanQuest(row rowScanner) (*model.Quest, error) {
	var (
		q     model.Quest
		qType string
	)
	if err := row.Scan(
		&q.ID, &q.Title, &q.Description, &q.Points, &q.Progress,
		&q.TotalSteps, &q.IconName, &qType, &q.CreatedAt, &q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	q.Type = model.QuestType(qType)
	return &q, nil
}

func (q *QuestDB) Create(ctx context.Context, quest *model.Quest) error {
	quest.ID = xid.New().String()
	now := time.Now().UTC()
	quest.CreatedAt = now
	quest.UpdatedAt = now

	_, err := q.conn.ExecContext(ctx,
		`INSERT INTO quests (`+questColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		quest.ID, quest.Title, quest.Description, quest.Points, quest.Progress,
		quest.TotalSteps, quest.IconName, string(quest.Type),
		quest.CreatedAt, quest.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating quest: %w", err)
	}
	return nil
}

func (q *QuestDB) GetByID(ctx context.Context, id string) (*model.Quest, error) {
	quest, err := scanQuest(q.conn.QueryRowContext(ctx,
		`SELECT `+questColumns+` FROM quests WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("quest", id)
		}
		return nil, fmt.Errorf("sqlite: getting quest %s: %w", id, err)
	}
	return quest, nil
}

func (q *QuestDB) List(ctx context.Context) ([]model.Quest, error) {
	rows, err := q.conn.QueryContext(ctx,
		`SELECT `+questColumns+` FROM quests ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing quests: %w", err)
	}
	defer rows.Close()

	quests := []model.Quest{}
	for rows.Next() {
		quest, err := scanQuest(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning quest row: %w", err)
		}
		quests = append(quests, *quest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating quests: %w", err)
	}
	return quests, nil
}

func (q *QuestDB) Update(ctx context.Context, quest *model.Quest) error {
	quest.UpdatedAt = time.Now().UTC()

	result, err := q.conn.ExecContext(ctx,
		`UPDATE quests
		 SET title = ?, description = ?, points = ?, progress = ?, total_steps = ?,
		     icon_name = ?, type = ?, updated_at = ?
		 WHERE id = ?`,
		quest.Title, quest.Description, quest.Points, quest.Progress, quest.TotalSteps,
		quest.IconName, string(quest.Type), quest.UpdatedAt, quest.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating quest %s: %w", quest.ID, err)
	}
	return checkAffected(result, "quest", quest.ID)
}

func (q *QuestDB) Delete(ctx context.Context, id string) error {
	result, err := q.conn.ExecContext(ctx, `DELETE FROM quests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting quest %s: %w", id, err)
	}
	return checkAffected(result, "quest", id)
}
