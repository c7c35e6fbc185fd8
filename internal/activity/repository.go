package activity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollify/backend/internal/models"
)

// Repository handles activity event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an activity repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records one timeline event.
func (r *Repository) Insert(ctx context.Context, ev *models.ActivityEvent) error {
	const q = `INSERT INTO activity_events (poll_id, kind, option_id, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`
	return r.pool.QueryRow(ctx, q, ev.PollID, ev.Kind, ev.OptionID, ev.CreatedAt).Scan(&ev.ID)
}

// ListByPoll returns a poll's timeline, newest first.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID, limit int) ([]models.ActivityEvent, error) {
	const q = `SELECT id, poll_id, kind, option_id, created_at
		FROM activity_events WHERE poll_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, pollID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.ActivityEvent{}
	for rows.Next() {
		var ev models.ActivityEvent
		if err := rows.Scan(&ev.ID, &ev.PollID, &ev.Kind, &ev.OptionID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}
