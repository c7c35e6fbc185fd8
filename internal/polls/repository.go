package polls

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollify/backend/internal/models"
)

// Repository handles poll persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pollColumns = `id, creator_id, slug, title, COALESCE(description, ''), type, visibility, status,
	max_selections, show_results_before_vote, require_auth_to_vote, allow_embed, allow_comments,
	closes_at, created_at, updated_at`

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var p models.Poll
	err := row.Scan(&p.ID, &p.CreatorID, &p.Slug, &p.Title, &p.Description, &p.Type, &p.Visibility,
		&p.Status, &p.MaxSelections, &p.ShowResultsBeforeVote, &p.RequireAuthToVote, &p.AllowEmbed,
		&p.AllowComments, &p.ClosesAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrPollNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SlugExists reports whether a poll already uses the slug.
func (r *Repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM polls WHERE slug = $1)`
	var exists bool
	err := r.pool.QueryRow(ctx, q, slug).Scan(&exists)
	return exists, err
}

// Create inserts a poll and its options in one transaction.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO polls (creator_id, slug, title, description, type, visibility, status,
			max_selections, show_results_before_vote, require_auth_to_vote, allow_embed, allow_comments, closes_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`
	err = tx.QueryRow(ctx, q, p.CreatorID, p.Slug, p.Title, p.Description, p.Type, p.Visibility,
		p.Status, p.MaxSelections, p.ShowResultsBeforeVote, p.RequireAuthToVote, p.AllowEmbed,
		p.AllowComments, p.ClosesAt).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}

	const oq = `INSERT INTO poll_options (poll_id, label, position, image_url)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	for i := range p.Options {
		opt := &p.Options[i]
		opt.PollID = p.ID
		if err := tx.QueryRow(ctx, oq, p.ID, opt.Label, opt.Position, opt.ImageURL).
			Scan(&opt.ID, &opt.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns a poll with its ordered options.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadOptions(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetBySlug returns a poll with its ordered options and denormalized creator.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.Poll, error) {
	p, err := scanPoll(r.pool.QueryRow(ctx, `SELECT `+pollColumns+` FROM polls WHERE slug = $1`, slug))
	if err != nil {
		return nil, err
	}
	if err := r.loadOptions(ctx, p); err != nil {
		return nil, err
	}
	if p.CreatorID != nil {
		const q = `SELECT id, full_name, COALESCE(avatar_url, '') FROM users WHERE id = $1`
		var creator models.UserPublic
		if err := r.pool.QueryRow(ctx, q, *p.CreatorID).Scan(&creator.ID, &creator.Name, &creator.Image); err == nil {
			p.Creator = &creator
		}
	}
	return p, nil
}

func (r *Repository) loadOptions(ctx context.Context, p *models.Poll) error {
	const q = `SELECT id, poll_id, label, position, image_url, created_at
		FROM poll_options WHERE poll_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, q, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var o models.PollOption
		if err := rows.Scan(&o.ID, &o.PollID, &o.Label, &o.Position, &o.ImageURL, &o.CreatedAt); err != nil {
			return err
		}
		p.Options = append(p.Options, o)
	}
	return rows.Err()
}

const summaryQuery = `SELECT p.id, p.slug, p.title, COALESCE(p.description, ''), p.type, p.visibility, p.status,
		(SELECT COUNT(*) FROM poll_options o WHERE o.poll_id = p.id),
		(SELECT COUNT(*) FROM votes v WHERE v.poll_id = p.id),
		p.created_at
	FROM polls p`

func (r *Repository) querySummaries(ctx context.Context, q string, args ...interface{}) ([]models.PollSummary, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.PollSummary{}
	for rows.Next() {
		var s models.PollSummary
		if err := rows.Scan(&s.ID, &s.Slug, &s.Title, &s.Description, &s.Type, &s.Visibility,
			&s.Status, &s.OptionCount, &s.VoteCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// ListByCreator returns the creator's polls, newest first, with counts.
func (r *Repository) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]models.PollSummary, error) {
	return r.querySummaries(ctx, summaryQuery+` WHERE p.creator_id = $1 ORDER BY p.created_at DESC`, creatorID)
}

// ListRecent returns the most recent public polls with counts.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]models.PollSummary, error) {
	return r.querySummaries(ctx, summaryQuery+` WHERE p.visibility = 'public' ORDER BY p.created_at DESC LIMIT $1`, limit)
}

// Results returns the live vote count per option. Options without votes are
// absent from the map.
func (r *Repository) Results(ctx context.Context, pollID uuid.UUID) (map[string]int64, error) {
	const q = `SELECT option_id, COUNT(*) FROM votes WHERE poll_id = $1 GROUP BY option_id`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var optionID uuid.UUID
		var n int64
		if err := rows.Scan(&optionID, &n); err != nil {
			return nil, err
		}
		counts[optionID.String()] = n
	}
	return counts, rows.Err()
}

// Update patches poll metadata; nil fields keep their current value.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, title, description, status *string) error {
	const q = `UPDATE polls SET
			title = COALESCE($1, title),
			description = COALESCE($2, description),
			status = COALESCE($3, status),
			updated_at = NOW()
		WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, title, description, status, id)
	return err
}

// Close sets poll status to closed.
func (r *Repository) Close(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE polls SET status = 'closed', updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}
