package comments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollify/backend/internal/models"
)

// Repository handles comment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a comments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByPoll returns a poll's comments, oldest first, with the commenter
// profile denormalized for authenticated authors.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Comment, error) {
	const q = `SELECT c.id, c.poll_id, c.commenter_id, c.commenter_fingerprint, c.content, c.created_at,
			u.id, u.full_name, COALESCE(u.avatar_url, '')
		FROM comments c
		LEFT JOIN users u ON u.id = c.commenter_id
		WHERE c.poll_id = $1
		ORDER BY c.created_at`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Comment{}
	for rows.Next() {
		var cm models.Comment
		var uID *uuid.UUID
		var uName, uImage *string
		if err := rows.Scan(&cm.ID, &cm.PollID, &cm.CommenterID, &cm.CommenterFingerprint,
			&cm.Content, &cm.CreatedAt, &uID, &uName, &uImage); err != nil {
			return nil, err
		}
		if uID != nil {
			cm.Commenter = &models.UserPublic{ID: *uID, Name: *uName, Image: *uImage}
		}
		list = append(list, cm)
	}
	return list, rows.Err()
}

// Create inserts a comment and returns it with generated fields filled in.
func (r *Repository) Create(ctx context.Context, cm *models.Comment) error {
	const q = `INSERT INTO comments (poll_id, commenter_id, commenter_fingerprint, content)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, cm.PollID, cm.CommenterID, cm.CommenterFingerprint, cm.Content).
		Scan(&cm.ID, &cm.CreatedAt)
}

// GetByID returns a single comment without the commenter profile.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	const q = `SELECT id, poll_id, commenter_id, commenter_fingerprint, content, created_at
		FROM comments WHERE id = $1`
	var cm models.Comment
	err := r.pool.QueryRow(ctx, q, id).Scan(&cm.ID, &cm.PollID, &cm.CommenterID,
		&cm.CommenterFingerprint, &cm.Content, &cm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCommentNotFound
		}
		return nil, err
	}
	return &cm, nil
}

// Delete removes a comment.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrCommentNotFound
	}
	return nil
}
