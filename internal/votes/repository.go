package votes

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollify/backend/internal/models"
)

// Repository handles vote persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a votes repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// HasVoted reports whether the fingerprint already cast on the poll.
func (r *Repository) HasVoted(ctx context.Context, pollID uuid.UUID, fingerprint string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM poll_voters WHERE poll_id = $1 AND voter_fingerprint = $2)`
	var voted bool
	err := r.pool.QueryRow(ctx, q, pollID, fingerprint).Scan(&voted)
	return voted, err
}

// Cast records one cast (one or more selected options) atomically. The
// poll_voters insert is the uniqueness authority: when the fingerprint has
// already cast, the conflict clause eats the insert and we return
// ErrDuplicateVote without touching the votes table. Two concurrent casts
// from the same fingerprint therefore cannot both land.
func (r *Repository) Cast(ctx context.Context, pollID uuid.UUID, actor models.Actor, optionIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const voterQ = `INSERT INTO poll_voters (poll_id, voter_fingerprint, voter_id)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	tag, err := tx.Exec(ctx, voterQ, pollID, actor.Fingerprint, actor.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrDuplicateVote
	}

	const voteQ = `INSERT INTO votes (poll_id, option_id, voter_id, voter_fingerprint)
		VALUES ($1, $2, $3, $4)`
	for _, optionID := range optionIDs {
		if _, err := tx.Exec(ctx, voteQ, pollID, optionID, actor.UserID, actor.Fingerprint); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// ListByPoll returns every vote row for a poll, oldest first.
func (r *Repository) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	const q = `SELECT id, poll_id, option_id, voter_id, voter_fingerprint, created_at
		FROM votes WHERE poll_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Vote{}
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.ID, &v.PollID, &v.OptionID, &v.VoterID, &v.VoterFingerprint, &v.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}
