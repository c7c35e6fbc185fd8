package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityKind identifies what happened on a poll.
type ActivityKind string

const (
	ActivityVoteCast       ActivityKind = "vote_cast"
	ActivityCommentCreated ActivityKind = "comment_created"
	ActivityPollClosed     ActivityKind = "poll_closed"
)

// ActivityEvent is one entry in a poll's timeline, written asynchronously by
// the worker. Feeds the creator's statistics and timeline views.
type ActivityEvent struct {
	ID        uuid.UUID    `json:"id"`
	PollID    uuid.UUID    `json:"poll_id"`
	Kind      ActivityKind `json:"kind"`
	OptionID  *uuid.UUID   `json:"option_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
