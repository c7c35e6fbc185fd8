package models

import (
	"time"

	"github.com/google/uuid"
)

// Comment belongs to a poll and is owned by either an authenticated user or,
// for anonymous visitors, a fingerprint alone.
type Comment struct {
	ID                   uuid.UUID   `json:"id"`
	PollID               uuid.UUID   `json:"poll_id"`
	CommenterID          *uuid.UUID  `json:"commenter_id,omitempty"`
	CommenterFingerprint string      `json:"-"`
	Content              string      `json:"content"`
	CreatedAt            time.Time   `json:"created_at"`
	Commenter            *UserPublic `json:"commenter,omitempty"`
}
