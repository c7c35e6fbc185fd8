package models

import (
	"time"

	"github.com/google/uuid"
)

// Vote is one selected option within a cast. A multi-select cast inserts
// several rows sharing the same fingerprint; the per-cast uniqueness lives in
// the poll_voters table, not here.
type Vote struct {
	ID               uuid.UUID  `json:"id"`
	PollID           uuid.UUID  `json:"poll_id"`
	OptionID         uuid.UUID  `json:"option_id"`
	VoterID          *uuid.UUID `json:"voter_id,omitempty"`
	VoterFingerprint string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
}
