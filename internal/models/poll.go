package models

import (
	"time"

	"github.com/google/uuid"
)

// PollType controls how many options a single cast may select.
type PollType string

const (
	PollTypeSingle   PollType = "single"
	PollTypeMultiple PollType = "multiple"
)

// PollVisibility controls who can see a poll.
type PollVisibility string

const (
	VisibilityPublic   PollVisibility = "public"
	VisibilityUnlisted PollVisibility = "unlisted"
	VisibilityPrivate  PollVisibility = "private"
)

// PollStatus is the poll lifecycle state. Expiry via ClosesAt is soft: the
// status stays "active" and voting handlers check the deadline themselves.
type PollStatus string

const (
	StatusActive PollStatus = "active"
	StatusClosed PollStatus = "closed"
)

// Poll is a question with a fixed set of options, reachable by its slug.
type Poll struct {
	ID                    uuid.UUID      `json:"id"`
	CreatorID             *uuid.UUID     `json:"creator_id,omitempty"`
	Slug                  string         `json:"slug"`
	Title                 string         `json:"title"`
	Description           string         `json:"description,omitempty"`
	Type                  PollType       `json:"type"`
	Visibility            PollVisibility `json:"visibility"`
	Status                PollStatus     `json:"status"`
	MaxSelections         *int           `json:"max_selections,omitempty"`
	ShowResultsBeforeVote bool           `json:"show_results_before_vote"`
	RequireAuthToVote     bool           `json:"require_auth_to_vote"`
	AllowEmbed            bool           `json:"allow_embed"`
	AllowComments         bool           `json:"allow_comments"`
	ClosesAt              *time.Time     `json:"closes_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`

	Options []PollOption `json:"options,omitempty"`
	Creator *UserPublic  `json:"creator,omitempty"`
}

// Expired reports whether the poll's voting deadline has passed.
func (p *Poll) Expired(now time.Time) bool {
	return p.ClosesAt != nil && p.ClosesAt.Before(now)
}

// Option returns the option with the given ID, or nil if it does not belong
// to this poll.
func (p *Poll) Option(id uuid.UUID) *PollOption {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i]
		}
	}
	return nil
}

// PollOption belongs to exactly one poll, ordered by Position.
type PollOption struct {
	ID        uuid.UUID `json:"id"`
	PollID    uuid.UUID `json:"poll_id"`
	Label     string    `json:"label"`
	Position  int       `json:"position"`
	ImageURL  *string   `json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PollSummary is the list-view shape with aggregate counts.
type PollSummary struct {
	ID          uuid.UUID      `json:"id"`
	Slug        string         `json:"slug"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Type        PollType       `json:"type"`
	Visibility  PollVisibility `json:"visibility"`
	Status      PollStatus     `json:"status"`
	OptionCount int            `json:"option_count"`
	VoteCount   int            `json:"vote_count"`
	CreatedAt   time.Time      `json:"created_at"`
}
