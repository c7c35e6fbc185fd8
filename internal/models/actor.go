package models

import "github.com/google/uuid"

// Actor identifies who is performing a request: an authenticated user, or an
// anonymous visitor known only by a browser fingerprint. Authenticated actors
// still carry the fingerprint so votes stay deduplicated across login state.
type Actor struct {
	UserID      *uuid.UUID
	Fingerprint string
}

// Authenticated reports whether the actor has a logged-in user behind it.
func (a Actor) Authenticated() bool { return a.UserID != nil }

// Identifier returns the rate-limit key for the actor: the user ID when
// authenticated (more trustworthy than a fingerprint), else the fingerprint.
func (a Actor) Identifier() string {
	if a.UserID != nil {
		return a.UserID.String()
	}
	return a.Fingerprint
}
