package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Anonymous visitors never get a row here;
// they are identified by a browser fingerprint only.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // bcrypt hash
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserPublic is the denormalized shape embedded in polls and comments.
type UserPublic struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Image string    `json:"image,omitempty"`
}

// ToPublic strips private fields for embedding in API responses.
func (u *User) ToPublic() UserPublic {
	return UserPublic{ID: u.ID, Name: u.FullName, Image: u.AvatarURL}
}
