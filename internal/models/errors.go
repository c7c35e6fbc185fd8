package models

import "errors"

var (
	ErrPollNotFound    = errors.New("poll not found")
	ErrPollClosed      = errors.New("poll is closed")
	ErrPollExpired     = errors.New("poll has expired")
	ErrInvalidOption   = errors.New("option does not belong to this poll")
	ErrDuplicateVote   = errors.New("already voted on this poll")
	ErrCommentNotFound = errors.New("comment not found")
)
