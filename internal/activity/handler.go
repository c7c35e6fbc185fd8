package activity

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollify/backend/internal/middleware"
	"github.com/pollify/backend/internal/models"
	"github.com/pollify/backend/pkg/response"
)

const (
	timelineDefaultLimit = 50
	timelineMaxLimit     = 200
)

// PollStore is the poll lookup surface the handler depends on.
type PollStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
}

// Store is the timeline read surface the handler depends on.
type Store interface {
	ListByPoll(ctx context.Context, pollID uuid.UUID, limit int) ([]models.ActivityEvent, error)
}

// Handler exposes the poll activity timeline. Creator only; the timeline
// leaks cast times, which the public results view deliberately does not.
type Handler struct {
	polls  PollStore
	store  Store
	logger *zap.Logger
}

// NewHandler creates an activity handler.
func NewHandler(polls PollStore, store Store, logger *zap.Logger) *Handler {
	return &Handler{polls: polls, store: store, logger: logger}
}

// Timeline returns the poll's recent activity events, newest first.
func (h *Handler) Timeline(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	poll, err := h.polls.GetByID(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, models.ErrPollNotFound) {
			response.NotFound(c, "poll not found")
			return
		}
		h.logger.Error("poll lookup failed", zap.Error(err))
		response.Internal(c, "failed to fetch activity")
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok || poll.CreatorID == nil || *poll.CreatorID != userID {
		response.Forbidden(c, "only the poll creator can view the activity timeline")
		return
	}

	limit := timelineDefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		if n > timelineMaxLimit {
			n = timelineMaxLimit
		}
		limit = n
	}

	list, err := h.store.ListByPoll(c.Request.Context(), pollID, limit)
	if err != nil {
		h.logger.Error("activity list failed", zap.Error(err))
		response.Internal(c, "failed to fetch activity")
		return
	}
	response.OK(c, list)
}
