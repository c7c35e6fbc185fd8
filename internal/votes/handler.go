package votes

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollify/backend/internal/middleware"
	"github.com/pollify/backend/internal/models"
	"github.com/pollify/backend/internal/ratelimit"
	"github.com/pollify/backend/internal/realtime"
	"github.com/pollify/backend/pkg/queue"
	"github.com/pollify/backend/pkg/response"
)

// PollStore is the poll lookup surface the handler depends on.
type PollStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	Results(ctx context.Context, pollID uuid.UUID) (map[string]int64, error)
}

// Store is the vote persistence surface the handler depends on.
type Store interface {
	HasVoted(ctx context.Context, pollID uuid.UUID, fingerprint string) (bool, error)
	Cast(ctx context.Context, pollID uuid.UUID, actor models.Actor, optionIDs []uuid.UUID) error
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error)
}

// RateLimiter gates vote casting.
type RateLimiter interface {
	Check(ctx context.Context, identifier, action string) error
}

// Broadcaster pushes live events to poll viewers.
type Broadcaster interface {
	PublishToPollOnly(pollID uuid.UUID, event string, payload interface{})
}

// ActivityQueue records timeline events for async processing.
type ActivityQueue interface {
	EnqueueActivity(ctx context.Context, p queue.ActivityPayload) error
}

// Handler exposes voting HTTP endpoints.
type Handler struct {
	polls    PollStore
	store    Store
	limiter  RateLimiter
	hub      Broadcaster
	activity ActivityQueue
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a votes handler.
func NewHandler(polls PollStore, store Store, limiter RateLimiter, hub Broadcaster, activity ActivityQueue, logger *zap.Logger) *Handler {
	return &Handler{polls: polls, store: store, limiter: limiter, hub: hub, activity: activity, logger: logger, now: time.Now}
}

// CastRequest selects one or more options of a poll.
type CastRequest struct {
	OptionIDs   []uuid.UUID `json:"option_ids" binding:"required,min=1"`
	Fingerprint string      `json:"fingerprint" binding:"required"`
}

// Cast records a vote. The checks run in a fixed order so a request that
// fails several of them gets a deterministic error: existence, lifecycle,
// auth, selection shape, then the rate limit. The limiter runs last among
// the gates so rejected requests never consume budget, and the storage
// layer is the final authority on duplicates.
func (h *Handler) Cast(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	var req CastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	poll, err := h.polls.GetByID(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, models.ErrPollNotFound) {
			response.NotFound(c, "poll not found")
			return
		}
		h.logger.Error("poll lookup failed", zap.Error(err))
		response.Internal(c, "failed to cast vote")
		return
	}
	if poll.Status == models.StatusClosed {
		response.Conflict(c, models.ErrPollClosed.Error())
		return
	}
	if poll.Expired(h.now()) {
		response.Conflict(c, models.ErrPollExpired.Error())
		return
	}

	actor := models.Actor{Fingerprint: req.Fingerprint}
	if userID, ok := middleware.UserID(c); ok {
		actor.UserID = &userID
	}
	if poll.RequireAuthToVote && !actor.Authenticated() {
		response.Unauthorized(c, "this poll requires a logged-in account to vote")
		return
	}

	if err := h.validateSelection(poll, req.OptionIDs); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	// Vote limiting is keyed by fingerprint even for logged-in users, so a
	// device cannot dodge the limit by flipping login state mid-burst.
	if err := h.limiter.Check(c.Request.Context(), actor.Fingerprint, ratelimit.ActionVote); err != nil {
		var rlErr *ratelimit.Error
		if errors.As(err, &rlErr) {
			response.TooManyRequests(c, rlErr.Error(), rlErr.RetryAfter)
			return
		}
		h.logger.Error("rate limit check failed", zap.Error(err))
		response.Internal(c, "failed to cast vote")
		return
	}

	if err := h.store.Cast(c.Request.Context(), pollID, actor, req.OptionIDs); err != nil {
		if errors.Is(err, models.ErrDuplicateVote) {
			response.Conflict(c, models.ErrDuplicateVote.Error())
			return
		}
		h.logger.Error("vote insert failed", zap.Error(err))
		response.Internal(c, "failed to cast vote")
		return
	}

	results, err := h.polls.Results(c.Request.Context(), pollID)
	if err != nil {
		h.logger.Warn("results refresh failed", zap.Error(err))
		results = map[string]int64{}
	}
	h.hub.PublishToPollOnly(pollID, realtime.EventVoteCast, gin.H{"poll_id": pollID, "results": results})

	for _, optionID := range req.OptionIDs {
		id := optionID
		err := h.activity.EnqueueActivity(c.Request.Context(), queue.ActivityPayload{
			PollID:     pollID,
			Kind:       string(models.ActivityVoteCast),
			OptionID:   &id,
			OccurredAt: h.now(),
		})
		if err != nil {
			h.logger.Warn("activity enqueue failed", zap.Error(err))
		}
	}

	response.Created(c, gin.H{"voted": true, "results": results})
}

// validateSelection enforces the poll's selection shape: exactly one option
// for single-choice polls, between one and max_selections for multi-choice,
// no repeats, and every option must belong to the poll.
func (h *Handler) validateSelection(poll *models.Poll, optionIDs []uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(optionIDs))
	for _, id := range optionIDs {
		if _, dup := seen[id]; dup {
			return errors.New("option_ids contains duplicates")
		}
		seen[id] = struct{}{}
		if poll.Option(id) == nil {
			return models.ErrInvalidOption
		}
	}
	switch poll.Type {
	case models.PollTypeSingle:
		if len(optionIDs) != 1 {
			return errors.New("single-choice polls accept exactly one option")
		}
	case models.PollTypeMultiple:
		max := len(poll.Options)
		if poll.MaxSelections != nil && *poll.MaxSelections < max {
			max = *poll.MaxSelections
		}
		if len(optionIDs) > max {
			return errors.New("too many options selected")
		}
	}
	return nil
}

// Voted reports whether the given fingerprint has already cast on the poll.
func (h *Handler) Voted(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	fingerprint := c.Query("fingerprint")
	if fingerprint == "" {
		response.BadRequest(c, "fingerprint is required")
		return
	}
	voted, err := h.store.HasVoted(c.Request.Context(), pollID, fingerprint)
	if err != nil {
		h.logger.Error("voted lookup failed", zap.Error(err))
		response.Internal(c, "failed to check vote status")
		return
	}
	response.OK(c, gin.H{"voted": voted})
}

// Details returns the raw vote rows for a poll. Creator only.
func (h *Handler) Details(c *gin.Context) {
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
		response.Internal(c, "failed to fetch votes")
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok || poll.CreatorID == nil || *poll.CreatorID != userID {
		response.Forbidden(c, "only the poll creator can view vote details")
		return
	}
	list, err := h.store.ListByPoll(c.Request.Context(), pollID)
	if err != nil {
		h.logger.Error("vote list failed", zap.Error(err))
		response.Internal(c, "failed to fetch votes")
		return
	}
	response.OK(c, list)
}
