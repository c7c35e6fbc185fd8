package polls

import (
	"context"
	"errors"
	"strconv"
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

const (
	recentDefaultLimit = 6
	recentMaxLimit     = 50
)

// Store is the poll persistence surface the handler depends on.
type Store interface {
	SlugChecker
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	GetBySlug(ctx context.Context, slug string) (*models.Poll, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]models.PollSummary, error)
	ListRecent(ctx context.Context, limit int) ([]models.PollSummary, error)
	Results(ctx context.Context, pollID uuid.UUID) (map[string]int64, error)
	Update(ctx context.Context, id uuid.UUID, title, description, status *string) error
	Close(ctx context.Context, id uuid.UUID) error
}

// RateLimiter gates poll creation.
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

// Handler exposes poll HTTP endpoints.
type Handler struct {
	store    Store
	limiter  RateLimiter
	hub      Broadcaster
	activity ActivityQueue
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a polls handler.
func NewHandler(store Store, limiter RateLimiter, hub Broadcaster, activity ActivityQueue, logger *zap.Logger) *Handler {
	return &Handler{store: store, limiter: limiter, hub: hub, activity: activity, logger: logger, now: time.Now}
}

type createOptionRequest struct {
	Label    string `json:"label" binding:"required,min=1,max=100"`
	ImageURL string `json:"image_url" binding:"omitempty,url"`
}

// CreateRequest is the poll creation payload. Omitted booleans default to
// the permissive side.
type CreateRequest struct {
	Title                 string                `json:"title" binding:"required,min=1,max=200"`
	Description           string                `json:"description" binding:"max=500"`
	Type                  string                `json:"type" binding:"required,oneof=single multiple"`
	Visibility            string                `json:"visibility" binding:"required,oneof=public unlisted private"`
	Options               []createOptionRequest `json:"options" binding:"required,min=2,max=20,dive"`
	MaxSelections         *int                  `json:"max_selections" binding:"omitempty,min=1"`
	ShowResultsBeforeVote *bool                 `json:"show_results_before_vote"`
	RequireAuthToVote     bool                  `json:"require_auth_to_vote"`
	AllowEmbed            *bool                 `json:"allow_embed"`
	AllowComments         *bool                 `json:"allow_comments"`
	ClosesAt              *time.Time            `json:"closes_at"`
	Fingerprint           string                `json:"fingerprint" binding:"required"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Create makes a new poll. Works for both authenticated and anonymous
// creators; anonymous polls cannot be managed afterwards.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Type == string(models.PollTypeMultiple) && req.MaxSelections != nil && *req.MaxSelections > len(req.Options) {
		response.BadRequest(c, "max_selections cannot exceed the number of options")
		return
	}
	if req.ClosesAt != nil && !req.ClosesAt.After(h.now()) {
		response.BadRequest(c, "closes_at must be in the future")
		return
	}

	actor := models.Actor{Fingerprint: req.Fingerprint}
	if userID, ok := middleware.UserID(c); ok {
		actor.UserID = &userID
	}

	if err := h.limiter.Check(c.Request.Context(), actor.Identifier(), ratelimit.ActionCreatePoll); err != nil {
		var rlErr *ratelimit.Error
		if errors.As(err, &rlErr) {
			response.TooManyRequests(c, rlErr.Error(), rlErr.RetryAfter)
			return
		}
		h.logger.Error("rate limit check failed", zap.Error(err))
		response.Internal(c, "failed to create poll")
		return
	}

	slug, err := generateSlug(c.Request.Context(), h.store, h.now())
	if err != nil {
		h.logger.Error("slug generation failed", zap.Error(err))
		response.Internal(c, "failed to create poll")
		return
	}

	poll := &models.Poll{
		CreatorID:             actor.UserID,
		Slug:                  slug,
		Title:                 req.Title,
		Description:           req.Description,
		Type:                  models.PollType(req.Type),
		Visibility:            models.PollVisibility(req.Visibility),
		Status:                models.StatusActive,
		MaxSelections:         req.MaxSelections,
		ShowResultsBeforeVote: boolOr(req.ShowResultsBeforeVote, true),
		RequireAuthToVote:     req.RequireAuthToVote,
		AllowEmbed:            boolOr(req.AllowEmbed, true),
		AllowComments:         boolOr(req.AllowComments, true),
		ClosesAt:              req.ClosesAt,
	}
	for i, opt := range req.Options {
		o := models.PollOption{Label: opt.Label, Position: i}
		if opt.ImageURL != "" {
			img := opt.ImageURL
			o.ImageURL = &img
		}
		poll.Options = append(poll.Options, o)
	}

	if err := h.store.Create(c.Request.Context(), poll); err != nil {
		h.logger.Error("poll insert failed", zap.Error(err))
		response.Internal(c, "failed to create poll")
		return
	}

	response.Created(c, gin.H{"poll_id": poll.ID, "slug": poll.Slug})
}

// GetBySlug returns the public view of a poll. Private polls are only
// visible to their creator and are otherwise indistinguishable from
// missing ones.
func (h *Handler) GetBySlug(c *gin.Context) {
	poll, err := h.store.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, models.ErrPollNotFound) {
			response.NotFound(c, "poll not found")
			return
		}
		h.logger.Error("poll lookup failed", zap.Error(err))
		response.Internal(c, "failed to fetch poll")
		return
	}

	if poll.Visibility == models.VisibilityPrivate && !h.isCreator(c, poll) {
		response.NotFound(c, "poll not found")
		return
	}

	response.OK(c, poll)
}

// ListMine returns the caller's polls. Unauthenticated callers own nothing
// and get an empty list.
func (h *Handler) ListMine(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.OK(c, []models.PollSummary{})
		return
	}
	list, err := h.store.ListByCreator(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("poll list failed", zap.Error(err))
		response.Internal(c, "failed to list polls")
		return
	}
	response.OK(c, list)
}

// ListRecent returns the latest public polls.
func (h *Handler) ListRecent(c *gin.Context) {
	limit := recentDefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		if n > recentMaxLimit {
			n = recentMaxLimit
		}
		limit = n
	}
	list, err := h.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("recent poll list failed", zap.Error(err))
		response.Internal(c, "failed to list polls")
		return
	}
	response.OK(c, list)
}

// Results returns live per-option vote counts.
func (h *Handler) Results(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	counts, err := h.store.Results(c.Request.Context(), pollID)
	if err != nil {
		h.logger.Error("results query failed", zap.Error(err))
		response.Internal(c, "failed to fetch results")
		return
	}
	response.OK(c, counts)
}

// UpdateRequest patches poll metadata. Absent fields stay unchanged.
type UpdateRequest struct {
	Title       *string `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string `json:"description" binding:"omitempty,max=500"`
	Status      *string `json:"status" binding:"omitempty,oneof=active closed"`
}

// Update edits a poll's metadata. Creator only.
func (h *Handler) Update(c *gin.Context) {
	poll, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.store.Update(c.Request.Context(), poll.ID, req.Title, req.Description, req.Status); err != nil {
		h.logger.Error("poll update failed", zap.Error(err))
		response.Internal(c, "failed to update poll")
		return
	}

	h.hub.PublishToPollOnly(poll.ID, realtime.EventPollUpdated, gin.H{"poll_id": poll.ID})
	if req.Status != nil && *req.Status == string(models.StatusClosed) && poll.Status != models.StatusClosed {
		h.recordClosed(c, poll.ID)
	}
	response.OK(c, gin.H{"poll_id": poll.ID})
}

// Close marks a poll closed. Creator only, idempotent.
func (h *Handler) Close(c *gin.Context) {
	poll, ok := h.ownedPoll(c)
	if !ok {
		return
	}
	if err := h.store.Close(c.Request.Context(), poll.ID); err != nil {
		h.logger.Error("poll close failed", zap.Error(err))
		response.Internal(c, "failed to close poll")
		return
	}
	if poll.Status != models.StatusClosed {
		h.recordClosed(c, poll.ID)
	}
	response.OK(c, gin.H{"poll_id": poll.ID, "status": models.StatusClosed})
}

func (h *Handler) recordClosed(c *gin.Context, pollID uuid.UUID) {
	h.hub.PublishToPollOnly(pollID, realtime.EventPollClosed, gin.H{"poll_id": pollID})
	err := h.activity.EnqueueActivity(c.Request.Context(), queue.ActivityPayload{
		PollID:     pollID,
		Kind:       string(models.ActivityPollClosed),
		OccurredAt: h.now(),
	})
	if err != nil {
		h.logger.Warn("activity enqueue failed", zap.Error(err))
	}
}

// ownedPoll loads the poll from the :id param and enforces that the
// authenticated user is its creator. Writes the error response itself
// when the check fails.
func (h *Handler) ownedPoll(c *gin.Context) (*models.Poll, bool) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return nil, false
	}
	poll, err := h.store.GetByID(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, models.ErrPollNotFound) {
			response.NotFound(c, "poll not found")
			return nil, false
		}
		h.logger.Error("poll lookup failed", zap.Error(err))
		response.Internal(c, "failed to fetch poll")
		return nil, false
	}
	if !h.isCreator(c, poll) {
		response.Forbidden(c, "only the poll creator can do this")
		return nil, false
	}
	return poll, true
}

func (h *Handler) isCreator(c *gin.Context, poll *models.Poll) bool {
	if poll.CreatorID == nil {
		return false
	}
	userID, ok := middleware.UserID(c)
	return ok && userID == *poll.CreatorID
}
