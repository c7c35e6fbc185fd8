package comments

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollify/backend/internal/middleware"
	"github.com/pollify/backend/internal/models"
	"github.com/pollify/backend/internal/realtime"
	"github.com/pollify/backend/pkg/queue"
	"github.com/pollify/backend/pkg/response"
)

// PollStore is the poll lookup surface the handler depends on.
type PollStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
}

// Store is the comment persistence surface the handler depends on.
type Store interface {
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]models.Comment, error)
	Create(ctx context.Context, cm *models.Comment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Comment, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Broadcaster pushes live events to poll viewers.
type Broadcaster interface {
	PublishToPollOnly(pollID uuid.UUID, event string, payload interface{})
}

// ActivityQueue records timeline events for async processing.
type ActivityQueue interface {
	EnqueueActivity(ctx context.Context, p queue.ActivityPayload) error
}

// Handler exposes comment HTTP endpoints.
type Handler struct {
	polls    PollStore
	store    Store
	hub      Broadcaster
	activity ActivityQueue
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a comments handler.
func NewHandler(polls PollStore, store Store, hub Broadcaster, activity ActivityQueue, logger *zap.Logger) *Handler {
	return &Handler{polls: polls, store: store, hub: hub, activity: activity, logger: logger, now: time.Now}
}

func (h *Handler) loadPoll(c *gin.Context) (*models.Poll, bool) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return nil, false
	}
	poll, err := h.polls.GetByID(c.Request.Context(), pollID)
	if err != nil {
		if errors.Is(err, models.ErrPollNotFound) {
			response.NotFound(c, "poll not found")
			return nil, false
		}
		h.logger.Error("poll lookup failed", zap.Error(err))
		response.Internal(c, "failed to load poll")
		return nil, false
	}
	return poll, true
}

func (h *Handler) isPollCreator(c *gin.Context, poll *models.Poll) bool {
	if poll.CreatorID == nil {
		return false
	}
	userID, ok := middleware.UserID(c)
	return ok && userID == *poll.CreatorID
}

// List returns a poll's comments. Private polls hide their comments from
// everyone but the creator, the same way the poll itself is hidden.
func (h *Handler) List(c *gin.Context) {
	poll, ok := h.loadPoll(c)
	if !ok {
		return
	}
	if poll.Visibility == models.VisibilityPrivate && !h.isPollCreator(c, poll) {
		response.NotFound(c, "poll not found")
		return
	}
	list, err := h.store.ListByPoll(c.Request.Context(), poll.ID)
	if err != nil {
		h.logger.Error("comment list failed", zap.Error(err))
		response.Internal(c, "failed to list comments")
		return
	}
	response.OK(c, list)
}

// CreateRequest is the comment creation payload.
type CreateRequest struct {
	Content     string `json:"content" binding:"required,min=1,max=1000"`
	Fingerprint string `json:"fingerprint" binding:"required"`
}

// Create posts a comment on a poll. Closed polls and polls with comments
// disabled reject new comments.
func (h *Handler) Create(c *gin.Context) {
	poll, ok := h.loadPoll(c)
	if !ok {
		return
	}
	if !poll.AllowComments {
		response.Forbidden(c, "comments are disabled on this poll")
		return
	}
	if poll.Status == models.StatusClosed {
		response.Conflict(c, models.ErrPollClosed.Error())
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cm := &models.Comment{
		PollID:               poll.ID,
		CommenterFingerprint: req.Fingerprint,
		Content:              req.Content,
	}
	if userID, ok := middleware.UserID(c); ok {
		cm.CommenterID = &userID
	}
	if err := h.store.Create(c.Request.Context(), cm); err != nil {
		h.logger.Error("comment insert failed", zap.Error(err))
		response.Internal(c, "failed to post comment")
		return
	}

	h.hub.PublishToPollOnly(poll.ID, realtime.EventCommentCreated, cm)
	err := h.activity.EnqueueActivity(c.Request.Context(), queue.ActivityPayload{
		PollID:     poll.ID,
		Kind:       string(models.ActivityCommentCreated),
		OccurredAt: h.now(),
	})
	if err != nil {
		h.logger.Warn("activity enqueue failed", zap.Error(err))
	}

	response.Created(c, cm)
}

// Delete removes a comment. Allowed for the comment's author (matched by
// account, or by fingerprint for anonymous authors) and for the poll's
// creator.
func (h *Handler) Delete(c *gin.Context) {
	commentID, err := uuid.Parse(c.Param("commentId"))
	if err != nil {
		response.BadRequest(c, "invalid comment id")
		return
	}
	cm, err := h.store.GetByID(c.Request.Context(), commentID)
	if err != nil {
		if errors.Is(err, models.ErrCommentNotFound) {
			response.NotFound(c, "comment not found")
			return
		}
		h.logger.Error("comment lookup failed", zap.Error(err))
		response.Internal(c, "failed to delete comment")
		return
	}

	if !h.canDelete(c, cm) {
		response.Forbidden(c, "only the comment author or poll creator can delete this")
		return
	}

	if err := h.store.Delete(c.Request.Context(), commentID); err != nil && !errors.Is(err, models.ErrCommentNotFound) {
		h.logger.Error("comment delete failed", zap.Error(err))
		response.Internal(c, "failed to delete comment")
		return
	}

	h.hub.PublishToPollOnly(cm.PollID, realtime.EventCommentDeleted, gin.H{"comment_id": cm.ID, "poll_id": cm.PollID})
	response.NoContent(c)
}

func (h *Handler) canDelete(c *gin.Context, cm *models.Comment) bool {
	if userID, ok := middleware.UserID(c); ok {
		if cm.CommenterID != nil && *cm.CommenterID == userID {
			return true
		}
	}
	if cm.CommenterID == nil {
		if fp := c.Query("fingerprint"); fp != "" && fp == cm.CommenterFingerprint {
			return true
		}
	}
	poll, err := h.polls.GetByID(c.Request.Context(), cm.PollID)
	if err != nil {
		return false
	}
	return h.isPollCreator(c, poll)
}
