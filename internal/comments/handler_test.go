package comments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pollify/backend/internal/middleware"
	"github.com/pollify/backend/internal/models"
	"github.com/pollify/backend/pkg/queue"
)

type fakePollStore struct {
	polls map[uuid.UUID]*models.Poll
}

func (f *fakePollStore) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	p, ok := f.polls[id]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	return p, nil
}

type fakeCommentStore struct {
	comments map[uuid.UUID]*models.Comment
}

func newFakeCommentStore() *fakeCommentStore {
	return &fakeCommentStore{comments: map[uuid.UUID]*models.Comment{}}
}

func (f *fakeCommentStore) ListByPoll(_ context.Context, pollID uuid.UUID) ([]models.Comment, error) {
	out := []models.Comment{}
	for _, cm := range f.comments {
		if cm.PollID == pollID {
			out = append(out, *cm)
		}
	}
	return out, nil
}

func (f *fakeCommentStore) Create(_ context.Context, cm *models.Comment) error {
	cm.ID = uuid.New()
	f.comments[cm.ID] = cm
	return nil
}

func (f *fakeCommentStore) GetByID(_ context.Context, id uuid.UUID) (*models.Comment, error) {
	cm, ok := f.comments[id]
	if !ok {
		return nil, models.ErrCommentNotFound
	}
	return cm, nil
}

func (f *fakeCommentStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.comments[id]; !ok {
		return models.ErrCommentNotFound
	}
	delete(f.comments, id)
	return nil
}

type fakeHub struct {
	events []string
}

func (f *fakeHub) PublishToPollOnly(_ uuid.UUID, event string, _ interface{}) {
	f.events = append(f.events, event)
}

type fakeActivityQueue struct {
	payloads []queue.ActivityPayload
}

func (f *fakeActivityQueue) EnqueueActivity(_ context.Context, p queue.ActivityPayload) error {
	f.payloads = append(f.payloads, p)
	return nil
}

type fixture struct {
	polls    *fakePollStore
	store    *fakeCommentStore
	hub      *fakeHub
	activity *fakeActivityQueue
	handler  *Handler
	poll     *models.Poll
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		polls:    &fakePollStore{polls: map[uuid.UUID]*models.Poll{}},
		store:    newFakeCommentStore(),
		hub:      &fakeHub{},
		activity: &fakeActivityQueue{},
	}
	f.poll = &models.Poll{
		ID:            uuid.New(),
		Slug:          "chatty12",
		Visibility:    models.VisibilityPublic,
		Status:        models.StatusActive,
		AllowComments: true,
	}
	f.polls.polls[f.poll.ID] = f.poll
	f.handler = NewHandler(f.polls, f.store, f.hub, f.activity, zap.NewNop())
	return f
}

func (f *fixture) router(userID *uuid.UUID) *gin.Engine {
	r := gin.New()
	if userID != nil {
		id := *userID
		r.Use(func(c *gin.Context) {
			c.Set(middleware.ContextUserID, id)
			c.Next()
		})
	}
	r.GET("/polls/:id/comments", f.handler.List)
	r.POST("/polls/:id/comments", f.handler.Create)
	r.DELETE("/polls/:id/comments/:commentId", f.handler.Delete)
	return r
}

func (f *fixture) post(r *gin.Engine, content, fingerprint string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{"content": content, "fingerprint": fingerprint})
	req := httptest.NewRequest(http.MethodPost, "/polls/"+f.poll.ID.String()+"/comments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateCommentBroadcasts(t *testing.T) {
	f := newFixture(t)
	r := f.router(nil)

	w := f.post(r, "nice poll", "fp-1")

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, f.store.comments, 1)
	assert.Contains(t, f.hub.events, "comment_created")
	require.Len(t, f.activity.payloads, 1)
	assert.Equal(t, string(models.ActivityCommentCreated), f.activity.payloads[0].Kind)
}

func TestCreateCommentRejectedWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.poll.AllowComments = false
	r := f.router(nil)

	w := f.post(r, "hello", "fp-1")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.store.comments)
}

func TestCreateCommentRejectedOnClosedPoll(t *testing.T) {
	f := newFixture(t)
	f.poll.Status = models.StatusClosed
	r := f.router(nil)

	w := f.post(r, "too late", "fp-1")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateCommentContentBounds(t *testing.T) {
	f := newFixture(t)
	r := f.router(nil)

	assert.Equal(t, http.StatusBadRequest, f.post(r, "", "fp-1").Code)
	assert.Equal(t, http.StatusBadRequest, f.post(r, strings.Repeat("x", 1001), "fp-1").Code)
	assert.Equal(t, http.StatusCreated, f.post(r, strings.Repeat("x", 1000), "fp-2").Code)
	assert.Equal(t, http.StatusCreated, f.post(r, "x", "fp-3").Code)
}

func TestListCommentsOnPrivatePollHidden(t *testing.T) {
	f := newFixture(t)
	creatorID := uuid.New()
	f.poll.Visibility = models.VisibilityPrivate
	f.poll.CreatorID = &creatorID

	w := httptest.NewRecorder()
	f.router(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/polls/"+f.poll.ID.String()+"/comments", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	f.router(&creatorID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/polls/"+f.poll.ID.String()+"/comments", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func (f *fixture) deleteReq(r *gin.Engine, commentID uuid.UUID, query string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	url := "/polls/" + f.poll.ID.String() + "/comments/" + commentID.String() + query
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, url, nil))
	return w
}

func TestDeleteCommentByAnonymousAuthorFingerprint(t *testing.T) {
	f := newFixture(t)
	cm := &models.Comment{PollID: f.poll.ID, CommenterFingerprint: "fp-1", Content: "mine"}
	require.NoError(t, f.store.Create(context.Background(), cm))
	r := f.router(nil)

	w := f.deleteReq(r, cm.ID, "?fingerprint=fp-other")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.deleteReq(r, cm.ID, "?fingerprint=fp-1")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.store.comments)
	assert.Contains(t, f.hub.events, "comment_deleted")
}

func TestDeleteCommentByAuthor(t *testing.T) {
	f := newFixture(t)
	authorID := uuid.New()
	cm := &models.Comment{PollID: f.poll.ID, CommenterID: &authorID, CommenterFingerprint: "fp-1", Content: "mine"}
	require.NoError(t, f.store.Create(context.Background(), cm))

	w := f.deleteReq(f.router(&authorID), cm.ID, "")

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteCommentByPollCreator(t *testing.T) {
	f := newFixture(t)
	creatorID := uuid.New()
	authorID := uuid.New()
	f.poll.CreatorID = &creatorID
	cm := &models.Comment{PollID: f.poll.ID, CommenterID: &authorID, CommenterFingerprint: "fp-1", Content: "offensive"}
	require.NoError(t, f.store.Create(context.Background(), cm))

	w := f.deleteReq(f.router(&creatorID), cm.ID, "")

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteCommentByStrangerForbidden(t *testing.T) {
	f := newFixture(t)
	authorID := uuid.New()
	cm := &models.Comment{PollID: f.poll.ID, CommenterID: &authorID, CommenterFingerprint: "fp-1", Content: "mine"}
	require.NoError(t, f.store.Create(context.Background(), cm))

	strangerID := uuid.New()
	w := f.deleteReq(f.router(&strangerID), cm.ID, "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, f.store.comments, 1)
}
