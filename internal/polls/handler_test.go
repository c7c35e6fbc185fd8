package polls

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pollify/backend/internal/middleware"
	"github.com/pollify/backend/internal/models"
	"github.com/pollify/backend/internal/ratelimit"
	"github.com/pollify/backend/pkg/queue"
	"github.com/pollify/backend/pkg/response"
)

type fakeStore struct {
	byID    map[uuid.UUID]*models.Poll
	bySlug  map[string]*models.Poll
	created *models.Poll
	updated bool
	closed  bool
	recent  []models.PollSummary
	mine    []models.PollSummary
	results map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:    map[uuid.UUID]*models.Poll{},
		bySlug:  map[string]*models.Poll{},
		results: map[string]int64{},
	}
}

func (f *fakeStore) add(p *models.Poll) {
	f.byID[p.ID] = p
	f.bySlug[p.Slug] = p
}

func (f *fakeStore) SlugExists(_ context.Context, slug string) (bool, error) {
	_, ok := f.bySlug[slug]
	return ok, nil
}

func (f *fakeStore) Create(_ context.Context, p *models.Poll) error {
	p.ID = uuid.New()
	f.created = p
	f.add(p)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	return p, nil
}

func (f *fakeStore) GetBySlug(_ context.Context, slug string) (*models.Poll, error) {
	p, ok := f.bySlug[slug]
	if !ok {
		return nil, models.ErrPollNotFound
	}
	return p, nil
}

func (f *fakeStore) ListByCreator(_ context.Context, _ uuid.UUID) ([]models.PollSummary, error) {
	return f.mine, nil
}

func (f *fakeStore) ListRecent(_ context.Context, limit int) ([]models.PollSummary, error) {
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeStore) Results(_ context.Context, _ uuid.UUID) (map[string]int64, error) {
	return f.results, nil
}

func (f *fakeStore) Update(_ context.Context, _ uuid.UUID, _, _, _ *string) error {
	f.updated = true
	return nil
}

func (f *fakeStore) Close(_ context.Context, _ uuid.UUID) error {
	f.closed = true
	return nil
}

type fakeLimiter struct {
	err    error
	checks int
}

func (f *fakeLimiter) Check(_ context.Context, _, _ string) error {
	f.checks++
	return f.err
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

func authAs(userID uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	}
}

type fixture struct {
	store    *fakeStore
	limiter  *fakeLimiter
	hub      *fakeHub
	activity *fakeActivityQueue
	handler  *Handler
	router   *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		store:    newFakeStore(),
		limiter:  &fakeLimiter{},
		hub:      &fakeHub{},
		activity: &fakeActivityQueue{},
	}
	f.handler = NewHandler(f.store, f.limiter, f.hub, f.activity, zap.NewNop())
	f.router = gin.New()
	return f
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validCreateBody() map[string]interface{} {
	return map[string]interface{}{
		"title":       "Lunch spot",
		"type":        "single",
		"visibility":  "public",
		"options":     []map[string]string{{"label": "Tacos"}, {"label": "Ramen"}},
		"fingerprint": "fp-abc",
	}
}

func TestCreatePollAnonymous(t *testing.T) {
	f := newFixture(t)
	f.router.POST("/polls", f.handler.Create)

	w := doJSON(f.router, http.MethodPost, "/polls", validCreateBody())

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, f.store.created)
	assert.Nil(t, f.store.created.CreatorID)
	assert.Len(t, f.store.created.Slug, slugLength)
	assert.Equal(t, models.StatusActive, f.store.created.Status)
	assert.True(t, f.store.created.ShowResultsBeforeVote)
	assert.True(t, f.store.created.AllowComments)
	assert.Len(t, f.store.created.Options, 2)
	assert.Equal(t, 1, f.limiter.checks)
}

func TestCreatePollAuthenticatedSetsCreator(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	f.router.POST("/polls", authAs(userID), f.handler.Create)

	w := doJSON(f.router, http.MethodPost, "/polls", validCreateBody())

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, f.store.created.CreatorID)
	assert.Equal(t, userID, *f.store.created.CreatorID)
}

func TestCreatePollRejectsSingleOption(t *testing.T) {
	f := newFixture(t)
	f.router.POST("/polls", f.handler.Create)

	body := validCreateBody()
	body["options"] = []map[string]string{{"label": "Only one"}}
	w := doJSON(f.router, http.MethodPost, "/polls", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, f.store.created)
}

func TestCreatePollRejectsPastDeadline(t *testing.T) {
	f := newFixture(t)
	f.router.POST("/polls", f.handler.Create)

	body := validCreateBody()
	body["closes_at"] = time.Now().Add(-time.Hour).Format(time.RFC3339)
	w := doJSON(f.router, http.MethodPost, "/polls", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePollRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.err = &ratelimit.Error{Action: ratelimit.ActionCreatePoll, RetryAfter: 42 * time.Second}
	f.router.POST("/polls", f.handler.Create)

	w := doJSON(f.router, http.MethodPost, "/polls", validCreateBody())

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	var body response.RetryAfterBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 42, body.RetryAfterSeconds)
	assert.Nil(t, f.store.created)
}

func TestGetBySlugPrivateHiddenFromStrangers(t *testing.T) {
	f := newFixture(t)
	creatorID := uuid.New()
	f.store.add(&models.Poll{
		ID:         uuid.New(),
		CreatorID:  &creatorID,
		Slug:       "secret12",
		Visibility: models.VisibilityPrivate,
	})
	f.router.GET("/p/:slug", f.handler.GetBySlug)

	w := doJSON(f.router, http.MethodGet, "/p/secret12", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBySlugPrivateVisibleToCreator(t *testing.T) {
	f := newFixture(t)
	creatorID := uuid.New()
	f.store.add(&models.Poll{
		ID:         uuid.New(),
		CreatorID:  &creatorID,
		Slug:       "secret12",
		Visibility: models.VisibilityPrivate,
	})
	f.router.GET("/p/:slug", authAs(creatorID), f.handler.GetBySlug)

	w := doJSON(f.router, http.MethodGet, "/p/secret12", nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListRecentClampsLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 60; i++ {
		f.store.recent = append(f.store.recent, models.PollSummary{ID: uuid.New()})
	}
	f.router.GET("/polls/recent", f.handler.ListRecent)

	w := doJSON(f.router, http.MethodGet, "/polls/recent?limit=500", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.PollSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, recentMaxLimit)
}

func TestListRecentDefaultLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.store.recent = append(f.store.recent, models.PollSummary{ID: uuid.New()})
	}
	f.router.GET("/polls/recent", f.handler.ListRecent)

	w := doJSON(f.router, http.MethodGet, "/polls/recent", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.PollSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, recentDefaultLimit)
}

func TestListMineEmptyWhenAnonymous(t *testing.T) {
	f := newFixture(t)
	f.store.mine = []models.PollSummary{{ID: uuid.New()}}
	f.router.GET("/polls/mine", f.handler.ListMine)

	w := doJSON(f.router, http.MethodGet, "/polls/mine", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.PollSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Data)
}

func TestListMineReturnsOwnPolls(t *testing.T) {
	f := newFixture(t)
	f.store.mine = []models.PollSummary{{ID: uuid.New()}, {ID: uuid.New()}}
	f.router.GET("/polls/mine", authAs(uuid.New()), f.handler.ListMine)

	w := doJSON(f.router, http.MethodGet, "/polls/mine", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.PollSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}

func TestCloseRequiresCreator(t *testing.T) {
	f := newFixture(t)
	creatorID := uuid.New()
	poll := &models.Poll{ID: uuid.New(), CreatorID: &creatorID, Slug: "closeme1", Status: models.StatusActive}
	f.store.add(poll)
	f.router.POST("/polls/:id/close", authAs(uuid.New()), f.handler.Close)

	w := doJSON(f.router, http.MethodPost, "/polls/"+poll.ID.String()+"/close", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, f.store.closed)
}

func TestCloseBroadcastsAndRecordsActivity(t *testing.T) {
	f := newFixture(t)
	creatorID := uuid.New()
	poll := &models.Poll{ID: uuid.New(), CreatorID: &creatorID, Slug: "closeme2", Status: models.StatusActive}
	f.store.add(poll)
	f.router.POST("/polls/:id/close", authAs(creatorID), f.handler.Close)

	w := doJSON(f.router, http.MethodPost, "/polls/"+poll.ID.String()+"/close", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.store.closed)
	assert.Contains(t, f.hub.events, "poll_closed")
	require.Len(t, f.activity.payloads, 1)
	assert.Equal(t, string(models.ActivityPollClosed), f.activity.payloads[0].Kind)
}

func TestUpdateAnonymousPollForbidden(t *testing.T) {
	f := newFixture(t)
	poll := &models.Poll{ID: uuid.New(), Slug: "anon1234", Status: models.StatusActive}
	f.store.add(poll)
	f.router.PATCH("/polls/:id", authAs(uuid.New()), f.handler.Update)

	w := doJSON(f.router, http.MethodPatch, "/polls/"+poll.ID.String(), map[string]string{"title": "New title"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, f.store.updated)
}
