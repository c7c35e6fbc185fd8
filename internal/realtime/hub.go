package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Events broadcast to poll rooms.
const (
	EventVoteCast       = "vote_cast"
	EventCommentCreated = "comment_created"
	EventCommentDeleted = "comment_deleted"
	EventPollUpdated    = "poll_updated"
	EventPollClosed     = "poll_closed"
)

// Hub maintains poll_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: events are published to Redis
// and delivered to local clients by the per-poll subscription, so every
// viewer receives each event exactly once regardless of which instance
// produced it.
type Hub struct {
	// pollID -> map[clientID]*Client
	polls    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per poll
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher publishes poll events to Redis for cross-instance broadcast.
type RedisPublisher interface {
	PublishPollEvent(pollID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to poll channels and invokes handler for
// incoming events.
type RedisSubscriber interface {
	SubscribePoll(pollID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		polls:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a poll room. Starts the Redis subscription for
// the poll when the first viewer arrives.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.polls[c.PollID] == nil {
		h.polls[c.PollID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribePoll(c.PollID, func(event string, payload []byte) {
				h.BroadcastToPoll(c.PollID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.PollID] = cancel
			}
		}
	}
	h.polls[c.PollID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("viewer joined poll", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID.String()))
}

// Unregister removes a client from a poll room. Cancels the Redis
// subscription when the last viewer leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.polls[c.PollID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.polls, c.PollID)
			if cancel, ok := h.subs[c.PollID]; ok {
				cancel()
				delete(h.subs, c.PollID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("viewer left poll", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID.String()))
}

// BroadcastToPoll sends a message to all clients in a poll room (local only).
func (h *Hub) BroadcastToPoll(pollID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	// Copy the room under the lock; ranging the live map here would race
	// Register/Unregister mutating it.
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.polls[pollID]))
	for _, c := range h.polls[pollID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishToPollOnly publishes to Redis only (no direct local broadcast): the
// per-poll subscriber callback performs the single broadcast for every
// instance, including this one, avoiding duplicate delivery. Falls back to a
// local broadcast when Redis is not wired.
func (h *Hub) PublishToPollOnly(pollID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		_ = h.redis.PublishPollEvent(pollID, event, data)
		return
	}
	h.BroadcastToPoll(pollID, event, payload)
}

// ViewerCount returns the number of connected clients watching a poll.
func (h *Hub) ViewerCount(pollID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.polls[pollID])
}
