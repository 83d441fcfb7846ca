package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/PaulBabatuyi/fieldsync/internal/metrics"
)

// Sink is the write side of one client connection. Write and Ping are only
// ever called from the connection's own writer goroutine; Close may be
// called from any goroutine.
type Sink interface {
	Write(payload []byte) error
	Ping() error
	Close(reason string) error
}

// client is a registered connection with its bounded send queue.
type client struct {
	id        int64
	userID    string
	sessionID string
	sink      Sink
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

// Hub maps each user id to its single live connection. A newer connection
// for the same user replaces and closes the older one.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*client
	nextID    int64
	queueSize int
	pingEvery time.Duration
}

// NewHub creates a hub. queueSize bounds each connection's pending events;
// pingEvery of zero disables keepalive pings.
func NewHub(queueSize int, pingEvery time.Duration) *Hub {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Hub{clients: make(map[string]*client), queueSize: queueSize, pingEvery: pingEvery}
}

// Register installs sink as userID's connection, opened under sessionID,
// and returns its id, which must be passed to Unregister when the
// connection ends.
func (h *Hub) Register(userID, sessionID string, sink Sink) int64 {
	h.mu.Lock()
	h.nextID++
	c := &client{
		id:        h.nextID,
		userID:    userID,
		sessionID: sessionID,
		sink:      sink,
		send:   make(chan []byte, h.queueSize),
		done:   make(chan struct{}),
	}
	old := h.clients[userID]
	h.clients[userID] = c
	h.mu.Unlock()

	if old != nil {
		log.Info().Str("user_id", userID).Int64("conn_id", old.id).Msg("closing superseded connection")
		h.stop(old, "replaced by a newer connection")
	}
	metrics.LiveConnections.Inc()
	go h.writeLoop(c)
	return c.id
}

// Unregister removes the connection id of userID. It does nothing when the
// id was already removed or replaced, so it is safe to call repeatedly.
func (h *Hub) Unregister(userID string, id int64) {
	h.mu.Lock()
	c, ok := h.clients[userID]
	if ok && c.id == id {
		delete(h.clients, userID)
	} else {
		c = nil
	}
	h.mu.Unlock()

	if c != nil {
		h.stop(c, "")
	}
}

// Online reports whether userID has a live connection on this process.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Unicast implements Notifier.
func (h *Hub) Unicast(_ context.Context, userID string, ev Event) {
	h.publish(ev, []string{userID}, false)
}

// Multicast implements Notifier.
func (h *Hub) Multicast(_ context.Context, userIDs []string, ev Event) {
	h.publish(ev, userIDs, false)
}

// Broadcast implements Notifier.
func (h *Hub) Broadcast(_ context.Context, ev Event) {
	h.publish(ev, nil, true)
}

// EndSessions implements Notifier.
func (h *Hub) EndSessions(_ context.Context, userID, keepSessionID, reason string) {
	h.Deliver(revokeEnvelope(userID, keepSessionID, reason))
}

func (h *Hub) publish(ev Event, targets []string, all bool) {
	env, err := NewEnvelope(ev, targets, all)
	if err != nil {
		log.Error().Err(err).Msg("drop event")
		return
	}
	h.Deliver(env)
}

// Deliver queues an encoded event to the audience's connections on this
// process and returns how many connections accepted it. Duplicate targets
// receive the event once. A full queue drops the event for that client
// only. A revoke envelope closes the targets' connections instead and
// returns how many were closed.
func (h *Hub) Deliver(env Envelope) int {
	if env.Revoke != nil {
		return h.revoke(env.Targets, env.Revoke)
	}

	h.mu.RLock()
	var recipients []*client
	if env.All {
		recipients = make([]*client, 0, len(h.clients))
		for _, c := range h.clients {
			recipients = append(recipients, c)
		}
	} else {
		seen := make(map[string]bool, len(env.Targets))
		for _, id := range env.Targets {
			if seen[id] {
				continue
			}
			seen[id] = true
			if c, ok := h.clients[id]; ok {
				recipients = append(recipients, c)
			}
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range recipients {
		select {
		case c.send <- env.Payload:
			delivered++
			metrics.EventsDelivered.WithLabelValues(env.Type).Inc()
		case <-c.done:
		default:
			metrics.EventsDropped.WithLabelValues(env.Type).Inc()
			log.Warn().Str("user_id", c.userID).Str("type", env.Type).Msg("send queue full, event dropped")
		}
	}
	return delivered
}

func (h *Hub) revoke(userIDs []string, rv *Revoke) int {
	var ended []*client
	h.mu.Lock()
	for _, id := range userIDs {
		c, ok := h.clients[id]
		if !ok || (rv.KeepSession != "" && c.sessionID == rv.KeepSession) {
			continue
		}
		delete(h.clients, id)
		ended = append(ended, c)
	}
	h.mu.Unlock()

	for _, c := range ended {
		log.Info().Str("user_id", c.userID).Int64("conn_id", c.id).Str("reason", rv.Reason).Msg("closing connection of ended session")
		h.stop(c, rv.Reason)
	}
	return len(ended)
}

// Close disconnects every client. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range all {
		h.stop(c, "server shutting down")
	}
}

func (h *Hub) stop(c *client, reason string) {
	c.once.Do(func() {
		close(c.done)
		metrics.LiveConnections.Dec()
		if err := c.sink.Close(reason); err != nil {
			log.Debug().Err(err).Str("user_id", c.userID).Msg("close connection")
		}
	})
}

// drop unregisters c if still current and closes it either way.
func (h *Hub) drop(c *client) {
	h.Unregister(c.userID, c.id)
	h.stop(c, "")
}

// writeLoop drains c's queue into its sink so a slow client never blocks
// the publisher. A failed write ends the connection.
func (h *Hub) writeLoop(c *client) {
	var tick <-chan time.Time
	if h.pingEvery > 0 {
		ticker := time.NewTicker(h.pingEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case payload := <-c.send:
			if err := c.sink.Write(payload); err != nil {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("write failed")
				h.drop(c)
				return
			}
		case <-tick:
			if err := c.sink.Ping(); err != nil {
				h.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}
