// Package hub tracks live client connections and the channels they belong to.
// It is transport plumbing only: frames are opaque bytes and nothing here
// inspects payloads.
package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/example/haul-dispatch/internal/observability"
)

const defaultSendBuffer = 64

// Conn is one client connection. Outbound frames are queued on send and
// drained by the connection's writer.
type Conn struct {
	ID string

	send     chan []byte
	role     string
	entityID string
	channels map[string]struct{}
}

// Outbox exposes the outbound queue. It is closed when the connection is
// removed from the registry.
func (c *Conn) Outbox() <-chan []byte { return c.send }

// Registry holds connections and channel memberships.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	channels map[string]map[string]*Conn
	buffer   int
	logger   *slog.Logger
}

func NewRegistry(buffer int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:    make(map[string]*Conn),
		channels: make(map[string]map[string]*Conn),
		buffer:   buffer,
		logger:   logger.With("component", "hub"),
	}
}

// Connect registers a new connection and returns it.
func (r *Registry) Connect() *Conn {
	c := &Conn{
		ID:       uuid.NewString(),
		send:     make(chan []byte, r.buffer),
		channels: make(map[string]struct{}),
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	observability.ConnectionsActive.Inc()
	r.logger.Debug("connection opened", "conn_id", c.ID)
	return c
}

// Disconnect drops the connection from every channel and closes its queue.
// It reports whether the connection was known.
func (r *Registry) Disconnect(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	for ch := range c.channels {
		r.leave(c, ch)
	}
	delete(r.conns, id)
	close(c.send)
	r.mu.Unlock()

	observability.ConnectionsActive.Dec()
	r.logger.Debug("connection closed", "conn_id", id, "role", c.role)
	return true
}

// Bind records the logical identity behind a connection. The first role bound
// sticks; a later bind with a different role is refused and the existing role
// is returned.
func (r *Registry) Bind(id, role, entityID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return "", false
	}
	if c.role != "" && c.role != role {
		return c.role, false
	}
	c.role = role
	if entityID != "" {
		c.entityID = entityID
	}
	return c.role, true
}

// Identity returns the role and entity bound to a connection.
func (r *Registry) Identity(id string) (role, entityID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return "", "", false
	}
	return c.role, c.entityID, true
}

func (r *Registry) Subscribe(id, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]*Conn)
		r.channels[channel] = members
	}
	members[id] = c
	c.channels[channel] = struct{}{}
	return true
}

func (r *Registry) Unsubscribe(id, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		r.leave(c, channel)
	}
}

// leave must be called with r.mu held for writing.
func (r *Registry) leave(c *Conn, channel string) {
	delete(c.channels, channel)
	members, ok := r.channels[channel]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.channels, channel)
	}
}

// Publish fans a frame out to every member of channel and returns how many
// connections it was queued for.
func (r *Registry) Publish(channel string, frame []byte) int {
	return r.PublishExcept(channel, "", frame)
}

// PublishExcept is Publish skipping one connection.
func (r *Registry) PublishExcept(channel, exceptID string, frame []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id, c := range r.channels[channel] {
		if id == exceptID {
			continue
		}
		if r.enqueue(c, frame) {
			n++
		}
	}
	return n
}

// SendTo queues a frame for a single connection. It returns false if the
// connection is gone or its queue is full.
func (r *Registry) SendTo(id string, frame []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	return r.enqueue(c, frame)
}

// enqueue never blocks; a client that cannot keep up loses frames rather than
// stalling the sender.
func (r *Registry) enqueue(c *Conn, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		observability.FramesDropped.Inc()
		r.logger.Warn("outbound queue full, frame dropped", "conn_id", c.ID, "role", c.role)
		return false
	}
}

// Members returns the current size of channel.
func (r *Registry) Members(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns the identifiers of all open connections.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}
