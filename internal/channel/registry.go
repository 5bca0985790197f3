package channel

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports a client id with no open channel.
	ErrNotFound = errors.New("channel not found")
	// ErrQueueSaturated reports a full outbound queue. The caller decides
	// whether to drop the frame or close the channel.
	ErrQueueSaturated = errors.New("channel queue saturated")
)

type state int

const (
	stateOpen state = iota
	stateClosed
)

// ClientChannel is one client's outbound delivery queue. Frames are pushed
// through Enqueue and drained by exactly one transport goroutine reading
// Queue(). Closing is idempotent and safe against concurrent enqueues.
type ClientChannel struct {
	id string

	mu         sync.Mutex
	st         state
	queue      chan Message
	lastActive time.Time
}

// ID returns the assigned client id.
func (c *ClientChannel) ID() string { return c.id }

// Queue exposes the receive side for the transport loop. The channel is
// closed when the client channel closes, ending the range loop.
func (c *ClientChannel) Queue() <-chan Message { return c.queue }

// Closed reports whether the channel has been closed.
func (c *ClientChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == stateClosed
}

// LastActive returns the time of the last successful enqueue.
func (c *ClientChannel) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *ClientChannel) enqueue(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == stateClosed {
		// Late result after disconnect: drop without error.
		return nil
	}
	select {
	case c.queue <- msg:
		c.lastActive = time.Now()
		return nil
	default:
		return ErrQueueSaturated
	}
}

func (c *ClientChannel) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == stateClosed {
		return false
	}
	c.st = stateClosed
	close(c.queue)
	return true
}

// Registry tracks all open client channels. All methods are safe for
// concurrent use.
type Registry struct {
	queueSize int
	logger    *slog.Logger

	mu       sync.RWMutex
	channels map[string]*ClientChannel
}

func NewRegistry(queueSize int, logger *slog.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		queueSize: queueSize,
		logger:    logger,
		channels:  make(map[string]*ClientChannel),
	}
}

// Open creates a channel with a fresh client id and queues the initial
// connection event on it.
func (r *Registry) Open() *ClientChannel {
	ch := &ClientChannel{
		id:         uuid.NewString(),
		queue:      make(chan Message, r.queueSize),
		lastActive: time.Now(),
	}

	r.mu.Lock()
	r.channels[ch.id] = ch
	n := len(r.channels)
	r.mu.Unlock()

	_ = ch.enqueue(Message{
		Event: EventConnection,
		Data:  map[string]any{"client_id": ch.id},
	})
	r.logger.Info("channel opened", "client_id", ch.id, "open_channels", n)
	return ch
}

// Lookup returns the channel for the given client id, open or not yet
// removed from the registry.
func (r *Registry) Lookup(clientID string) (*ClientChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[clientID]
	return ch, ok
}

// Enqueue pushes a frame onto the identified channel. An unknown client id
// returns ErrNotFound; a closed channel silently drops the frame; a full
// queue returns ErrQueueSaturated and leaves the channel open.
func (r *Registry) Enqueue(clientID string, msg Message) error {
	ch, ok := r.Lookup(clientID)
	if !ok {
		return ErrNotFound
	}
	return ch.enqueue(msg)
}

// Touch marks the identified channel active without delivering a frame.
// Called when a client submits a call, so activity tracking covers clients
// that mostly listen.
func (r *Registry) Touch(clientID string) {
	ch, ok := r.Lookup(clientID)
	if !ok {
		return
	}
	ch.mu.Lock()
	if ch.st == stateOpen {
		ch.lastActive = time.Now()
	}
	ch.mu.Unlock()
}

// Close terminates the identified channel and removes it from the registry.
// Closing an unknown or already closed channel is a no-op.
func (r *Registry) Close(clientID string) {
	r.mu.Lock()
	ch, ok := r.channels[clientID]
	if ok {
		delete(r.channels, clientID)
	}
	n := len(r.channels)
	r.mu.Unlock()
	if !ok {
		return
	}
	if ch.close() {
		r.logger.Info("channel closed", "client_id", clientID, "open_channels", n)
	}
}

// CloseAll terminates every open channel. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	chans := make([]*ClientChannel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.channels = make(map[string]*ClientChannel)
	r.mu.Unlock()

	for _, ch := range chans {
		ch.close()
	}
	if len(chans) > 0 {
		r.logger.Info("all channels closed", "count", len(chans))
	}
}

// Len returns the number of open channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// OpenIDs returns a snapshot of the client ids with open channels.
func (r *Registry) OpenIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	return ids
}
