// Package watch streams version changes of grist values to remote
// inspectors over WebSocket.
//
// A Hub subscribes once to each registered source. Every notification is
// fanned out to connected clients as a JSON Update. Clients that fall behind
// only ever receive the latest version of each source: intermediate versions
// are coalesced, so a slow client never slows down the goroutine that wrote
// the value.
//
//	hub := watch.NewHub()
//	defer hub.Close()
//	hub.Watch("score", score)
//	http.Handle("/ws", hub)
package watch

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gristmill-dev/grist/pkg/grist"
)

var (
	// ErrClosed is returned by Watch after Close.
	ErrClosed = errors.New("watch: hub closed")

	// ErrDuplicate is returned by Watch when the name is already registered.
	ErrDuplicate = errors.New("watch: name already watched")
)

// Watchable is implemented by *grist.Obj[T].
type Watchable interface {
	Version() uint64
	SubscribeFunc(fn func()) *grist.Subscription
}

// Update is sent to clients for each changed source.
type Update struct {
	Name    string `json:"name"`
	Version uint64 `json:"version"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger for connection events.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithCheckOrigin sets the origin check used during the WebSocket upgrade.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// WithWriteTimeout sets the per-message write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.writeTimeout = d
	}
}

type source struct {
	src Watchable
	sub *grist.Subscription
}

// Hub fans out source notifications to WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	sources map[string]*source
	clients map[*client]struct{}
	closed  bool

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sources: make(map[string]*source),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		writeTimeout: 5 * time.Second,
		logger:       slog.Default().With("component", "watch"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Watch registers src under name and subscribes to it.
func (h *Hub) Watch(name string, src Watchable) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if _, ok := h.sources[name]; ok {
		return ErrDuplicate
	}

	s := &source{src: src}
	s.sub = src.SubscribeFunc(func() { h.publish(name, src.Version()) })
	h.sources[name] = s
	return nil
}

// Unwatch unsubscribes from the source registered under name.
func (h *Hub) Unwatch(name string) {
	h.mu.Lock()
	s, ok := h.sources[name]
	delete(h.sources, name)
	h.mu.Unlock()

	if ok {
		s.sub.Unsubscribe()
	}
}

// Snapshot returns the current version of every source, sorted by name.
func (h *Hub) Snapshot() []Update {
	h.mu.RLock()
	out := make([]Update, 0, len(h.sources))
	for name, s := range h.sources {
		out = append(out, Update{Name: name, Version: s.src.Version()})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// publish runs on the writer's goroutine during a notification pass. It
// must not block.
func (h *Hub) publish(name string, version uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.push(Update{Name: name, Version: version})
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams updates until
// the client disconnects. The client first receives the current snapshot.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	for _, u := range h.Snapshot() {
		c.push(u)
	}
	h.logger.Debug("watch client connected", "remote", r.RemoteAddr)

	go c.writeLoop(h.writeTimeout)

	// Reads are discarded; draining them lets gorilla answer control frames
	// and surfaces the disconnect as an error.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(c)
	h.logger.Debug("watch client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from every source and closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sources := h.sources
	h.sources = make(map[string]*source)
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, s := range sources {
		s.sub.Unsubscribe()
	}
	for c := range clients {
		c.close()
	}
}

// client holds the latest unsent version per source.
type client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]uint64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:    conn,
		pending: make(map[string]uint64),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// push records u, replacing any unsent older version of the same source.
func (c *client) push(u Update) {
	c.mu.Lock()
	if old, ok := c.pending[u.Name]; !ok || u.Version > old {
		c.pending[u.Name] = u.Version
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// take drains the pending updates, sorted by name.
func (c *client) take() []Update {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]uint64, len(pending))
	c.mu.Unlock()

	out := make([]Update, 0, len(pending))
	for name, v := range pending {
		out = append(out, Update{Name: name, Version: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *client) writeLoop(timeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for _, u := range c.take() {
			if timeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			}
			if err := c.conn.WriteJSON(u); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
