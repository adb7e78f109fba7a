package connection

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry hands out one shared Client per endpoint. Callers own the
// registry and must Close it to disconnect every client it created.
type Registry struct {
	logger *slog.Logger
	opts   []Option

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewRegistry creates an empty registry. opts are applied to every client it creates.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Key identifies the endpoint of cfg: URL plus sorted sub-protocols.
func Key(cfg Config) string {
	if len(cfg.Protocols) == 0 {
		return cfg.URL
	}
	protocols := append([]string(nil), cfg.Protocols...)
	sort.Strings(protocols)
	return cfg.URL + "|" + strings.Join(protocols, ",")
}

// Get returns the client for cfg's endpoint, creating it on first request.
// Later calls with the same endpoint return the existing client and ignore
// the rest of cfg. Clients are not connected by Get.
func (r *Registry) Get(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}

	key := Key(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if c, ok := r.clients[key]; ok {
		return c, nil
	}

	c := NewClient(cfg, r.logger, r.opts...)
	r.clients[key] = c
	r.logger.Debug("client created", "key", key)
	return c, nil
}

// Lookup returns the client registered under key.
func (r *Registry) Lookup(key string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[key]
	return c, ok
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Remove disconnects and forgets the client under key.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	c, ok := r.clients[key]
	delete(r.clients, key)
	r.mu.Unlock()

	if ok {
		c.Disconnect()
	}
	return ok
}

// Close disconnects every client. Get fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for key, c := range clients {
		c.Disconnect()
		r.logger.Debug("client closed", "key", key)
	}
}
