package session

import (
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Registry holds the open sessions. When it is full the least recently used
// session is evicted and closed.
type Registry struct {
	cache  *lru.Cache[string, *Session]
	logger *slog.Logger
}

// NewRegistry creates a registry holding at most size sessions.
func NewRegistry(size int, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	cache, err := lru.NewWithEvict(size, func(id string, s *Session) {
		s.Close()
		logger.Debug("session released", "session", id)
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Add stores s. It reports whether an older session was evicted to make room.
func (r *Registry) Add(s *Session) bool {
	evicted := r.cache.Add(s.ID(), s)
	if evicted {
		r.logger.Info("session evicted", "sessions", r.cache.Len())
	}
	return evicted
}

// Get returns a session and marks it recently used.
func (r *Registry) Get(id string) (*Session, bool) {
	return r.cache.Get(id)
}

// Remove closes and drops a session.
func (r *Registry) Remove(id string) bool {
	return r.cache.Remove(id)
}

// IDs returns the session IDs, oldest first.
func (r *Registry) IDs() []string {
	return r.cache.Keys()
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close closes every session.
func (r *Registry) Close() {
	r.cache.Purge()
}
