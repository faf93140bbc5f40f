// Package session keeps one live panel per browser session and closes panels
// that have been idle for longer than the configured TTL.
package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"movierecommender/panel/internal/metrics"
	"movierecommender/panel/internal/panel"
)

const DefaultIdleTTL = 30 * time.Minute

// Factory builds the panel for a new session.
type Factory func() *panel.Panel

type Registry struct {
	cache    *cache.Cache
	newPanel Factory
	logger   *slog.Logger

	// serializes lookups and create-if-missing so two requests carrying
	// the same unknown id do not both build a panel
	mu sync.Mutex

	// live holds every panel not yet evicted; ActivePanels moves only when
	// a panel enters or leaves it, however often the cache evicts it.
	liveMu sync.Mutex
	live   map[*panel.Panel]struct{}
}

func NewRegistry(idleTTL time.Duration, factory Factory, logger *slog.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	cleanup := idleTTL / 2
	if cleanup > time.Minute {
		cleanup = time.Minute
	}
	r := &Registry{
		cache:    cache.New(idleTTL, cleanup),
		newPanel: factory,
		logger:   logger,
		live:     make(map[*panel.Panel]struct{}),
	}
	r.cache.OnEvicted(r.evicted)
	return r
}

// Get returns the panel for id and extends its lifetime.
func (r *Registry) Get(id string) (*panel.Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

// get must be called with r.mu held. An entry whose panel is already closed
// is dropped, never refreshed.
func (r *Registry) get(id string) (*panel.Panel, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}
	x, found := r.cache.Get(id)
	if !found {
		return nil, false
	}
	p := x.(*panel.Panel)
	if isDone(p) {
		r.cache.Delete(id)
		return nil, false
	}
	r.cache.Set(id, p, cache.DefaultExpiration)
	// the janitor may have evicted it between Get and Set
	if isDone(p) {
		r.cache.Delete(id)
		return nil, false
	}
	return p, true
}

// Create starts a new panel under a fresh session id.
func (r *Registry) Create() (string, *panel.Panel) {
	id := uuid.NewString()
	p := r.newPanel()
	r.liveMu.Lock()
	r.live[p] = struct{}{}
	r.liveMu.Unlock()
	r.cache.Set(id, p, cache.DefaultExpiration)
	metrics.ActivePanels.Inc()
	r.logger.Debug("panel session created", slog.String("session", id))
	return id, p
}

// Resolve returns the panel for id, creating a new session when id is
// unknown or expired. The returned id is the one the caller should keep.
func (r *Registry) Resolve(id string) (string, *panel.Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.get(id); ok {
		return strings.TrimSpace(id), p, false
	}
	newID, p := r.Create()
	return newID, p, true
}

// Touch extends the lifetime of a live session.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.get(id)
	return ok
}

func (r *Registry) Remove(id string) {
	r.cache.Delete(id)
}

func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// Close closes every live panel.
func (r *Registry) Close() {
	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
}

func (r *Registry) evicted(id string, value interface{}) {
	p, ok := value.(*panel.Panel)
	if !ok {
		return
	}
	p.Close()
	r.liveMu.Lock()
	_, wasLive := r.live[p]
	delete(r.live, p)
	r.liveMu.Unlock()
	if !wasLive {
		return
	}
	metrics.ActivePanels.Dec()
	r.logger.Debug("panel session closed", slog.String("session", id))
}

func isDone(p *panel.Panel) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
