package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"movierecommender/panel/internal/domain"
	"movierecommender/panel/internal/metrics"
	"movierecommender/panel/internal/panel"
)

type nopBackend struct{}

func (nopBackend) Search(context.Context, string) ([]string, error) { return nil, nil }

func (nopBackend) Recommend(context.Context, string) ([]domain.Recommendation, error) {
	return nil, nil
}

func newTestRegistry(ttl time.Duration) *Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(ttl, func() *panel.Panel {
		return panel.New(nopBackend{}, panel.WithDebounce(10*time.Millisecond), panel.WithLogger(logger))
	}, logger)
}

func isClosed(p *panel.Panel) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

func TestResolveCreatesAndReuses(t *testing.T) {
	r := newTestRegistry(time.Minute)
	defer r.Close()

	id, first, created := r.Resolve("")
	if !created || id == "" {
		t.Fatalf("expected new session, got id=%q created=%v", id, created)
	}
	sameID, second, created := r.Resolve(id)
	if created || sameID != id || second != first {
		t.Fatalf("expected existing session %q, got %q created=%v", id, sameID, created)
	}
	otherID, _, created := r.Resolve("unknown-session")
	if !created || otherID == "unknown-session" {
		t.Fatalf("unknown id must start a fresh session, got %q", otherID)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}
}

func TestIdleSessionIsClosed(t *testing.T) {
	r := newTestRegistry(40 * time.Millisecond)
	defer r.Close()

	id, p := r.Create()
	deadline := time.Now().Add(2 * time.Second)
	for !isClosed(p) {
		if time.Now().After(deadline) {
			t.Fatal("idle panel was not closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := r.Get(id); ok {
		t.Fatal("expired session must not be returned")
	}
	if err := p.SetQuery("Inception"); err != panel.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	r := newTestRegistry(80 * time.Millisecond)
	defer r.Close()

	id, p := r.Create()
	for i := 0; i < 6; i++ {
		time.Sleep(30 * time.Millisecond)
		if !r.Touch(id) {
			t.Fatalf("session expired despite touch on iteration %d", i)
		}
	}
	if isClosed(p) {
		t.Fatal("touched panel must stay open")
	}
}

func TestRemoveAndCloseReleasePanels(t *testing.T) {
	r := newTestRegistry(time.Minute)

	id, removed := r.Create()
	_, kept := r.Create()
	r.Remove(id)
	if !isClosed(removed) {
		t.Fatal("removed panel must be closed")
	}
	r.Close()
	if !isClosed(kept) {
		t.Fatal("Close must close every panel")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestTouchDropsClosedPanelInsteadOfRefreshing(t *testing.T) {
	r := newTestRegistry(time.Minute)
	defer r.Close()

	baseline := testutil.ToFloat64(metrics.ActivePanels)
	id, p := r.Create()
	if got := testutil.ToFloat64(metrics.ActivePanels); got != baseline+1 {
		t.Fatalf("active panels = %v, want %v", got, baseline+1)
	}

	// panel closed while its entry is still cached
	p.Close()
	if r.Touch(id) {
		t.Fatal("touch must not keep a closed panel alive")
	}
	if r.Len() != 0 {
		t.Fatalf("closed panel must leave the registry, got %d entries", r.Len())
	}
	if got := testutil.ToFloat64(metrics.ActivePanels); got != baseline {
		t.Fatalf("active panels = %v, want %v", got, baseline)
	}
}

func TestRepeatedEvictionCountsPanelOnce(t *testing.T) {
	r := newTestRegistry(time.Minute)
	defer r.Close()

	baseline := testutil.ToFloat64(metrics.ActivePanels)
	id, p := r.Create()
	r.Remove(id)

	// a closed panel written back after eviction, then evicted again
	r.cache.Set(id, p, cache.DefaultExpiration)
	r.cache.Delete(id)

	if got := testutil.ToFloat64(metrics.ActivePanels); got != baseline {
		t.Fatalf("active panels = %v, want %v", got, baseline)
	}
	if _, ok := r.Get(id); ok {
		t.Fatal("evicted session must not be returned")
	}
}

func TestResolveReplacesClosedPanel(t *testing.T) {
	r := newTestRegistry(time.Minute)
	defer r.Close()

	id, p := r.Create()
	p.Close()
	newID, fresh, created := r.Resolve(id)
	if !created || newID == id || fresh == p {
		t.Fatalf("expected a fresh session, got id=%q created=%v", newID, created)
	}
	if isClosed(fresh) {
		t.Fatal("fresh panel must be open")
	}
	if r.Len() != 1 {
		t.Fatalf("expected only the fresh session, got %d", r.Len())
	}
}
