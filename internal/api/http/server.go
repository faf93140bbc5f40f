package apihttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"movierecommender/panel/internal/domain"
	"movierecommender/panel/internal/panel"
	"movierecommender/panel/internal/render"
)

const (
	sessionCookie = "panel_session"
	sessionHeader = "X-Panel-Session"

	maxEventTextLength = 500
	readyTimeout       = 3 * time.Second
	snapshotTimeout    = 5 * time.Second
)

var errUnknownEvent = errors.New("unknown event type")

// PanelSessions hands out the live panel of a browser session.
type PanelSessions interface {
	Resolve(id string) (string, *panel.Panel, bool)
	Touch(id string) bool
}

type BackendHealth interface {
	Health(ctx context.Context) (domain.BackendHealth, error)
}

type Server struct {
	sessions       PanelSessions
	backend        BackendHealth
	renderer       *render.Renderer
	logger         *slog.Logger
	rateRPS        float64
	rateBurst      int
	wsEventRate    float64
	allowedOrigins []string
	hub            *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithBackendHealth(backend BackendHealth) ServerOption {
	return func(s *Server) {
		s.backend = backend
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

// WithWSEventRate limits how many events per second one WebSocket
// connection may send.
func WithWSEventRate(perSecond float64) ServerOption {
	return func(s *Server) {
		s.wsEventRate = perSecond
	}
}

func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func NewServer(sessions PanelSessions, options ...ServerOption) *Server {
	server := &Server{
		sessions:    sessions,
		renderer:    render.MustNew(),
		logger:      slog.Default(),
		rateRPS:     50,
		rateBurst:   100,
		wsEventRate: 30,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	server.hub = newWSHub(server.logger)
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/api/panel", corsMiddleware(s.allowedOrigins, http.HandlerFunc(s.handlePanel)))
	mux.Handle("/api/panel/events", corsMiddleware(s.allowedOrigins, http.HandlerFunc(s.handlePanelEvents)))
	mux.HandleFunc("/", s.handleIndex)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "movie-panel",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != "/ws"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(traced)))
}

// Close disconnects every WebSocket client.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.backend == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	health, err := s.backend.Health(ctx)
	if err != nil {
		s.logger.Warn("backend health probe failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	if !health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"backend": health,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"backend": health,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, p := s.resolveSession(w, r)
	state, err := snapshot(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "panel_closed", "panel is not available")
		return
	}
	var buf bytes.Buffer
	if err := s.renderer.Page(&buf, panel.NewView(state)); err != nil {
		s.logger.Error("render page failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type panelResponse struct {
	Session string      `json:"session"`
	View    panel.View  `json:"view"`
	State   panel.State `json:"state"`
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/panel" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, p := s.resolveSession(w, r)
	s.writePanel(w, r, id, p)
}

// panelEvent is one user action, shared by the JSON API and the WebSocket.
type panelEvent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Title string `json:"title,omitempty"`
}

func (s *Server) handlePanelEvents(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/panel/events" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	form := isFormRequest(r)
	var events []panelEvent
	if form {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid form body")
			return
		}
		// A plain form post carries the typed title: select it, then submit.
		events = []panelEvent{
			{Type: "select", Title: r.PostForm.Get("q")},
			{Type: "submit"},
		}
	} else {
		var ev panelEvent
		if err := decodeJSONBody(r, &ev); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		events = []panelEvent{ev}
	}

	id, p := s.resolveSession(w, r)
	for _, ev := range events {
		if err := applyEvent(p, ev); err != nil {
			switch {
			case errors.Is(err, errUnknownEvent):
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			case errors.Is(err, panel.ErrClosed):
				writeError(w, http.StatusServiceUnavailable, "panel_closed", "panel is not available")
			default:
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			}
			return
		}
	}
	if form {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.writePanel(w, r, id, p)
}

func (s *Server) writePanel(w http.ResponseWriter, r *http.Request, id string, p *panel.Panel) {
	state, err := snapshot(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "panel_closed", "panel is not available")
		return
	}
	writeJSON(w, http.StatusOK, panelResponse{
		Session: id,
		View:    panel.NewView(state),
		State:   state,
	})
}

// resolveSession finds the caller's panel by cookie or header and issues a
// new session cookie when none is live.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) (string, *panel.Panel) {
	id, p, created := s.sessions.Resolve(requestSessionID(r))
	if created {
		http.SetCookie(w, sessionCookieFor(id))
	}
	w.Header().Set(sessionHeader, id)
	return id, p
}

func requestSessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func sessionCookieFor(id string) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func applyEvent(p *panel.Panel, ev panelEvent) error {
	switch strings.ToLower(strings.TrimSpace(ev.Type)) {
	case "query":
		if len(ev.Text) > maxEventTextLength {
			return fmt.Errorf("text too long (max %d bytes)", maxEventTextLength)
		}
		return p.SetQuery(ev.Text)
	case "select":
		if len(ev.Title) > maxEventTextLength {
			return fmt.Errorf("title too long (max %d bytes)", maxEventTextLength)
		}
		return p.Select(ev.Title)
	case "submit":
		return p.Submit()
	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, ev.Type)
	}
}

func snapshot(ctx context.Context, p *panel.Panel) (panel.State, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return p.Snapshot(ctx)
}

func isFormRequest(r *http.Request) bool {
	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	return strings.HasPrefix(contentType, "application/x-www-form-urlencoded")
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return errors.New("request body is required")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
