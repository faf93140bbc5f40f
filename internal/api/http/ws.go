package apihttp

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"movierecommender/panel/internal/metrics"
	"movierecommender/panel/internal/panel"
	"movierecommender/panel/internal/render"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsViewPayload struct {
	HTML string     `json:"html"`
	View panel.View `json:"view"`
}

type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsClient struct {
	hub       *wsHub
	conn      *websocket.Conn
	panel     *panel.Panel
	sessionID string
	sessions  PanelSessions
	renderer  *render.Renderer
	limiter   *rate.Limiter
	logger    *slog.Logger

	// states holds at most the latest unsent snapshot; older ones are
	// superseded since every message carries the whole view.
	states chan panel.State
	errs   chan []byte
	done   chan struct{}
}

// wsHub tracks open connections so they can be closed on shutdown.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	logger  *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

func (h *wsHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.WSConnections.Inc()
	h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))
	return true
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.WSConnections.Dec()
	h.logger.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
}

func (h *wsHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close sends a going-away frame to every client and refuses new ones.
func (h *wsHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for client := range h.clients {
		_ = client.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(2*time.Second),
		)
		_ = client.conn.Close()
	}
	h.logger.Debug("ws hub stopped, all clients disconnected")
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts any origin unless an allow-list is configured.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return originAllowed(s.allowedOrigins, origin)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, p, created := s.sessions.Resolve(requestSessionID(r))
	header := http.Header{}
	if created {
		header.Add("Set-Cookie", sessionCookieFor(id).String())
	}
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	limit := rate.Inf
	burst := 1
	if s.wsEventRate > 0 {
		limit = rate.Limit(s.wsEventRate)
		burst = int(s.wsEventRate)
		if burst < 1 {
			burst = 1
		}
	}
	client := &wsClient{
		hub:       s.hub,
		conn:      conn,
		panel:     p,
		sessionID: id,
		sessions:  s.sessions,
		renderer:  s.renderer,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    s.logger.With(slog.String("session", id)),
		states:    make(chan panel.State, 1),
		errs:      make(chan []byte, 4),
		done:      make(chan struct{}),
	}
	if !s.hub.register(client) {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		return
	}

	unsubscribe := p.Subscribe(client.offer)
	go client.writePump()
	client.readPump()
	unsubscribe()
	close(client.done)
	s.hub.unregister(client)
}

// offer runs on the panel loop and must not block.
func (c *wsClient) offer(state panel.State) {
	select {
	case c.states <- state:
		return
	default:
	}
	select {
	case <-c.states:
	default:
	}
	select {
	case c.states <- state:
	default:
	}
}

func (c *wsClient) sendError(code, message string) {
	payload, err := json.Marshal(wsMessage{Type: "error", Data: wsErrorPayload{Code: code, Message: message}})
	if err != nil {
		return
	}
	select {
	case c.errs <- payload:
	default:
	}
}

func (c *wsClient) viewMessage(state panel.State) ([]byte, error) {
	view := panel.NewView(state)
	html, err := c.renderer.Fragment(view)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wsMessage{Type: "view", Data: wsViewPayload{HTML: html, View: view}})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case <-c.panel.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session expired"))
			return
		case state := <-c.states:
			msg, err := c.viewMessage(state)
			if err != nil {
				c.logger.Error("ws render view failed", slog.String("error", err.Error()))
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg := <-c.errs:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.sessions.Touch(c.sessionID)
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws read failed", slog.String("error", err.Error()))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		c.sessions.Touch(c.sessionID)

		if !c.limiter.Allow() {
			c.sendError("rate_limited", "too many events")
			continue
		}
		var ev panelEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.sendError("invalid_request", "invalid json message")
			continue
		}
		if err := applyEvent(c.panel, ev); err != nil {
			if errors.Is(err, panel.ErrClosed) {
				return
			}
			c.sendError("invalid_request", err.Error())
		}
	}
}
