package relay

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"whisperchat/pkg/auth"
	"whisperchat/pkg/logger"
	"whisperchat/pkg/presence"
	"whisperchat/pkg/store"
	"whisperchat/pkg/telemetry"
)

const (
	writeWait     = 10 * time.Second
	pingPeriod    = 54 * time.Second
	maxFrameSize  = 8 * 1024
	outboundQueue = 256
)

// Hub holds the collaborators shared by every websocket session.
type Hub struct {
	Registry         *presence.Registry
	Pipeline         *Pipeline
	Verifier         *auth.Verifier
	Limiter          *auth.LimiterPool
	HistoryLimit     int
	HandshakeTimeout time.Duration

	upgrader websocket.Upgrader
}

// NewHub builds a Hub. allowedOrigins gates the websocket upgrade:
// an empty list admits only same-origin browsers (and non-browser
// clients, which send no Origin); "*" admits everyone.
func NewHub(reg *presence.Registry, pipe *Pipeline, verifier *auth.Verifier, limiter *auth.LimiterPool, historyLimit int, handshakeTimeout time.Duration, allowedOrigins []string) *Hub {
	h := &Hub{
		Registry:         reg,
		Pipeline:         pipe,
		Verifier:         verifier,
		Limiter:          limiter,
		HistoryLimit:     historyLimit,
		HandshakeTimeout: handshakeTimeout,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowedOrigins)
		},
	}
	return h
}

// ServeHTTP upgrades the connection and runs the session to completion.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := auth.CredentialFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	identity, err := h.handshake(conn, credential)
	if err != nil {
		telemetry.HandshakeFailures.Inc()
		logger.Warn("handshake_rejected", "remote", r.RemoteAddr, "error", err)
		h.reject(conn, "authentication failed")
		return
	}

	// First sight of a verified identity provisions its durable record;
	// without one, messages cannot be attributed.
	if _, err := store.EnsureUser(identity); err != nil {
		logger.Error("user_provisioning_failed", "identity", identity, "error", err)
		h.reject(conn, "temporarily unavailable")
		return
	}

	s := &session{
		hub:      h,
		conn:     conn,
		identity: identity,
		handle:   presence.NewHandle(identity, outboundQueue),
	}
	logger.Info("session_started", "identity", identity, "remote", r.RemoteAddr)
	s.run(r.Context())
	logger.Info("session_ended", "identity", identity, "remote", r.RemoteAddr)
}

// handshake resolves the connection to a verified identity. A credential
// carried on the upgrade request wins; otherwise exactly one text frame is
// consumed as the credential, bounded by the handshake timeout. Every
// failure mode rejects uniformly.
func (h *Hub) handshake(conn *websocket.Conn, credential string) (string, error) {
	if credential == "" {
		_ = conn.SetReadDeadline(time.Now().Add(h.HandshakeTimeout))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt != websocket.TextMessage {
			return "", auth.ErrInvalidCredential
		}
		credential = strings.TrimSpace(string(data))
		_ = conn.SetReadDeadline(time.Time{})
	}
	return h.Verifier.Verify(credential)
}

func (h *Hub) reject(conn *websocket.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

// session is the live state for one connection, from handshake to
// teardown. The read pump and write pump form a single cancellation unit:
// either ending cancels the other.
type session struct {
	hub      *Hub
	conn     *websocket.Conn
	identity string
	handle   *presence.Handle
}

func (s *session) run(parent context.Context) {
	// Replay strictly precedes presence registration and the live loops.
	if err := replayHistory(s.identity, s.hub.HistoryLimit, s.writeText); err != nil {
		logger.Warn("history_replay_aborted", "identity", s.identity, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.hub.Registry.Register(s.handle)
	telemetry.ActiveSessions.Inc()
	defer func() {
		// An orphaned handle means a newer session took over the identity,
		// so the user is still connected: no disconnect notice then.
		superseded := false
		select {
		case <-s.handle.Done():
			superseded = true
		default:
		}
		s.hub.Registry.Deregister(s.handle)
		telemetry.ActiveSessions.Dec()
		s.hub.Limiter.Forget(s.identity)
		if !superseded {
			s.hub.Registry.Broadcast(systemNotice(s.identity+" has disconnected"), s.identity)
		}
	}()

	go s.writePump(ctx, cancel)
	s.readPump(ctx, cancel)
}

// readPump consumes inbound frames until close, transport error, or
// cancellation. Malformed frames (no delimiter) are dropped silently by
// policy; the connection stays open.
func (s *session) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				logger.Debug("ws_read_ended", "identity", s.identity, "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if !s.hub.Limiter.Allow(s.identity) {
			logger.Warn("frame_rate_limited", "identity", s.identity)
			continue
		}
		recipient, body, ok := parseFrame(string(data))
		if !ok {
			telemetry.MalformedFrames.Inc()
			logger.Debug("malformed_frame_dropped", "identity", s.identity)
			continue
		}
		s.hub.Pipeline.Deliver(s.identity, recipient, body)
	}
}

// writePump drains the outbound queue into the transport. It ends on
// cancellation, write failure, or when the handle is orphaned by a newer
// session for the same identity. Closing the conn on exit unblocks the
// sibling read pump.
func (s *session) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		s.conn.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-s.handle.Done():
			logger.Info("session_superseded", "identity", s.identity)
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "replaced by newer connection"))
			return
		case payload := <-s.handle.Out():
			if err := s.writeText(payload); err != nil {
				logger.Debug("ws_write_failed", "identity", s.identity, "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) writeText(line string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// originAllowed gates cross-origin upgrades. Non-browser clients send no
// Origin header and are admitted; browsers must match the configured list
// or, with no list, be same-origin.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
