// ABOUTME: WebSocket transport: accepts client connections and binds them to sessions
// ABOUTME: Owns the HTTP server lifecycle, the session registry, and live notification delivery

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/stayline/relay/internal/auth"
	"github.com/stayline/relay/internal/chat"
	"github.com/stayline/relay/internal/presence"
	"github.com/stayline/relay/internal/protocol"
	"github.com/stayline/relay/internal/room"
	"github.com/stayline/relay/internal/session"
	"github.com/stayline/relay/internal/store"
)

// writeTimeout bounds a single frame write. A client that cannot take a
// frame within this window is disconnected.
const writeTimeout = 10 * time.Second

// Options configures the transport server.
type Options struct {
	// Addr is the listen address, for example ":8080".
	Addr string

	// AllowedOrigins is passed to the WebSocket accept check. Empty means
	// same-origin only.
	AllowedOrigins []string
}

// Server accepts WebSocket connections on /ws and serves liveness on
// /healthz. Each accepted connection gets a session; the server tracks the
// live sessions so notifications can be pushed to every connection a user
// holds.
type Server struct {
	opts     Options
	verifier auth.Verifier
	pipeline *chat.Service
	rooms    *room.Router
	presence *presence.Registry
	store    store.Store

	mu       sync.RWMutex
	sessions map[string]*session.Session // connID -> session

	httpServer *http.Server
	logger     *slog.Logger
	rootLogger *slog.Logger // sessions attach their own component tag
}

// NewServer wires the transport. The server implements notify.LiveDelivery.
func NewServer(opts Options, verifier auth.Verifier, pipeline *chat.Service, rooms *room.Router, reg *presence.Registry, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts:       opts,
		verifier:   verifier,
		pipeline:   pipeline,
		rooms:      rooms,
		presence:   reg,
		store:      st,
		sessions:   make(map[string]*session.Session),
		logger:     logger.With("component", "gateway"),
		rootLogger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// DeliverTo pushes an event to every live connection the user currently
// holds. Implements notify.LiveDelivery.
func (s *Server) DeliverTo(userID string, event *protocol.Event) {
	connIDs := s.presence.ConnectionsFor(userID)
	if len(connIDs) == 0 {
		return
	}

	s.mu.RLock()
	targets := make([]*session.Session, 0, len(connIDs))
	for _, connID := range connIDs {
		if sess, ok := s.sessions[connID]; ok {
			targets = append(targets, sess)
		}
	}
	s.mu.RUnlock()

	for _, sess := range targets {
		if !sess.TrySend(event) {
			s.logger.Debug("dropped live notification",
				"user_id", userID,
				"conn_id", sess.ID(),
			)
		}
	}
}

// Run serves until the context is cancelled or the listener fails, then
// performs a graceful shutdown with a fresh timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	s.logger.Info("server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	open := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.Close()
	}

	s.logger.Info("server stopped", "closed_sessions", len(open))
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"online": s.presence.OnlineUsers(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		s.logger.Info("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := session.New(s.verifier, s.pipeline, s.rooms, s.presence, s.store, s.rootLogger)
	s.addSession(sess)
	s.logger.Debug("connection accepted", "conn_id", sess.ID(), "remote", r.RemoteAddr)

	defer func() {
		sess.Close()
		s.removeSession(sess.ID())
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}()

	ctx := r.Context()
	go s.writeLoop(ctx, conn, sess)
	s.readLoop(ctx, conn, sess)
}

// readLoop decodes inbound frames and feeds them to the session. It returns
// when the connection drops or sends something that is not a text frame.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.logger.Debug("connection closed by client", "conn_id", sess.ID())
			} else if ctx.Err() == nil {
				s.logger.Debug("read failed", "conn_id", sess.ID(), "error", err)
			}
			return
		}
		if msgType != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			sess.TrySend(protocol.Error(protocol.CodeBadRequest, "malformed envelope"))
			continue
		}
		sess.HandleEnvelope(ctx, env)
	}
}

// writeLoop drains the session's event queue onto the wire. It exits when
// the queue is closed or a write fails, closing the session either way so
// the read loop unblocks.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session) {
	defer sess.Close()

	for event := range sess.Events() {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("failed to marshal outbound event",
				"conn_id", sess.ID(),
				"event_type", event.Type,
				"error", err)
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			s.logger.Debug("write failed", "conn_id", sess.ID(), "error", err)
			conn.Close(websocket.StatusAbnormalClosure, "write failure")
			return
		}
	}
}

func (s *Server) addSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = sess
}

func (s *Server) removeSession(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connID)
}

// SessionCount reports the number of live sessions, for the health endpoint
// and tests.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
