// Package server implements the collaborative-editing server surface of
// spec.md §6: a single long-lived central replica with id 0, tied to every
// connecting client over a WebSocket. Generalizes the teacher's
// session/session.go Hub (which fanned hand-written insert/delete
// messages out to sessions around a stubbed crdt.RGA) onto the real
// rga.Replica and transport.Socket instead.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/jorendorff/peeredit/rga"
	"github.com/jorendorff/peeredit/transport"
)

// centralReplicaID is the server's own replica id, per spec.md §6 ("A
// single long-lived central replica with id 0").
const centralReplicaID = 0

// Server owns the process-wide state spec.md §9 calls out as globals to
// avoid: the central replica and the monotonic next-client-id counter are
// both fields here, never package-level variables.
type Server struct {
	logger *slog.Logger

	mu           sync.Mutex
	central      *rga.Replica
	nextClientID int

	activeSessions int64
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLogger overrides the server's structured logger (default:
// slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server with an empty central replica.
func New(opts ...Option) (*Server, error) {
	s := &Server{nextClientID: 1}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	central, err := rga.New(centralReplicaID, rga.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.central = central
	return s, nil
}

// Central returns the server's central replica, mainly for tests and the
// health endpoint; callers should not mutate it directly except through
// the RGA's own exported operations.
func (s *Server) Central() *rga.Replica {
	return s.central
}

func (s *Server) assignClientID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextClientID
	s.nextClientID++
	return id
}

// HandleWebSocket upgrades r into a WebSocket connection, assigns it a
// fresh positive client id, sends the welcome handshake (spec.md §6), and
// ties the central replica to the connection via transport.TieToSocket.
// It blocks serving the connection until it closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := transport.Accept(w, r)
	if err != nil {
		http.Error(w, "websocket upgrade failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	clientID := s.assignClientID()
	sock := transport.TieToSocket(s.central, ws, s.logger)

	history := s.central.History()
	if err := sock.SendWelcome(clientID, history); err != nil {
		s.logger.Warn("server: send welcome failed", "client", clientID, "err", err)
		sock.Disconnect()
		_ = ws.Close()
		return
	}

	atomic.AddInt64(&s.activeSessions, 1)
	defer atomic.AddInt64(&s.activeSessions, -1)

	s.logger.Info("client connected", "client", clientID, "session", sock.SessionID, "remote", ws.RemoteAddr())
	err = sock.Serve(r.Context())
	s.logger.Info("client disconnected", "client", clientID, "session", sock.SessionID, "err", err)
}

// healthStatus is the JSON body served at /healthz.
type healthStatus struct {
	Status         string `json:"status"`
	CharacterCount int    `json:"character_count"`
	ActiveSessions int64  `json:"active_sessions"`
}

// HandleHealth reports the central replica's visible character count and
// the number of currently connected sessions, extending the teacher's
// bare "ok" /health endpoint into a small JSON status document.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:         "ok",
		CharacterCount: s.central.Len(),
		ActiveSessions: atomic.LoadInt64(&s.activeSessions),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// Mux builds an *http.ServeMux wiring /ws and /healthz to this Server,
// matching the teacher's main.go route layout.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/healthz", s.HandleHealth)
	return mux
}
