// Package adminhttp exposes a small read-only chi-routed HTTP surface for
// operational introspection: a liveness probe and the list of currently
// connected sessions. It never accepts input that mutates server state.
package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SessionLister is the subset of session.Manager this package depends on,
// narrowed here so adminhttp doesn't need to import the session package's
// full surface.
type SessionLister interface {
	SessionCount() int
	List() []SessionInfo
}

// SessionInfo mirrors session.Info without adminhttp importing package
// session directly, keeping this package's only dependency direction
// inward from whatever wires it up.
type SessionInfo struct {
	Handle      uint64
	RemoteAddr  string
	ConnectedAt time.Time
}

type sessionInfoResponse struct {
	Handle      uint64    `json:"handle"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Server is the admin HTTP Server Front: GET /healthz and GET /sessions.
type Server struct {
	sessions SessionLister
	addr     string

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewServer builds an admin HTTP server bound to addr (host:port),
// reporting on sessions.
func NewServer(addr string, sessions SessionLister) *Server {
	return &Server{addr: addr, sessions: sessions}
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/sessions", s.handleSessions)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: s.sessions.SessionCount()})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.sessions.List()
	out := make([]sessionInfoResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, sessionInfoResponse{
			Handle:      info.Handle,
			RemoteAddr:  info.RemoteAddr,
			ConnectedAt: info.ConnectedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Start begins serving in the background. Call Stop to shut down.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return nil
	}

	s.httpSrv = &http.Server{
		Addr:    s.addr,
		Handler: s.router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			s.httpSrv = nil
			return fmt.Errorf("adminhttp: listen on %s: %w", s.addr, err)
		}
	case <-time.After(50 * time.Millisecond):
		// No immediate bind error; assume the listener came up.
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	s.httpSrv = nil
	return err
}
