// Package httpapi implements the instance manager's HTTP control plane:
// CRUD over relay instances plus read-only stats/route/connection
// inspection. Grounded on the teacher's internal/router (a plain
// net/http.ServeMux wired up through a small route registry) and
// internal/app/middleware for request logging and X-Api-Key auth, adapted
// from a reverse-proxy surface to an instance-management one.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/relaymesh/grelay/internal/app/manager"
	"github.com/relaymesh/grelay/internal/app/middleware"
	"github.com/relaymesh/grelay/internal/logger"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Server is the HTTP control plane fronting a manager.Manager.
type Server struct {
	mgr *manager.Manager
	log logger.StyledLogger
	mux *http.ServeMux
}

// NewServer builds the control-plane router. log may be nil, in which case
// a slog.Default-backed StyledLogger is used.
func NewServer(mgr *manager.Manager, log *logger.StyledLogger) *Server {
	sl := *logger.NewStyledLogger(slog.Default())
	if log != nil {
		sl = *log
	}
	s := &Server{mgr: mgr, log: sl, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /instances", s.listInstances)
	s.mux.HandleFunc("POST /instances", s.createInstance)
	s.mux.HandleFunc("GET /instances/{id}", s.getInstance)
	s.mux.HandleFunc("PUT /instances/{id}", s.updateInstance)
	s.mux.HandleFunc("PATCH /instances/{id}", s.patchInstance)
	s.mux.HandleFunc("DELETE /instances/{id}", s.deleteInstance)
	s.mux.HandleFunc("POST /instances/{id}/start", s.startInstance)
	s.mux.HandleFunc("POST /instances/{id}/stop", s.stopInstance)
	s.mux.HandleFunc("POST /instances/{id}/restart", s.restartInstance)
	s.mux.HandleFunc("GET /instances/{id}/stats", s.instanceStats)
	s.mux.HandleFunc("GET /instances/{id}/route", s.instanceRoute)
	s.mux.HandleFunc("GET /instances/{id}/connections", s.instanceConnections)
}

// Handler returns the fully wired HTTP handler: request logging then
// X-Api-Key auth then the route table.
func (s *Server) Handler(apiKey string) http.Handler {
	var h http.Handler = s.mux
	h = middleware.Auth(apiKey)(h)
	h = middleware.Logging(s.log)(h)
	return h
}
