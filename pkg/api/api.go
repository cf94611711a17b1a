// Package api exposes the controller's Service over HTTP using gin, the
// way the pack's learn-control-plane module wires a gin.Engine's route
// groups and middleware around a single backing service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/stormctl/pkg/service"
	"github.com/gin-gonic/gin"
)

// Server wraps an http.Server running the gin router bound to svc.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
}

// NewServer builds a Server listening on addr. authToken, if non-empty,
// is required as a bearer token on every request except /healthz,
// /livez, /readyz and /metrics.
func NewServer(addr string, svc *service.Service, authToken string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggingMiddleware())

	setupRoutes(r, svc, authToken)

	return &Server{
		engine: r,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
	}
}

// Handler returns the underlying http.Handler, for tests that want to
// drive the router directly without binding a socket.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server, blocking until it stops. Returns
// http.ErrServerClosed on a graceful Stop, which callers should treat as
// a normal shutdown rather than an error.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down, waiting up to the given
// context's deadline for in-flight requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
