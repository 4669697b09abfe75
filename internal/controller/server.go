// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"deployplane/internal/controller/handlers"
	"deployplane/internal/controller/middleware"
	"deployplane/internal/logger"
)

// Options controls how routes are protected.
type Options struct {
	// InternalSecret guards runner, node agent and app endpoints.
	InternalSecret string
	// AdminToken guards job submission and /admin endpoints.
	AdminToken      string
	AdminAllowedIPs []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      Routes(h, opts),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Routes builds the controller's handler tree.
func Routes(h *handlers.Handlers, opts Options) http.Handler {
	internalMW := middleware.RequireInternalAuth(opts.InternalSecret)
	submitMW := middleware.RequireAdmin(opts.AdminToken, nil)
	adminMW := middleware.RequireAdmin(opts.AdminToken, opts.AdminAllowedIPs)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Job submission
	mux.Handle("POST /deploy/jobs", submitMW(http.HandlerFunc(h.CreateJob)))
	mux.Handle("GET /deploy/jobs", submitMW(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /deploy/jobs/{id}", submitMW(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /deploy/jobs/{id}/transition", submitMW(http.HandlerFunc(h.TransitionJob)))
	mux.Handle("POST /deploy/jobs/{id}/cancel", submitMW(http.HandlerFunc(h.CancelJob)))

	// Runner endpoints
	mux.Handle("POST /deploy/jobs/claim", internalMW(http.HandlerFunc(h.ClaimJob)))
	mux.Handle("POST /deploy/jobs/{id}/heartbeat", internalMW(http.HandlerFunc(h.HeartbeatJob)))
	mux.Handle("POST /deploy/jobs/{id}/report", internalMW(http.HandlerFunc(h.ReportJob)))

	// Node agents
	mux.Handle("POST /internal/runtime-nodes/heartbeat", internalMW(http.HandlerFunc(h.NodeHeartbeat)))

	// App operations, called by the platform API
	mux.Handle("POST /deploy/apps/purge", internalMW(http.HandlerFunc(h.PurgeApp)))
	mux.Handle("POST /deploy/apps/stop", internalMW(http.HandlerFunc(h.StopApp)))
	mux.Handle("GET /deploy/apps/{appId}/status", internalMW(http.HandlerFunc(h.AppStatus)))

	// Operators
	mux.Handle("GET /admin/runtime-nodes/list", adminMW(http.HandlerFunc(h.ListNodes)))
	mux.Handle("POST /admin/runtime-nodes/upsert", adminMW(http.HandlerFunc(h.UpsertNode)))
	mux.Handle("POST /admin/runtime-nodes/set-enabled", adminMW(http.HandlerFunc(h.SetNodeEnabled)))
	mux.Handle("GET /admin/runtime-nodes/placements", adminMW(http.HandlerFunc(h.ListPlacements)))
	mux.Handle("POST /admin/runtime-nodes/reassign", adminMW(http.HandlerFunc(h.Reassign)))
	mux.Handle("POST /admin/runtime-nodes/drain", adminMW(http.HandlerFunc(h.Drain)))
	mux.Handle("GET /admin/runners/list", adminMW(http.HandlerFunc(h.ListRunners)))

	return logger.RequestID(mux)
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
