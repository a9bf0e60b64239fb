// Package api provides the HTTP surface of the fuel-code server: the Ingest
// Endpoint, transcript upload/reparse/archive operator actions, the thin
// workspace/session query surface, the WebSocket upgrade entry point, and
// the health check.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/fuel-code/server/pkg/eventstore"
	"github.com/fuel-code/server/pkg/objectstore"
	"github.com/fuel-code/server/pkg/realtime"
	"github.com/fuel-code/server/pkg/streamqueue"
)

// TranscriptEnqueuer is the narrow Transcript Pipeline contract the API
// depends on for the upload/reparse handlers.
type TranscriptEnqueuer interface {
	Enqueue(sessionID string)
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	apiKey   string
	store    *eventstore.Store
	objects  objectstore.Store
	queue    *streamqueue.Queue
	pipeline TranscriptEnqueuer
	hub      *realtime.Hub
}

// NewServer builds the API server and registers all routes.
func NewServer(
	apiKey string,
	store *eventstore.Store,
	objects objectstore.Store,
	queue *streamqueue.Queue,
	pipeline TranscriptEnqueuer,
	hub *realtime.Hub,
) *Server {
	s := &Server{
		echo:     echo.New(),
		apiKey:   apiKey,
		store:    store,
		objects:  objects,
		queue:    queue,
		pipeline: pipeline,
		hub:      hub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) queuePing(ctx context.Context) error {
	return s.queue.Ping(ctx)
}

// setupRoutes registers every HTTP route (spec §6).
func (s *Server) setupRoutes() {
	api := s.echo.Group("")
	api.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ws", s.wsHandler)

	// The ingest endpoint's 1 MiB body limit (spec §4.D) is scoped to its
	// own group; the transcript upload endpoint streams its body directly
	// under a much larger effective limit enforced by Content-Length alone.
	ingest := api.Group("", middleware.BodyLimit(maxIngestBodyBytes), bearerAuth(s.apiKey))
	ingest.POST("/events/ingest", s.ingestHandler)

	sessions := api.Group("/sessions", bearerAuth(s.apiKey))
	sessions.POST("/:id/transcript/upload", s.transcriptUploadHandler)
	sessions.POST("/:id/reparse", s.reparseHandler)
	sessions.POST("/:id/archive", s.archiveHandler)

	v1 := api.Group("/api/v1", bearerAuth(s.apiKey))
	v1.GET("/workspaces", s.listWorkspacesHandler)
	v1.GET("/workspaces/:id/sessions", s.listWorkspaceSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by test infrastructure serving on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
