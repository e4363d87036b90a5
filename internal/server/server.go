package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mcphub/internal/config"
	"mcphub/internal/hub"
	"mcphub/pkg/logging"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Server is the client-facing HTTP transport: the REST API, the SSE event
// stream and the hub's own MCP endpoint, all on one listener.
type Server struct {
	hub *hub.Hub
	cfg config.HubSettings

	mu         sync.Mutex
	httpServer *http.Server
	mcpServer  *mcpserver.MCPServer
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a transport bound to an initialized hub.
func New(h *hub.Hub, cfg config.HubSettings) *Server {
	return &Server{hub: h, cfg: cfg}
}

// Start builds the routes and begins serving. It returns once the listener
// goroutine is running; serve errors are logged, not returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.mountMCPEndpoint(ctx, mux)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpServer := s.httpServer
	go func() {
		logging.Info("Server", "Listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server", err, "HTTP server error")
		}
	}()

	return nil
}

// Stop shuts the listener down and waits for background routines.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	cancel := s.cancel
	s.httpServer = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if httpServer != nil {
		shutdownCtx, cancelTimeout := context.WithTimeout(ctx, 5*time.Second)
		defer cancelTimeout()
		err = httpServer.Shutdown(shutdownCtx)
	}

	s.wg.Wait()
	return err
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/ping", s.handlePing)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("GET /api/groups", s.handleListGroups)
	mux.HandleFunc("GET /api/groups/{group}", s.handleGroupInfo)
	mux.HandleFunc("GET /api/groups/{group}/tools", s.handleGroupTools)
	mux.HandleFunc("GET /api/tools", s.handleDefaultTools)
	mux.HandleFunc("POST /api/groups/{group}/tools/{tool}/execute", s.handleExecuteInGroup)
	mux.HandleFunc("POST /api/tools/{tool}/execute", s.handleExecuteDefault)
	mux.HandleFunc("GET /api/api-tools/health", s.handleAPIToolsHealth)
	mux.HandleFunc("POST /api/api-tools/reload", s.handleAPIToolsReload)
	mux.HandleFunc("GET /events", s.handleEvents)
}
