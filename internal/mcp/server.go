package mcp

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"methodlift/pkg/extract"
	"methodlift/pkg/source"
)

// Server wires the extraction engine to an MCP stdio transport. It owns the
// document store and a filesystem watcher that invalidates cached snapshots
// when files change outside the editor.
type Server struct {
	store   *source.DocumentStore
	orch    *extract.Orchestrator
	watcher *source.Watcher
	logger  *slog.Logger
	mcp     *server.MCPServer
}

// NewServer builds a server rooted at dir. Policy comes from the nearest
// .methodlift.yml, defaults otherwise.
func NewServer(dir string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := extract.LoadPolicy(dir)
	if err != nil {
		logger.Warn("config unreadable, using defaults", "err", err)
	}

	store := source.NewDocumentStore(dir, logger)
	orch := extract.NewOrchestrator(store, policy, logger)

	s := &Server{
		store:  store,
		orch:   orch,
		logger: logger,
	}

	s.mcp = server.NewMCPServer(
		"methodlift",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	AddExtractFunctionTool(s.mcp, orch)
	AddDocumentTools(s.mcp, store)

	w, err := source.NewWatcher(store, 200*time.Millisecond, logger)
	if err != nil {
		logger.Warn("watcher unavailable, stale edits will surface as version conflicts", "err", err)
	} else {
		s.watcher = w
	}
	return s, nil
}

// Serve runs the stdio transport until the context ends or a termination
// signal arrives.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.watcher != nil {
		go func() {
			if err := s.watcher.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("watcher stopped", "err", err)
			}
		}()
		defer s.watcher.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("serving on stdio")
	return server.ServeStdio(s.mcp)
}
