package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/foomo/confluence-markdown/mcp"
	"github.com/foomo/confluence-markdown/service"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const mcpEndpoint = "/mcp"

func serveStdio(svc service.Service, l *zap.Logger) error {
	l.Info("starting MCP server in stdio mode")
	return server.ServeStdio(mcp.NewServer(svc))
}

// serveHTTP serves the MCP endpoint and the progress stream until ctx is
// done.
func serveHTTP(ctx context.Context, addr string, svc service.Service, progress *mcp.ProgressServer, l *zap.Logger) error {
	progress.SetService(svc)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mcp.NewMcpHTTPSSEServer(mcp.NewServer(svc), progress, mcpEndpoint),
		ReadHeaderTimeout: 10 * time.Second,
		// ends open progress streams on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		l.Info("starting MCP server", zap.String("addr", addr), zap.String("endpoint", mcpEndpoint))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
