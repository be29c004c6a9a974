package mcp

import (
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/server"
)

// NewMcpHTTPServer creates a new MCP HTTP server with traditional MCP endpoints
func NewMcpHTTPServer(s *server.MCPServer, endpoint string) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s,
		server.WithEndpointPath(endpoint),
	)
}

// McpHTTPSSEServer combines the MCP HTTP server with the progress endpoints
type McpHTTPSSEServer struct {
	mux      *http.ServeMux
	progress *ProgressServer
}

// NewMcpHTTPSSEServer mounts the MCP endpoint and the progress endpoints below
// it on one mux.
func NewMcpHTTPSSEServer(s *server.MCPServer, progress *ProgressServer, endpoint string) *McpHTTPSSEServer {
	mux := http.NewServeMux()

	mux.Handle(endpoint, NewMcpHTTPServer(s, endpoint))

	mux.HandleFunc(endpoint+"/sse", progress.HandleSSE)
	mux.HandleFunc(endpoint+"/sse/convert", progress.HandleConvertSSE)
	mux.HandleFunc(endpoint+"/sse/clients", func(w http.ResponseWriter, r *http.Request) {
		clients := progress.GetConnectedClients()
		writeJSON(w, map[string]any{
			"connectedClients": len(clients),
			"clients":          clients,
		})
	})
	mux.HandleFunc(endpoint+"/sse/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, progress.GetStats())
	})

	return &McpHTTPSSEServer{
		mux:      mux,
		progress: progress,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(v)
}

// ServeHTTP implements http.Handler
func (s *McpHTTPSSEServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Progress returns the underlying progress server
func (s *McpHTTPSSEServer) Progress() *ProgressServer {
	return s.progress
}
