package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/foomo/confluence-markdown/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SSEEvent represents an SSE event structure
type SSEEvent struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func newSSEEvent(event string, data any) SSEEvent {
	return SSEEvent{
		ID:        uuid.NewString(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// SSEClient represents a connected SSE client
type SSEClient struct {
	ID       string
	Writer   http.ResponseWriter
	Flusher  http.Flusher
	Done     chan struct{}
	LastSeen time.Time
	mu       sync.Mutex
}

// send writes one event in SSE framing
func (c *SSEClient) send(event SSEEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.Writer, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Event, eventJSON); err != nil {
		return err
	}
	c.Flusher.Flush()
	c.LastSeen = time.Now()
	return nil
}

func (c *SSEClient) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LastSeen
}

// ProgressServer broadcasts conversion progress to SSE clients
type ProgressServer struct {
	logger       *zap.Logger
	service      service.Service
	config       *SSEServerConfig
	clients      map[string]*SSEClient
	clientsMutex sync.RWMutex
	broadcast    chan SSEEvent
	dropped      int64
	// guards broadcast against sends after Close
	closeMutex sync.RWMutex
	closed     bool
}

// SSEServerConfig holds configuration for the SSE server
type SSEServerConfig struct {
	KeepaliveInterval time.Duration
	BufferSize        int
	ClientTimeout     time.Duration
}

// DefaultSSEServerConfig returns the default configuration for SSE server
func DefaultSSEServerConfig() *SSEServerConfig {
	return &SSEServerConfig{
		KeepaliveInterval: 30 * time.Second,
		BufferSize:        100,
		ClientTimeout:     60 * time.Second,
	}
}

// NewProgressServer creates a new progress server. Register Observe with the
// service to feed it.
func NewProgressServer(logger *zap.Logger, svc service.Service, config *SSEServerConfig) *ProgressServer {
	if config == nil {
		config = DefaultSSEServerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ProgressServer{
		logger:    logger,
		service:   svc,
		config:    config,
		clients:   make(map[string]*SSEClient),
		broadcast: make(chan SSEEvent, config.BufferSize),
	}

	go s.broadcastLoop()

	return s
}

// SetService sets the service used by the convert endpoint. The service
// usually needs Observe as an option, so it is created after the server.
func (s *ProgressServer) SetService(svc service.Service) {
	s.service = svc
}

// Observe publishes a service event to all connected clients
func (s *ProgressServer) Observe(e service.Event) {
	s.broadcastEvent(newSSEEvent(string(e.Type), e))
}

// Close stops the broadcast loop. Events observed afterwards are dropped.
func (s *ProgressServer) Close() {
	s.closeMutex.Lock()
	defer s.closeMutex.Unlock()
	if !s.closed {
		s.closed = true
		close(s.broadcast)
	}
}

// broadcastLoop handles broadcasting events to all connected clients
func (s *ProgressServer) broadcastLoop() {
	for event := range s.broadcast {
		var failed []string
		s.clientsMutex.RLock()
		for clientID, client := range s.clients {
			select {
			case <-client.Done:
				failed = append(failed, clientID)
			default:
				if err := client.send(event); err != nil {
					s.logger.Error("failed to send event to client", zap.String("clientID", clientID), zap.Error(err))
					failed = append(failed, clientID)
				}
			}
		}
		s.clientsMutex.RUnlock()
		for _, clientID := range failed {
			s.removeClient(clientID)
		}
	}
}

// addClient adds a new SSE client
func (s *ProgressServer) addClient(w http.ResponseWriter) *SSEClient {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil
	}

	client := &SSEClient{
		ID:       uuid.NewString(),
		Writer:   w,
		Flusher:  flusher,
		Done:     make(chan struct{}),
		LastSeen: time.Now(),
	}

	s.clientsMutex.Lock()
	s.clients[client.ID] = client
	s.clientsMutex.Unlock()

	connectEvent := newSSEEvent("connected", map[string]string{"clientID": client.ID, "message": "Connected to conversion progress"})
	if err := client.send(connectEvent); err != nil {
		s.logger.Error("failed to send connection event", zap.String("clientID", client.ID), zap.Error(err))
		s.removeClient(client.ID)
		return nil
	}

	s.logger.Info("SSE client connected", zap.String("clientID", client.ID))
	return client
}

// removeClient removes a client from the server
func (s *ProgressServer) removeClient(clientID string) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()

	if client, exists := s.clients[clientID]; exists {
		close(client.Done)
		delete(s.clients, clientID)
		s.logger.Info("SSE client disconnected", zap.String("clientID", clientID))
	}
}

// broadcastEvent queues an event for all connected clients
func (s *ProgressServer) broadcastEvent(event SSEEvent) {
	s.closeMutex.RLock()
	defer s.closeMutex.RUnlock()
	if s.closed {
		s.logger.Debug("progress server closed, dropping event", zap.String("event", event.Event))
		return
	}
	select {
	case s.broadcast <- event:
	default:
		s.clientsMutex.Lock()
		s.dropped++
		s.clientsMutex.Unlock()
		s.logger.Warn("broadcast channel full, dropping event", zap.String("eventID", event.ID), zap.String("event", event.Event))
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")
}

// HandleSSE streams the progress of every run until the client disconnects
func (s *ProgressServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	setSSEHeaders(w)

	client := s.addClient(w)
	if client == nil {
		return
	}

	ctx := r.Context()
	ticker := time.NewTicker(s.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.removeClient(client.ID)
			return
		case <-client.Done:
			return
		case <-ticker.C:
			keepaliveEvent := newSSEEvent("keepalive", map[string]any{"timestamp": time.Now()})
			if err := client.send(keepaliveEvent); err != nil {
				s.removeClient(client.ID)
				return
			}
		}
	}
}

// HandleConvertSSE runs one conversion and streams its progress to the
// requesting client only.
func (s *ProgressServer) HandleConvertSSE(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "Conversion service not available", http.StatusServiceUnavailable)
		return
	}

	var request ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if request.ExportPath == "" {
		http.Error(w, "export_path is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)
	client := &SSEClient{ID: uuid.NewString(), Writer: w, Flusher: flusher, Done: make(chan struct{})}

	send := func(event SSEEvent) {
		if err := client.send(event); err != nil {
			s.logger.Debug("failed to send event", zap.String("clientID", client.ID), zap.Error(err))
		}
	}

	send(newSSEEvent("convert_start", request))
	ctx := service.ContextWithObserver(r.Context(), func(e service.Event) {
		send(newSSEEvent(string(e.Type), e))
	})
	result, err := s.service.Convert(ctx, request.ExportPath, request.Force)
	if err != nil {
		send(newSSEEvent("convert_error", map[string]any{"error": err.Error(), "result": result}))
		return
	}
	send(newSSEEvent("convert_complete", map[string]any{"status": "completed", "result": result}))
}

// GetConnectedClients returns information about connected clients
func (s *ProgressServer) GetConnectedClients() []map[string]any {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	clients := make([]map[string]any, 0, len(s.clients))
	for _, client := range s.clients {
		lastSeen := client.lastSeen()
		clients = append(clients, map[string]any{
			"id":        client.ID,
			"lastSeen":  lastSeen,
			"connected": time.Since(lastSeen) < s.config.ClientTimeout,
		})
	}
	return clients
}

// GetStats returns server statistics
func (s *ProgressServer) GetStats() map[string]any {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	return map[string]any{
		"connectedClients": len(s.clients),
		"bufferSize":       len(s.broadcast),
		"droppedEvents":    s.dropped,
		"serverVersion":    Version,
	}
}
