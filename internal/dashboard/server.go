// Package dashboard serves live views of a cluster config client over
// WebSocket.
//
// A connection to /ws?path=<path> receives the settings at that path
// every time they change. Every connection also receives a message for
// each remote update the client accepts.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSettings carries a new value of the watched path.
	MessageTypeSettings MessageType = "settings"

	// MessageTypeRemoteUpdate reports a payload accepted from the service.
	MessageTypeRemoteUpdate MessageType = "remote_update"

	// MessageTypeError reports that the watch of a connection ended.
	MessageTypeError MessageType = "error"
)

// Message represents a dashboard message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SettingsData is the payload of a settings message.
type SettingsData struct {
	Path     string          `json:"path"`
	Version  int64           `json:"version"`
	Settings json.RawMessage `json:"settings"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Server manages WebSocket connections for one client.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	source   Source

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log logrus.FieldLogger
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":8080"). Port 0 picks a free port.
	Addr string

	// Logger for server activity (default: standard logrus logger)
	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":8080",
		Logger: logrus.StandardLogger(),
	}
}

// NewServer creates a dashboard for source.
func NewServer(source Source, config *Config) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		source:    source,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		log:       log.WithField("component", "dashboard"),
	}, nil
}

// Handler returns the HTTP routes of the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Infof("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.log.Info("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.log.Warn("Broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.send(conn, msg); err != nil {
					s.log.WithError(err).Debug("Failed to send to client")
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// handleWebSocket upgrades the connection and streams the settings at
// the "path" query parameter (the whole zone when empty).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	path := r.URL.Query().Get("path")

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.log.WithFields(logrus.Fields{"path": path, "clients": clientCount}).Debug("Client connected")

	ctx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.readLoop(ctx, conn)
	}()
	go func() {
		defer s.wg.Done()
		s.streamPath(ctx, conn, path)
	}()
}

// streamPath forwards every distinct value of path to conn.
func (s *Server) streamPath(ctx context.Context, conn *websocket.Conn, path string) {
	watch := s.source.Watch(path)
	defer watch.Close()

	for {
		node, version, err := watch.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			data, _ := json.Marshal(ErrorData{Path: path, Error: err.Error()})
			_ = s.send(conn, Message{Type: MessageTypeError, Data: data})
			s.removeClient(conn)
			return
		}

		settings, err := json.Marshal(node)
		if err != nil {
			s.log.WithError(err).Warn("Failed to marshal settings")
			continue
		}
		data, err := json.Marshal(SettingsData{Path: path, Version: version, Settings: settings})
		if err != nil {
			s.log.WithError(err).Warn("Failed to marshal settings message")
			continue
		}
		if err := s.send(conn, Message{Type: MessageTypeSettings, Data: data}); err != nil {
			s.removeClient(conn)
			return
		}
	}
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.log.WithField("clients", clientCount).Debug("Client disconnected")
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"clients":     s.ClientCount(),
		"zone":        s.source.Zone(),
		"version":     s.source.Version(),
		"initialized": s.source.HasInitialized(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Cluster Config Dashboard</title>
</head>
<body>
    <h1>Zone %s</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws?path=&lt;path&gt;</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, html.EscapeString(s.source.Zone()), html.EscapeString(r.Host))
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
