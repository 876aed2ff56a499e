// Package dashboard serves a live view of the schedule over WebSocket.
//
// Connected clients first receive a snapshot of the whole schedule and then
// one message per change: course added, removed or updated, identity
// switches and loading state changes.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType tags a Message.
type MessageType string

const (
	// MessageTypeSnapshot carries the full schedule
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeCourseUpdate indicates a course was added, removed or updated
	MessageTypeCourseUpdate MessageType = "course_update"

	// MessageTypeIdentityChange indicates the schedule now belongs to someone else
	MessageTypeIdentityChange MessageType = "identity_change"

	// MessageTypeStateChange indicates the store started or finished loading
	MessageTypeStateChange MessageType = "state_change"
)

// Message is one frame sent to dashboard clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server streams schedule changes to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	broadcast chan Message

	// welcome, if set, produces the first message a new client receives
	welcome   func() (Message, bool)
	welcomeMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config configures a Server.
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Logger, default log.Default()
	Logger *log.Logger
}

// DefaultConfig listens on port 8080 on all interfaces.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer creates a stopped server. A nil config means DefaultConfig.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// SetWelcome registers the producer of the first message sent to each new
// client.
func (s *Server) SetWelcome(fn func() (Message, bool)) {
	s.welcomeMu.Lock()
	s.welcome = fn
	s.welcomeMu.Unlock()
}

// Start binds the listener and serves /ws, /health and / in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client and shuts the HTTP server down. It may be called
// before Start.
func (s *Server) Stop() error {
	s.logger.Println("Shutting down schedule dashboard")

	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		c.close(websocket.StatusGoingAway, "dashboard stopping")
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Schedule dashboard stopped")
	return nil
}

// Broadcast queues msg for every connected client. A full queue drops it.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Printf("WARNING: broadcast queue full, dropping %s message", msg.Type)
	}
}

// clientQueue bounds the frames waiting for one slow client.
const clientQueue = 32

// client is one dashboard connection with its own outgoing queue, so a slow
// reader never holds up the others.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, clientQueue),
		done: make(chan struct{}),
	}
}

// offer queues data without blocking and reports whether it fit.
func (c *client) offer(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// reset empties the queue and leaves data as the only frame in it. A
// snapshot describes everything the discarded deltas did.
func (c *client) reset(data []byte) {
	for {
		select {
		case <-c.send:
		default:
			c.offer(data)
			return
		}
	}
}

func (c *client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close(code, reason)
	})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			data, err := encode(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			s.fanOut(msg.Type, data)
		}
	}
}

// fanOut hands data to every client. A client whose queue is full gets
// resynced: its backlog is replaced by a snapshot, either data itself or a
// fresh welcome. Without a snapshot to offer the client is dropped.
func (s *Server) fanOut(typ MessageType, data []byte) {
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		if c.offer(data) {
			continue
		}
		if typ == MessageTypeSnapshot {
			c.reset(data)
			continue
		}
		if snap, ok := s.welcomeFrame(); ok {
			s.logger.Printf("WARNING: client fell behind, resending snapshot")
			c.reset(snap)
			continue
		}
		s.logger.Printf("WARNING: dropping client that fell behind")
		s.removeClient(c)
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

// welcomeFrame encodes the current welcome message, if one is registered.
func (s *Server) welcomeFrame() ([]byte, bool) {
	s.welcomeMu.RLock()
	welcome := s.welcome
	s.welcomeMu.RUnlock()
	if welcome == nil {
		return nil, false
	}
	msg, ok := welcome()
	if !ok {
		return nil, false
	}
	data, err := encode(msg)
	if err != nil {
		s.logger.Printf("Failed to encode welcome snapshot: %v", err)
		return nil, false
	}
	return data, true
}

// writeLoop sends queued frames until the client closes.
func (s *Server) writeLoop(c *client) {
	defer s.removeClient(c)

	for {
		select {
		case <-c.done:
			return
		case <-s.ctx.Done():
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Printf("WARNING: dropping client after failed write: %v", err)
				return
			}
		}
	}
}

// readLoop drains client frames until the connection drops.
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	for {
		if _, _, err := c.conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The welcome snapshot is queued before the client is registered, so a
	// change is never seen ahead of the state it applies to.
	c := newClient(conn)
	if snap, ok := s.welcomeFrame(); ok {
		c.offer(snap)
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Dashboard client joined, %d connected", n)

	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	n := len(s.clients)
	s.clientsMu.Unlock()

	c.close(websocket.StatusNormalClosure, "")
	if ok {
		s.logger.Printf("Dashboard client left, %d connected", n)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Timetable Dashboard</title>
</head>
<body>
    <h1>Timetable Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to follow schedule changes as they happen.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the bound address once started, else the configured one.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount reports how many clients are connected.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
