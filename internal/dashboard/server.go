// Package dashboard serves live sync progress over WebSocket.
//
// Run events and mirror statistics are pushed to subscribers so a browser
// tab or a script can follow scheduled syncs without polling the database.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType names what a Message carries.
type MessageType string

const (
	MessageTypeRunStarted   MessageType = "run_started"
	MessageTypePageStored   MessageType = "page_stored"
	MessageTypeRunCompleted MessageType = "run_completed"
	MessageTypeRunFailed    MessageType = "run_failed"

	// MessageTypeStats carries a store.Stats snapshot.
	MessageTypeStats MessageType = "stats"
)

// Message is one frame sent to subscribers.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// outboxSize bounds queued messages; Broadcast drops beyond it.
const outboxSize = 100

// Server pushes sync progress to WebSocket subscribers.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server

	mu          sync.RWMutex
	subscribers map[*websocket.Conn]struct{}

	outbox   chan Message
	snapshot func() []Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Host defaults to 127.0.0.1.
	Host string
	// Port 0 picks a free port.
	Port   int
	Logger *log.Logger
}

// DefaultConfig binds loopback port 8080.
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8080,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer returns a stopped server; call Start to listen.
func NewServer(config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Host == "" {
		config.Host = defaults.Host
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		subscribers: make(map[*websocket.Conn]struct{}),
		outbox:      make(chan Message, outboxSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      config.Logger,
	}
}

// SetSnapshot registers the source of the messages sent to each new
// subscriber before any live message. It must be called before Start.
func (s *Server) SetSnapshot(fn func() []Message) {
	s.snapshot = fn
}

// Start listens and serves /ws, /health and the status page.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleSubscribe)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on http://%s", s.Addr())
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	return nil
}

// Stop closes every subscriber and shuts the listener down. It is safe to
// call on a server that was never started.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.subscribers {
		_ = conn.Close(websocket.StatusGoingAway, "dashboard stopping")
		delete(s.subscribers, conn)
	}
	s.mu.Unlock()

	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down dashboard: %w", err)
		}
	}
	s.wg.Wait()

	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast queues msg for every subscriber. A full queue drops msg
// rather than stall the sync run that produced it.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.outbox <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("Warning: dashboard queue full, dropping %s message", msg.Type)
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.outbox:
			data, err := encode(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			for _, conn := range s.conns() {
				if err := s.send(conn, data); err != nil {
					s.logger.Printf("Dropping subscriber: %v", err)
					s.unsubscribe(conn)
				}
			}
		}
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) conns() []*websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(s.subscribers))
	for conn := range s.subscribers {
		out = append(out, conn)
	}
	return out
}

func (s *Server) send(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The snapshot is written before registration so it precedes live
	// messages.
	if s.snapshot != nil {
		for _, msg := range s.snapshot() {
			data, err := encode(msg)
			if err != nil {
				s.logger.Printf("Failed to encode snapshot: %v", err)
				continue
			}
			if err := s.send(conn, data); err != nil {
				_ = conn.Close(websocket.StatusInternalError, "snapshot failed")
				return
			}
		}
	}

	s.mu.Lock()
	s.subscribers[conn] = struct{}{}
	n := len(s.subscribers)
	s.mu.Unlock()
	s.logger.Printf("Subscriber connected (%d active)", n)

	go s.drain(conn)
}

// drain discards inbound frames so closes are noticed.
func (s *Server) drain(conn *websocket.Conn) {
	defer s.unsubscribe(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) unsubscribe(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.subscribers[conn]
	delete(s.subscribers, conn)
	n := len(s.subscribers)
	s.mu.Unlock()
	if !ok {
		return
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Subscriber disconnected (%d active)", n)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"subscribers": s.Subscribers(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, statusPage, r.Host)
}

const statusPage = `<!DOCTYPE html>
<html>
<head>
    <title>xstash dashboard</title>
    <style>body{font-family:monospace;margin:2em}#log{white-space:pre-wrap}</style>
</head>
<body>
    <h1>xstash</h1>
    <p>Health check: <a href="/health">/health</a></p>
    <div id="log"></div>
    <script>
    const log = document.getElementById("log");
    const ws = new WebSocket("ws://%s/ws");
    ws.onmessage = (ev) => {
        const msg = JSON.parse(ev.data);
        log.textContent = msg.timestamp + " " + msg.type + " " + JSON.stringify(msg.data) + "\n" + log.textContent;
    };
    </script>
</body>
</html>`

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Subscribers returns the number of connected WebSocket clients.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
