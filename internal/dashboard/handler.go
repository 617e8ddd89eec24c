package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/xstash/xstash/internal/store"
	xsync "github.com/xstash/xstash/internal/sync"
)

// StatsFunc loads a fresh statistics snapshot.
type StatsFunc func(ctx context.Context) (*store.Stats, error)

// Handler turns sync events into dashboard messages. It implements
// sync.Observer and never blocks the run that emits events.
type Handler struct {
	server *Server
	stats  StatsFunc
	logger *log.Logger

	mu        sync.Mutex
	lastEvent *Message
	lastStats *Message
}

// NewHandler creates a handler connected to a dashboard server. stats may
// be nil, in which case no stats messages are sent.
func NewHandler(server *Server, stats StatsFunc, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{
		server: server,
		stats:  stats,
		logger: logger,
	}
	server.SetSnapshot(h.Snapshot)
	return h
}

var eventTypes = map[xsync.EventKind]MessageType{
	xsync.EventRunStarted:   MessageTypeRunStarted,
	xsync.EventPageStored:   MessageTypePageStored,
	xsync.EventRunCompleted: MessageTypeRunCompleted,
	xsync.EventRunFailed:    MessageTypeRunFailed,
}

// OnEvent implements sync.Observer.
func (h *Handler) OnEvent(e xsync.Event) {
	typ, ok := eventTypes[e.Kind]
	if !ok {
		h.logger.Printf("Warning: ignoring unknown event kind %q", e.Kind)
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := Message{Type: typ, Timestamp: ts, Data: data}

	h.mu.Lock()
	h.lastEvent = &msg
	h.mu.Unlock()

	h.server.Broadcast(msg)

	if e.Kind == xsync.EventRunCompleted || e.Kind == xsync.EventRunFailed {
		go h.RefreshStats(context.Background())
	}
}

// RefreshStats loads statistics and broadcasts them.
func (h *Handler) RefreshStats(ctx context.Context) {
	if h.stats == nil {
		return
	}

	stats, err := h.stats(ctx)
	if err != nil {
		h.logger.Printf("Warning: failed to load stats: %v", err)
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	msg := Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}

	h.mu.Lock()
	h.lastStats = &msg
	h.mu.Unlock()

	h.server.Broadcast(msg)
}

// Snapshot returns the latest stats and the latest run event, in that
// order, for clients that connect mid-stream.
func (h *Handler) Snapshot() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Message
	if h.lastStats != nil {
		out = append(out, *h.lastStats)
	}
	if h.lastEvent != nil {
		out = append(out, *h.lastEvent)
	}
	return out
}
