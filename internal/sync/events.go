package sync

import (
	"time"

	"github.com/xstash/xstash/internal/boundary"
	"github.com/xstash/xstash/internal/store"
)

// EventKind identifies a progress event.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventPageStored   EventKind = "page_stored"
	EventRunCompleted EventKind = "run_completed"
	EventRunFailed    EventKind = "run_failed"
)

// Event reports run progress to an Observer.
type Event struct {
	Kind     EventKind         `json:"kind"`
	RunID    int64             `json:"run_id"`
	Mode     boundary.Mode     `json:"mode"`
	Page     int               `json:"page,omitempty"`
	Counters store.RunCounters `json:"counters"`
	CostUSD  float64           `json:"cost_usd,omitempty"`
	Error    string            `json:"error,omitempty"`
	Time     time.Time         `json:"time"`
}
