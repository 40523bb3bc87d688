package resilience

import (
	"sync"
	"time"

	"github.com/snapledger/snapledger/internal/notify"
)

// DefaultLogCapacity bounds the rolling error log.
const DefaultLogCapacity = 100

// Record is one classified failure kept in the rolling log.
type Record struct {
	Kind      Kind            `json:"kind"`
	Severity  notify.Severity `json:"severity"`
	Retryable bool            `json:"retryable"`
	Time      time.Time       `json:"time"`
	Context   string          `json:"context"`
}

// Log is a bounded rolling log of classified failures. When full, appending
// evicts the oldest record first.
type Log struct {
	mu       sync.Mutex
	capacity int
	records  []Record
}

// NewLog creates a Log with the given capacity. Zero or negative capacity
// falls back to DefaultLogCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{capacity: capacity}
}

// Append adds a record, evicting the oldest if the log is at capacity.
func (l *Log) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.capacity {
		l.records = l.records[1:]
	}
	l.records = append(l.records, rec)
}

// Records returns a copy of the log, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of stored records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
