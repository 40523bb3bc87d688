package resilience

import (
	"sync"
	"time"
)

// ConnectivityTracker keeps a best-effort view of whether the process can
// reach the network. Go has no ambient online/offline signal, so the tracker
// is fed by the layer itself: network failures mark it offline, successful
// deliveries mark it online again.
type ConnectivityTracker struct {
	mu      sync.Mutex
	offline bool
	since   time.Time
}

// NewConnectivityTracker starts in the online state.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{}
}

// MarkOffline records a connectivity loss.
func (c *ConnectivityTracker) MarkOffline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.offline {
		c.offline = true
		c.since = time.Now()
	}
}

// MarkOnline records restored connectivity.
func (c *ConnectivityTracker) MarkOnline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = false
	c.since = time.Time{}
}

// Offline reports the current best-effort connectivity state.
func (c *ConnectivityTracker) Offline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}
