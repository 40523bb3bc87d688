package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snapledger/snapledger/internal/notify"
)

// FallbackStatus describes how a failure was resolved.
type FallbackStatus string

const (
	// FallbackNone means no recovery path applied; the error stands.
	FallbackNone FallbackStatus = "none"

	// FallbackQueued means the payload was persisted for later delivery and
	// the operation counts as succeeded from the user's perspective.
	FallbackQueued FallbackStatus = "queued"

	// FallbackManual means the user must complete the operation by hand,
	// starting from whatever partial data is available.
	FallbackManual FallbackStatus = "manual"
)

// FallbackResult is the outcome of resolving a classified failure.
type FallbackResult struct {
	Kind     Kind
	Status   FallbackStatus
	QueueKey string
	ItemID   string
	Offline  bool
}

// Recovered reports whether the caller should treat the operation as succeeded.
func (r FallbackResult) Recovered() bool {
	return r.Status == FallbackQueued
}

// DrainStats summarizes one offline-queue drain pass.
type DrainStats struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

// Layer bundles the resilience facilities every network-facing component
// uses: retry, error classification and logging, fallback queuing, and
// offline-queue draining.
type Layer struct {
	retryer      *Retryer
	log          *Log
	queue        Queue
	notifier     notify.Notifier
	connectivity *ConnectivityTracker
	logger       *slog.Logger

	drainMu sync.Mutex
}

// NewLayer creates a Layer. A nil tracker gets a fresh one that starts
// online.
func NewLayer(queue Queue, notifier notify.Notifier, connectivity *ConnectivityTracker) *Layer {
	if connectivity == nil {
		connectivity = NewConnectivityTracker()
	}
	return &Layer{
		retryer:      NewRetryer(),
		log:          NewLog(DefaultLogCapacity),
		queue:        queue,
		notifier:     notifier,
		connectivity: connectivity,
		logger:       slog.Default(),
	}
}

// Connectivity exposes the layer's connectivity tracker.
func (l *Layer) Connectivity() *ConnectivityTracker { return l.connectivity }

// Retryer exposes the layer's retry policy for direct use.
func (l *Layer) Retryer() *Retryer { return l.retryer }

// ErrorLog exposes the rolling error log.
func (l *Layer) ErrorLog() *Log { return l.log }

// Do runs op with the layer's retry policy.
func (l *Layer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	return l.retryer.Do(ctx, op)
}

// Resolve classifies a surfaced failure, appends it to the rolling log,
// selects a fallback strategy, and emits exactly one user notification:
// a degraded-but-succeeded notice when a fallback recovered the operation,
// otherwise an error notice whose severity follows the error kind.
//
// payload is the pending request body and payloadType names its encoding;
// both are persisted when the selected fallback queues for later delivery, so
// a drain can route the item to the matching sync path.
func (l *Layer) Resolve(err error, contextLabel, payloadType string, payload []byte) FallbackResult {
	kind := Classify(err)
	l.log.Append(Record{
		Kind:      kind,
		Severity:  SeverityFor(kind),
		Retryable: Retryable(err),
		Time:      time.Now(),
		Context:   contextLabel,
	})

	result := FallbackResult{Kind: kind, Status: FallbackNone}
	switch kind {
	case KindCloudStorage:
		if id, qerr := l.append(QueueKeyCloudFallback, payloadType, payload, false); qerr == nil {
			result.Status = FallbackQueued
			result.QueueKey = QueueKeyCloudFallback
			result.ItemID = id
		}
	case KindOCR:
		result.Status = FallbackManual
	case KindNetwork:
		if l.connectivity.Offline() {
			if id, qerr := l.append(QueueKeyOffline, payloadType, payload, true); qerr == nil {
				result.Status = FallbackQueued
				result.QueueKey = QueueKeyOffline
				result.ItemID = id
				result.Offline = true
			}
		}
		l.connectivity.MarkOffline()
	}

	if l.notifier != nil {
		switch result.Status {
		case FallbackQueued:
			l.notifier.Notify("fallback", fmt.Sprintf("%s: saved for later delivery", contextLabel), notify.SeverityLow)
		case FallbackManual:
			l.notifier.Notify("manual_entry", fmt.Sprintf("%s: automatic extraction failed, manual entry required", contextLabel), notify.SeverityLow)
		default:
			l.notifier.Notify(string(kind), fmt.Sprintf("%s: %v", contextLabel, err), SeverityFor(kind))
		}
	}
	return result
}

// Drain submits every item under key through syncFn once. Items are removed
// only after their sync call succeeds; failed items stay queued. Individual
// failures never abort the pass. Concurrent drains are serialized so an item
// is delivered at most once.
func (l *Layer) Drain(ctx context.Context, key string, syncFn func(ctx context.Context, item Item) error) DrainStats {
	l.drainMu.Lock()
	defer l.drainMu.Unlock()

	var stats DrainStats
	if l.queue == nil {
		return stats
	}
	items, err := l.queue.Items(key)
	if err != nil {
		l.logger.Error("reading queued items", "key", key, "error", err)
		return stats
	}
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := syncFn(ctx, item); err != nil {
			stats.Errors++
			l.logger.Warn("sync failed, item stays queued", "key", key, "id", item.ID, "error", err)
			continue
		}
		if err := l.queue.Remove(key, item.ID); err != nil {
			stats.Errors++
			l.logger.Error("removing synced item", "key", key, "id", item.ID, "error", err)
			continue
		}
		stats.Synced++
		l.connectivity.MarkOnline()
	}
	return stats
}

func (l *Layer) append(key, payloadType string, payload []byte, needsSync bool) (string, error) {
	if l.queue == nil {
		return "", fmt.Errorf("no durable queue configured")
	}
	id, err := l.queue.Append(key, payloadType, payload, needsSync)
	if err != nil {
		l.logger.Error("queueing payload", "key", key, "error", err)
		return "", err
	}
	return id, nil
}
