package resilience

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// QueueKeyOffline holds payloads captured while the network was down.
	QueueKeyOffline = "offline_data"

	// QueueKeyCloudFallback holds payloads that could not reach cloud storage.
	QueueKeyCloudFallback = "cloud_fallback"

	// DefaultQueueCapacity bounds each queue key; the oldest entry is evicted
	// when a new one would exceed it.
	DefaultQueueCapacity = 50
)

// Item is one queued payload awaiting later delivery. Type names the payload
// encoding so a drain can route each item to the right sync path.
type Item struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	NeedsSync bool      `json:"needs_sync"`
	QueuedAt  time.Time `json:"queued_at"`
}

// Queue is a key-scoped durable store for pending payloads. Append and Remove
// are atomic with respect to concurrent callers.
type Queue interface {
	// Append stores a typed item under key and returns its assigned ID.
	Append(key, payloadType string, payload []byte, needsSync bool) (string, error)

	// Items returns all items under key, oldest first.
	Items(key string) ([]Item, error)

	// Remove deletes one item by ID.
	Remove(key, id string) error

	// Clear deletes every item under key.
	Clear(key string) error

	// Close releases the underlying store.
	Close() error
}

// BoltQueue implements Queue on a bbolt database, one bucket per queue key.
// IDs are zero-padded bucket sequence numbers so insertion order is key order.
type BoltQueue struct {
	db       *bbolt.DB
	capacity int
}

// NewBoltQueue opens (or creates) the queue database at path.
func NewBoltQueue(path string) (*BoltQueue, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening queue db: %w", err)
	}
	return &BoltQueue{db: db, capacity: DefaultQueueCapacity}, nil
}

// Append stores a payload under key, evicting the oldest item when the key is
// at capacity.
func (q *BoltQueue) Append(key, payloadType string, payload []byte, needsSync bool) (string, error) {
	var id string
	err := q.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return fmt.Errorf("creating queue bucket: %w", err)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("assigning queue id: %w", err)
		}
		id = fmt.Sprintf("%020d", seq)
		item := Item{
			ID:        id,
			Type:      payloadType,
			Payload:   payload,
			NeedsSync: needsSync,
			QueuedAt:  time.Now(),
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling queue item: %w", err)
		}
		if err := bucket.Put([]byte(id), data); err != nil {
			return err
		}
		// Evict oldest entries beyond capacity.
		for count(bucket) > q.capacity {
			c := bucket.Cursor()
			k, _ := c.First()
			if k == nil {
				break
			}
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Items returns every item under key, oldest first.
func (q *BoltQueue) Items(key string) ([]Item, error) {
	items := make([]Item, 0)
	err := q.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(key))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var item Item
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling queue item: %w", err)
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Remove deletes one item by ID in a single transaction.
func (q *BoltQueue) Remove(key, id string) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(key))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
}

// Clear deletes every item under key.
func (q *BoltQueue) Clear(key string) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(key)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(key))
	})
}

// Close closes the underlying database.
func (q *BoltQueue) Close() error {
	return q.db.Close()
}

func count(b *bbolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}
