package resilience

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/snapledger/snapledger/internal/notify"
)

// capturingNotifier records notifications for assertions.
type capturingNotifier struct {
	mu       sync.Mutex
	kinds    []string
	messages []string
}

func (n *capturingNotifier) Notify(kind string, message string, severity notify.Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	n.messages = append(n.messages, message)
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.kinds)
}

var _ = Describe("Layer", func() {
	var (
		queue    *BoltQueue
		notifier *capturingNotifier
		layer    *Layer
	)

	BeforeEach(func() {
		var err error
		queue, err = NewBoltQueue(filepath.Join(GinkgoT().TempDir(), "layer.db"))
		Expect(err).NotTo(HaveOccurred())
		notifier = &capturingNotifier{}
		layer = NewLayer(queue, notifier, nil)
	})

	AfterEach(func() {
		queue.Close()
	})

	Describe("Resolve", func() {
		When("the error is a cloud storage failure", func() {
			var result FallbackResult

			JustBeforeEach(func() {
				result = layer.Resolve(errors.New("cloud storage bucket unavailable"), "uploading receipt", "test_payload", []byte("payload"))
			})

			It("queues the payload under cloud_fallback", func() {
				items, _ := queue.Items(QueueKeyCloudFallback)
				Expect(items).To(HaveLen(1))
				Expect(items[0].Payload).To(Equal([]byte("payload")))
				Expect(items[0].Type).To(Equal("test_payload"))
			})

			It("reports the operation as recovered", func() {
				Expect(result.Recovered()).To(BeTrue())
			})

			It("emits one degraded-success notification, not an error", func() {
				Expect(notifier.count()).To(Equal(1))
				Expect(notifier.kinds[0]).To(Equal("fallback"))
			})
		})

		When("the error is an OCR failure", func() {
			var result FallbackResult

			JustBeforeEach(func() {
				result = layer.Resolve(errors.New("ocr could not extract fields"), "scanning receipt.jpg", "test_payload", nil)
			})

			It("requires manual entry", func() {
				Expect(result.Status).To(Equal(FallbackManual))
			})

			It("does not queue anything", func() {
				items, _ := queue.Items(QueueKeyOffline)
				Expect(items).To(BeEmpty())
			})

			It("emits one manual-entry notification", func() {
				Expect(notifier.count()).To(Equal(1))
				Expect(notifier.kinds[0]).To(Equal("manual_entry"))
			})
		})

		When("a network error happens while offline", func() {
			var result FallbackResult

			BeforeEach(func() {
				layer.Connectivity().MarkOffline()
			})

			JustBeforeEach(func() {
				result = layer.Resolve(errors.New("network is unreachable"), "creating transaction", "test_payload", []byte("draft"))
			})

			It("queues the payload under offline_data tagged for sync", func() {
				items, _ := queue.Items(QueueKeyOffline)
				Expect(items).To(HaveLen(1))
				Expect(items[0].NeedsSync).To(BeTrue())
			})

			It("reports success-with-fallback, offline", func() {
				Expect(result.Recovered()).To(BeTrue())
				Expect(result.Offline).To(BeTrue())
			})
		})

		When("a network error happens while online", func() {
			var result FallbackResult

			JustBeforeEach(func() {
				result = layer.Resolve(errors.New("connection refused"), "creating transaction", "test_payload", []byte("draft"))
			})

			It("does not queue the payload", func() {
				items, _ := queue.Items(QueueKeyOffline)
				Expect(items).To(BeEmpty())
			})

			It("marks connectivity offline for the next failure", func() {
				Expect(layer.Connectivity().Offline()).To(BeTrue())
			})

			It("surfaces an error notification", func() {
				Expect(result.Recovered()).To(BeFalse())
				Expect(notifier.count()).To(Equal(1))
				Expect(notifier.kinds[0]).To(Equal(string(KindNetwork)))
			})
		})

		When("the error is an auth failure", func() {
			JustBeforeEach(func() {
				layer.Resolve(&StatusError{Status: 401, Message: "expired"}, "creating transaction", "test_payload", []byte("draft"))
			})

			It("never queues", func() {
				offline, _ := queue.Items(QueueKeyOffline)
				fallback, _ := queue.Items(QueueKeyCloudFallback)
				Expect(offline).To(BeEmpty())
				Expect(fallback).To(BeEmpty())
			})

			It("appends a high-severity record to the rolling log", func() {
				records := layer.ErrorLog().Records()
				Expect(records).To(HaveLen(1))
				Expect(records[0].Kind).To(Equal(KindAuth))
				Expect(records[0].Severity).To(Equal(notify.SeverityHigh))
				Expect(records[0].Retryable).To(BeFalse())
			})
		})

		It("appends every classified error to the rolling log", func() {
			layer.Resolve(errors.New("connection refused"), "a", "test_payload", nil)
			layer.Resolve(errors.New("ocr failed to extract"), "b", "test_payload", nil)
			layer.Resolve(&StatusError{Status: 500, Message: "boom"}, "c", "test_payload", nil)
			Expect(layer.ErrorLog().Len()).To(Equal(3))
		})
	})

	Describe("Drain", func() {
		var (
			stats    DrainStats
			failures map[string]bool
		)

		BeforeEach(func() {
			failures = make(map[string]bool)
			for i := 0; i < 5; i++ {
				_, err := queue.Append(QueueKeyOffline, "test_payload", []byte(fmt.Sprintf("payload-%d", i)), true)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		JustBeforeEach(func() {
			stats = layer.Drain(context.Background(), QueueKeyOffline, func(ctx context.Context, item Item) error {
				if failures[string(item.Payload)] {
					return errors.New("sync target unavailable")
				}
				return nil
			})
		})

		When("every item syncs", func() {
			It("reports five synced and zero errors", func() {
				Expect(stats).To(Equal(DrainStats{Synced: 5, Errors: 0}))
			})

			It("empties the queue", func() {
				items, _ := queue.Items(QueueKeyOffline)
				Expect(items).To(BeEmpty())
			})

			It("marks connectivity online", func() {
				Expect(layer.Connectivity().Offline()).To(BeFalse())
			})
		})

		When("two of five items fail to sync", func() {
			BeforeEach(func() {
				failures["payload-1"] = true
				failures["payload-3"] = true
			})

			It("reports three synced and two errors", func() {
				Expect(stats).To(Equal(DrainStats{Synced: 3, Errors: 2}))
			})

			It("leaves exactly the failed items queued", func() {
				items, _ := queue.Items(QueueKeyOffline)
				Expect(items).To(HaveLen(2))
				Expect(string(items[0].Payload)).To(Equal("payload-1"))
				Expect(string(items[1].Payload)).To(Equal("payload-3"))
			})
		})

		When("drained a second time", func() {
			It("delivers nothing twice", func() {
				again := layer.Drain(context.Background(), QueueKeyOffline, func(ctx context.Context, item Item) error {
					return nil
				})
				Expect(again).To(Equal(DrainStats{Synced: 0, Errors: 0}))
			})
		})
	})
})
