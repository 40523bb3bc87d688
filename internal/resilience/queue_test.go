package resilience

import (
	"fmt"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltQueue", func() {
	var (
		queue *BoltQueue
	)

	BeforeEach(func() {
		var err error
		queue, err = NewBoltQueue(filepath.Join(GinkgoT().TempDir(), "queue.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if queue != nil {
			queue.Close()
		}
	})

	Describe("Append", func() {
		It("stores items in insertion order", func() {
			_, err := queue.Append("offline_data", "test_payload", []byte("first"), true)
			Expect(err).NotTo(HaveOccurred())
			_, err = queue.Append("offline_data", "test_payload", []byte("second"), true)
			Expect(err).NotTo(HaveOccurred())

			items, err := queue.Items("offline_data")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			Expect(items[0].Payload).To(Equal([]byte("first")))
			Expect(items[1].Payload).To(Equal([]byte("second")))
		})

		It("keeps queue keys separate", func() {
			_, err := queue.Append("offline_data", "test_payload", []byte("a"), true)
			Expect(err).NotTo(HaveOccurred())
			_, err = queue.Append("cloud_fallback", "test_payload", []byte("b"), false)
			Expect(err).NotTo(HaveOccurred())

			items, err := queue.Items("cloud_fallback")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].Payload).To(Equal([]byte("b")))
		})

		It("records the needsSync tag", func() {
			_, err := queue.Append("offline_data", "test_payload", []byte("x"), true)
			Expect(err).NotTo(HaveOccurred())
			items, _ := queue.Items("offline_data")
			Expect(items[0].NeedsSync).To(BeTrue())
		})

		It("round-trips the payload type", func() {
			_, err := queue.Append("offline_data", "transaction_draft", []byte("x"), true)
			Expect(err).NotTo(HaveOccurred())
			items, _ := queue.Items("offline_data")
			Expect(items[0].Type).To(Equal("transaction_draft"))
		})

		When("the key is at capacity", func() {
			BeforeEach(func() {
				for i := 0; i < DefaultQueueCapacity+5; i++ {
					_, err := queue.Append("offline_data", "test_payload", []byte(fmt.Sprintf("item-%d", i)), true)
					Expect(err).NotTo(HaveOccurred())
				}
			})

			It("never exceeds the capacity", func() {
				items, err := queue.Items("offline_data")
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(DefaultQueueCapacity))
			})

			It("evicts the oldest entries first", func() {
				items, _ := queue.Items("offline_data")
				Expect(items[0].Payload).To(Equal([]byte("item-5")))
			})
		})
	})

	Describe("Remove", func() {
		It("removes exactly the named item", func() {
			id1, _ := queue.Append("offline_data", "test_payload", []byte("keep"), true)
			id2, _ := queue.Append("offline_data", "test_payload", []byte("drop"), true)

			Expect(queue.Remove("offline_data", id2)).To(Succeed())

			items, _ := queue.Items("offline_data")
			Expect(items).To(HaveLen(1))
			Expect(items[0].ID).To(Equal(id1))
		})

		It("tolerates a missing key", func() {
			Expect(queue.Remove("nope", "123")).To(Succeed())
		})
	})

	Describe("Clear", func() {
		It("removes everything under the key", func() {
			queue.Append("offline_data", "test_payload", []byte("a"), true)
			queue.Append("offline_data", "test_payload", []byte("b"), true)

			Expect(queue.Clear("offline_data")).To(Succeed())

			items, err := queue.Items("offline_data")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(BeEmpty())
		})
	})
})
