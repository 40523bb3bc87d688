package transaction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/snapledger/snapledger/internal/resilience"
	"github.com/snapledger/snapledger/internal/scan"
	"github.com/snapledger/snapledger/internal/staging"
)

func TestTransaction(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Transaction Suite")
}

// mockSubmitter is a mock implementation of Submitter.
type mockSubmitter struct {
	calls     int
	drafts    []*Draft
	createErr error
}

func (m *mockSubmitter) CreateTransaction(ctx context.Context, draft *Draft) error {
	m.calls++
	if m.createErr != nil {
		return m.createErr
	}
	m.drafts = append(m.drafts, draft)
	return nil
}

// gatedSubmitter holds CreateTransaction open until released, so tests can
// line up concurrent materializations against an in-flight submission.
type gatedSubmitter struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (g *gatedSubmitter) CreateTransaction(ctx context.Context, draft *Draft) error {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	<-g.release
	return nil
}

func (g *gatedSubmitter) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func scannedResult(merchant string, amount float64) *scan.Result {
	return &scan.Result{
		Merchant:    merchant,
		Amount:      amount,
		Date:        time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		Type:        scan.TypeExpense,
		Description: "Receipt from " + merchant,
	}
}

var _ = Describe("Materializer", func() {
	var (
		store        *staging.Store
		submitter    *mockSubmitter
		queue        *resilience.BoltQueue
		layer        *resilience.Layer
		materializer *Materializer
	)

	BeforeEach(func() {
		store = staging.NewStore()
		submitter = &mockSubmitter{}
		var err error
		queue, err = resilience.NewBoltQueue(filepath.Join(GinkgoT().TempDir(), "queue.db"))
		Expect(err).NotTo(HaveOccurred())
		layer = resilience.NewLayer(queue, nil, nil)
		layer.Retryer().Delay = 0
		materializer = NewMaterializer(store, submitter, layer)
	})

	AfterEach(func() {
		queue.Close()
	})

	Describe("Materialize", func() {
		When("the staged receipt is valid", func() {
			var (
				staged *staging.StagedReceipt
				draft  *Draft
				err    error
			)

			BeforeEach(func() {
				staged = store.Stage(scannedResult("CVS Pharmacy", 42.75))
			})

			JustBeforeEach(func() {
				draft, err = materializer.Materialize(context.Background(), staged.ID)
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("submits one transaction", func() {
				Expect(submitter.calls).To(Equal(1))
			})

			It("carries a back-reference to the staged receipt", func() {
				Expect(draft.ReceiptRef).To(Equal(staged.ID))
			})

			It("marks the receipt processed", func() {
				processed, _ := store.Get(staged.ID)
				Expect(processed.Status).To(Equal(staging.StatusProcessed))
			})
		})

		When("the merchant is the placeholder", func() {
			var err error

			JustBeforeEach(func() {
				staged := store.Stage(scannedResult(scan.PlaceholderMerchant, 42.75))
				_, err = materializer.Materialize(context.Background(), staged.ID)
			})

			It("fails with a validation error naming the merchant", func() {
				var ve *ValidationError
				Expect(errors.As(err, &ve)).To(BeTrue())
				Expect(ve.Field).To(Equal("merchant"))
			})

			It("makes no network call", func() {
				Expect(submitter.calls).To(Equal(0))
			})
		})

		When("the merchant is empty", func() {
			It("fails with a validation error", func() {
				staged := store.Stage(scannedResult("", 42.75))
				_, err := materializer.Materialize(context.Background(), staged.ID)
				Expect(IsValidation(err)).To(BeTrue())
				Expect(submitter.calls).To(Equal(0))
			})
		})

		When("the amount is zero", func() {
			It("fails with a validation error naming the amount", func() {
				staged := store.Stage(scannedResult("CVS Pharmacy", 0))
				_, err := materializer.Materialize(context.Background(), staged.ID)
				var ve *ValidationError
				Expect(errors.As(err, &ve)).To(BeTrue())
				Expect(ve.Field).To(Equal("amount"))
				Expect(submitter.calls).To(Equal(0))
			})
		})

		When("the amount is negative", func() {
			It("fails with a validation error", func() {
				staged := store.Stage(scannedResult("CVS Pharmacy", -3.50))
				_, err := materializer.Materialize(context.Background(), staged.ID)
				Expect(IsValidation(err)).To(BeTrue())
			})
		})

		When("both merchant and amount are invalid", func() {
			It("fails fast on the merchant check", func() {
				staged := store.Stage(scannedResult("", 0))
				_, err := materializer.Materialize(context.Background(), staged.ID)
				var ve *ValidationError
				Expect(errors.As(err, &ve)).To(BeTrue())
				Expect(ve.Field).To(Equal("merchant"))
			})
		})

		When("user edits fixed an invalid scan", func() {
			It("validates the edited fields", func() {
				staged := store.Stage(scannedResult(scan.PlaceholderMerchant, 0))
				merchant := "Corner Store"
				amount := 12.50
				_, err := store.ApplyEdit(staged.ID, staging.Edits{Merchant: &merchant, Amount: &amount})
				Expect(err).NotTo(HaveOccurred())

				draft, err := materializer.Materialize(context.Background(), staged.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(draft.Merchant).To(Equal("Corner Store"))
				Expect(draft.Amount).To(Equal(12.50))
			})
		})

		When("the receipt was already processed", func() {
			It("rejects re-materialization without a network call", func() {
				staged := store.Stage(scannedResult("CVS Pharmacy", 42.75))
				_, err := materializer.Materialize(context.Background(), staged.ID)
				Expect(err).NotTo(HaveOccurred())

				_, err = materializer.Materialize(context.Background(), staged.ID)
				Expect(errors.Is(err, staging.ErrAlreadyProcessed)).To(BeTrue())
				Expect(submitter.calls).To(Equal(1))
			})
		})

		When("two materializations race for the same receipt", func() {
			It("submits exactly once and rejects the loser", func() {
				gated := &gatedSubmitter{release: make(chan struct{})}
				racer := NewMaterializer(store, gated, layer)
				staged := store.Stage(scannedResult("CVS Pharmacy", 42.75))

				errs := make(chan error, 2)
				for i := 0; i < 2; i++ {
					go func() {
						_, err := racer.Materialize(context.Background(), staged.ID)
						errs <- err
					}()
				}

				Eventually(gated.count).Should(Equal(1))
				close(gated.release)

				collected := []error{<-errs, <-errs}
				if collected[0] != nil {
					collected[0], collected[1] = collected[1], collected[0]
				}
				Expect(collected[0]).NotTo(HaveOccurred())
				Expect(errors.Is(collected[1], staging.ErrAlreadyProcessed)).To(BeTrue())
				Expect(gated.count()).To(Equal(1))

				processed, _ := store.Get(staged.ID)
				Expect(processed.Status).To(Equal(staging.StatusProcessed))
			})
		})

		When("submission fails with a network error while offline", func() {
			BeforeEach(func() {
				layer.Connectivity().MarkOffline()
				submitter.createErr = errors.New("network is unreachable")
			})

			It("queues the draft and reports success", func() {
				staged := store.Stage(scannedResult("CVS Pharmacy", 42.75))
				draft, err := materializer.Materialize(context.Background(), staged.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(draft).NotTo(BeNil())

				items, _ := queue.Items(resilience.QueueKeyOffline)
				Expect(items).To(HaveLen(1))

				processed, _ := store.Get(staged.ID)
				Expect(processed.Status).To(Equal(staging.StatusProcessed))
			})
		})

		When("submission fails with a validation status from the server", func() {
			BeforeEach(func() {
				submitter.createErr = &resilience.StatusError{Status: 400, Message: "bad draft"}
			})

			It("surfaces the failure without retrying", func() {
				staged := store.Stage(scannedResult("CVS Pharmacy", 42.75))
				_, err := materializer.Materialize(context.Background(), staged.ID)
				Expect(err).To(HaveOccurred())
				Expect(submitter.calls).To(Equal(1))
			})

			It("leaves the receipt unprocessed", func() {
				staged := store.Stage(scannedResult("CVS Pharmacy", 42.75))
				materializer.Materialize(context.Background(), staged.ID)
				r, _ := store.Get(staged.ID)
				Expect(r.Status).To(Equal(staging.StatusScanned))
			})
		})
	})

	Describe("MaterializeBatch", func() {
		It("aggregates created and failed counts without aborting", func() {
			good1 := store.Stage(scannedResult("Store A", 10))
			bad := store.Stage(scannedResult("", 10))
			good2 := store.Stage(scannedResult("Store B", 20))

			outcome := materializer.MaterializeBatch(context.Background(), []string{good1.ID, bad.ID, good2.ID})
			Expect(outcome).To(Equal(Outcome{Created: 2, Failed: 1}))
		})

		It("processes sequentially in input order", func() {
			a := store.Stage(scannedResult("Store A", 10))
			b := store.Stage(scannedResult("Store B", 20))

			materializer.MaterializeBatch(context.Background(), []string{a.ID, b.ID})
			Expect(submitter.drafts).To(HaveLen(2))
			Expect(submitter.drafts[0].ReceiptRef).To(Equal(a.ID))
			Expect(submitter.drafts[1].ReceiptRef).To(Equal(b.ID))
		})
	})
})
