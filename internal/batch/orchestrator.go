package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/snapledger/snapledger/internal/capture"
	"github.com/snapledger/snapledger/internal/notify"
	"github.com/snapledger/snapledger/internal/resilience"
	"github.com/snapledger/snapledger/internal/scan"
	"github.com/snapledger/snapledger/internal/staging"
	"github.com/snapledger/snapledger/internal/transaction"
)

// State is the batch workflow state. It only advances upload → review →
// complete; the sole regression is an explicit reset back to upload.
type State string

const (
	StateUpload   State = "upload"
	StateReview   State = "review"
	StateComplete State = "complete"
)

// MaxFiles bounds one batch job.
const MaxFiles = 10

var ErrWrongState = errors.New("operation not allowed in current batch state")

// FileUpload is one user-selected file before validation.
type FileUpload struct {
	Name string
	MIME string
	Data []byte
}

// ItemOutcome is the per-file result, addressed by input index so that item i
// always refers to the i-th accepted file for the life of the job.
type ItemOutcome struct {
	Index     int          `json:"index"`
	Name      string       `json:"name"`
	ReceiptID string       `json:"receipt_id,omitempty"`
	Result    *scan.Result `json:"result,omitempty"`
	Err       string       `json:"error,omitempty"`
}

// Tally is the scan outcome summary exposed in the review state.
type Tally struct {
	Successful int `json:"successful"`
	Total      int `json:"total"`
}

// Orchestrator drives a bounded set of captured files through
// scan → review → materialize as one guarded workflow.
type Orchestrator struct {
	mu         sync.Mutex
	state      State
	processing bool
	files      []*capture.Image
	outcomes   []ItemOutcome
	created    int

	source       *capture.FileSource
	scans        *scan.Service
	store        *staging.Store
	materializer *transaction.Materializer
	layer        *resilience.Layer
	notifier     notify.Notifier
	logger       *slog.Logger
}

// NewOrchestrator creates an Orchestrator in the upload state.
func NewOrchestrator(
	scans *scan.Service,
	store *staging.Store,
	materializer *transaction.Materializer,
	layer *resilience.Layer,
	notifier notify.Notifier,
) *Orchestrator {
	return &Orchestrator{
		state:        StateUpload,
		source:       capture.NewFileSource(capture.MaxBatchBytes),
		scans:        scans,
		store:        store,
		materializer: materializer,
		layer:        layer,
		notifier:     notifier,
		logger:       slog.Default(),
	}
}

// State returns the current workflow state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// AddFiles validates and accepts uploads in the upload state. An attempt that
// would exceed MaxFiles accepts nothing from that attempt. Per-file
// rejections (type, size) produce one aggregated warning, not one per file.
func (o *Orchestrator) AddFiles(uploads []FileUpload) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateUpload || o.processing {
		return 0, fmt.Errorf("%w: adding files requires the upload state, currently %s", ErrWrongState, o.state)
	}
	if len(o.files)+len(uploads) > MaxFiles {
		o.warn(fmt.Sprintf("too many files: a batch holds at most %d, rejected all %d from this selection", MaxFiles, len(uploads)))
		return 0, nil
	}

	var rejected []string
	accepted := 0
	for _, upload := range uploads {
		img, err := o.source.Accept(upload.Name, upload.MIME, upload.Data)
		if err != nil {
			rejected = append(rejected, fmt.Sprintf("%s (%v)", upload.Name, err))
			continue
		}
		o.files = append(o.files, img)
		accepted++
	}
	if len(rejected) > 0 {
		o.warn(fmt.Sprintf("%d file(s) rejected: %s", len(rejected), strings.Join(rejected, "; ")))
	}
	return accepted, nil
}

// Process submits every accepted file sequentially, in file-list order, each
// wrapped by the resilience layer. The job always transitions to review once
// all submissions resolve, even when every one of them failed.
func (o *Orchestrator) Process(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateUpload || o.processing {
		o.mu.Unlock()
		return fmt.Errorf("%w: processing requires the upload state, currently %s", ErrWrongState, o.state)
	}
	o.processing = true
	files := o.files
	o.mu.Unlock()

	// Outcomes are addressed by index, not completion order, so the ordering
	// invariant survives a bounded worker-pool upgrade.
	outcomes := make([]ItemOutcome, len(files))
	for i, img := range files {
		outcomes[i] = o.processOne(ctx, i, img)
	}

	o.mu.Lock()
	o.processing = false
	o.outcomes = outcomes
	o.state = StateReview
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) processOne(ctx context.Context, index int, img *capture.Image) ItemOutcome {
	outcome := ItemOutcome{Index: index, Name: img.Name}

	staged := o.store.Begin()
	outcome.ReceiptID = staged.ID

	result, err := o.scans.Submit(ctx, img)
	if err != nil {
		o.layer.Resolve(err, fmt.Sprintf("scanning %s", img.Name), scan.PayloadCapture, scan.EncodeQueuedCapture(img))
		if _, ferr := o.store.Fail(staged.ID, err); ferr != nil {
			o.logger.Error("marking staged receipt failed", "receipt", staged.ID, "error", ferr)
		}
		outcome.Err = err.Error()
		return outcome
	}

	if _, cerr := o.store.Complete(staged.ID, result); cerr != nil {
		o.logger.Error("completing staged receipt", "receipt", staged.ID, "error", cerr)
		outcome.Err = cerr.Error()
		return outcome
	}
	outcome.Result = result
	return outcome
}

// Tally reports the successful/total scan counts for the review state.
func (o *Orchestrator) Tally() Tally {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := Tally{Total: len(o.outcomes)}
	for _, outcome := range o.outcomes {
		if outcome.Err == "" && outcome.Result != nil {
			t.Successful++
		}
	}
	return t
}

// Outcomes returns the per-item results in input order.
func (o *Orchestrator) Outcomes() []ItemOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ItemOutcome, len(o.outcomes))
	copy(out, o.outcomes)
	return out
}

// CreateTransactions materializes every item with a valid scan outcome.
// Items whose scan failed are skipped, not retried, and count as failed. The
// job transitions to complete once materialization returns, partial failure
// included.
func (o *Orchestrator) CreateTransactions(ctx context.Context) (transaction.Outcome, error) {
	o.mu.Lock()
	if o.state != StateReview {
		defer o.mu.Unlock()
		return transaction.Outcome{}, fmt.Errorf("%w: creating transactions requires the review state, currently %s", ErrWrongState, o.state)
	}
	var valid []string
	skipped := 0
	for _, outcome := range o.outcomes {
		if outcome.Err == "" && outcome.Result != nil {
			valid = append(valid, outcome.ReceiptID)
		} else {
			skipped++
		}
	}
	o.mu.Unlock()

	result := o.materializer.MaterializeBatch(ctx, valid)
	result.Failed += skipped

	o.mu.Lock()
	o.created = result.Created
	o.state = StateComplete
	o.mu.Unlock()
	return result, nil
}

// Created returns the final created-transaction count of a completed job.
func (o *Orchestrator) Created() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.created
}

// Reset discards the job and returns to the upload state. It is the only way
// back; the workflow never regresses on its own, and a job that is still
// uploading or mid-scan cannot be reset out from under its caller.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateUpload || o.processing {
		return fmt.Errorf("%w: resetting requires the review or complete state, currently %s", ErrWrongState, o.state)
	}
	for _, outcome := range o.outcomes {
		if outcome.ReceiptID != "" {
			o.store.Clear(outcome.ReceiptID)
		}
	}
	o.files = nil
	o.outcomes = nil
	o.created = 0
	o.state = StateUpload
	return nil
}

func (o *Orchestrator) warn(message string) {
	if o.notifier != nil {
		o.notifier.Notify("batch_upload", message, notify.SeverityLow)
	}
	o.logger.Warn(message)
}
