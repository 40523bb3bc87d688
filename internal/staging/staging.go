package staging

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snapledger/snapledger/internal/scan"
)

// Status is the staged receipt lifecycle state.
type Status string

const (
	// StatusPending: the image is submitted, no result yet.
	StatusPending Status = "pending"

	// StatusScanned: a scan result is available for review.
	StatusScanned Status = "scanned"

	// StatusFailed: submission failed; the receipt needs manual entry or a
	// fresh capture.
	StatusFailed Status = "failed"

	// StatusProcessing: claimed by an in-flight materialization. A claimed
	// receipt cannot be claimed again until released.
	StatusProcessing Status = "processing"

	// StatusProcessed: materialized into a transaction. Terminal.
	StatusProcessed Status = "processed"
)

var (
	ErrNotStaged        = errors.New("receipt is not staged")
	ErrAlreadyProcessed = errors.New("receipt has already been processed")
)

// Edits are user overrides applied over the scan result. Nil fields leave the
// scanned value in place.
type Edits struct {
	Merchant    *string    `json:"merchant,omitempty"`
	Amount      *float64   `json:"amount,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
	Description *string    `json:"description,omitempty"`
	Type        *scan.Type `json:"type,omitempty"`
}

// Fields is the resolved view of a staged receipt: scanned values with user
// edits applied.
type Fields struct {
	Merchant    string    `json:"merchant"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Type        scan.Type `json:"type"`
}

// StagedReceipt is the editable working copy of one scan: scanned but not yet
// materialized. Edits overlay the result; the result itself is never mutated.
type StagedReceipt struct {
	ID       string       `json:"id"`
	Result   *scan.Result `json:"result,omitempty"`
	Edits    Edits        `json:"edits"`
	Status   Status       `json:"status"`
	StagedAt time.Time    `json:"staged_at"`
	FailErr  string       `json:"error,omitempty"`

	// ImagePath locates the saved original image, when one was kept.
	ImagePath string `json:"image_path,omitempty"`

	// prior remembers the status a claim replaced, for Release.
	prior Status
}

// Effective resolves the receipt's fields, preferring user edits over the
// scan result.
func (r *StagedReceipt) Effective() Fields {
	var f Fields
	if r.Result != nil {
		f = Fields{
			Merchant:    r.Result.Merchant,
			Amount:      r.Result.Amount,
			Date:        r.Result.Date,
			Description: r.Result.Description,
			Type:        r.Result.Type,
		}
	}
	if r.Edits.Merchant != nil {
		f.Merchant = *r.Edits.Merchant
	}
	if r.Edits.Amount != nil {
		f.Amount = *r.Edits.Amount
	}
	if r.Edits.Date != nil {
		f.Date = *r.Edits.Date
	}
	if r.Edits.Description != nil {
		f.Description = *r.Edits.Description
	}
	if r.Edits.Type != nil {
		f.Type = *r.Edits.Type
	}
	return f
}

// IDGenerator generates unique staged receipt IDs.
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time { return time.Now() }

// Store holds staged receipts in insertion order. All mutation goes through
// the store; callers never modify a receipt directly.
type Store struct {
	mu         sync.Mutex
	receipts   map[string]*StagedReceipt
	order      []string
	idGen      IDGenerator
	timeSource TimeSource
}

// NewStore creates a Store with UUID IDs and the real clock.
func NewStore() *Store {
	return NewStoreWithDeps(uuidGenerator{}, defaultTimeSource{})
}

// NewStoreWithDeps creates a Store with injected dependencies for tests.
func NewStoreWithDeps(idGen IDGenerator, timeSource TimeSource) *Store {
	return &Store{
		receipts:   make(map[string]*StagedReceipt),
		idGen:      idGen,
		timeSource: timeSource,
	}
}

// Begin stages a pending receipt for an in-flight submission.
func (s *Store) Begin() *StagedReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &StagedReceipt{
		ID:       s.idGen.Generate(),
		Status:   StatusPending,
		StagedAt: s.timeSource.Now(),
	}
	s.receipts[r.ID] = r
	s.order = append(s.order, r.ID)
	return r.clone()
}

// Complete attaches a scan result to a pending receipt, moving it to scanned.
func (s *Store) Complete(id string, result *scan.Result) (*StagedReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, ErrNotStaged
	}
	r.Result = result
	r.Status = StatusScanned
	r.FailErr = ""
	return r.clone(), nil
}

// Fail marks a pending receipt as failed, recording the cause.
func (s *Store) Fail(id string, cause error) (*StagedReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, ErrNotStaged
	}
	r.Status = StatusFailed
	if cause != nil {
		r.FailErr = cause.Error()
	}
	return r.clone(), nil
}

// AttachImage records where the original captured image was saved.
func (s *Store) AttachImage(id, path string) (*StagedReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, ErrNotStaged
	}
	r.ImagePath = path
	return r.clone(), nil
}

// Stage creates a receipt directly in the scanned state.
func (s *Store) Stage(result *scan.Result) *StagedReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &StagedReceipt{
		ID:       s.idGen.Generate(),
		Result:   result,
		Status:   StatusScanned,
		StagedAt: s.timeSource.Now(),
	}
	s.receipts[r.ID] = r
	s.order = append(s.order, r.ID)
	return r.clone()
}

// ApplyEdit shallow-merges edits into the receipt's override set. Fields
// omitted from edits keep their current override (or scanned value). The
// underlying scan result is never touched.
func (s *Store) ApplyEdit(id string, edits Edits) (*StagedReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, ErrNotStaged
	}
	if r.Status == StatusProcessed {
		return nil, ErrAlreadyProcessed
	}
	// Copy the incoming pointers so later caller-side mutation cannot reach
	// the stored override set.
	edits = edits.clone()
	if edits.Merchant != nil {
		r.Edits.Merchant = edits.Merchant
	}
	if edits.Amount != nil {
		r.Edits.Amount = edits.Amount
	}
	if edits.Date != nil {
		r.Edits.Date = edits.Date
	}
	if edits.Description != nil {
		r.Edits.Description = edits.Description
	}
	if edits.Type != nil {
		r.Edits.Type = edits.Type
	}
	return r.clone(), nil
}

// Claim atomically takes a receipt for materialization, moving it to
// processing. A receipt that is already processing or processed cannot be
// claimed, so concurrent materializations of the same receipt submit at most
// once.
func (s *Store) Claim(id string) (*StagedReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, ErrNotStaged
	}
	if r.Status == StatusProcessed || r.Status == StatusProcessing {
		return nil, ErrAlreadyProcessed
	}
	r.prior = r.Status
	r.Status = StatusProcessing
	return r.clone(), nil
}

// Release rolls a claimed receipt back to the status it held before the
// claim. Releasing an unclaimed receipt is a no-op.
func (s *Store) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok || r.Status != StatusProcessing {
		return
	}
	r.Status = r.prior
	r.prior = ""
}

// MarkProcessed moves a receipt to its terminal state. Processing an already
// processed receipt is rejected.
func (s *Store) MarkProcessed(id string) (*StagedReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, ErrNotStaged
	}
	if r.Status == StatusProcessed {
		return nil, ErrAlreadyProcessed
	}
	r.Status = StatusProcessed
	return r.clone(), nil
}

// Get returns a copy of one staged receipt.
func (s *Store) Get(id string) (*StagedReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, ErrNotStaged
	}
	return r.clone(), nil
}

// List returns copies of all staged receipts in insertion order.
func (s *Store) List() []*StagedReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StagedReceipt, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.receipts[id].clone())
	}
	return out
}

// Clear discards one staged receipt.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[id]; !ok {
		return
	}
	delete(s.receipts, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Reset discards every staged receipt.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = make(map[string]*StagedReceipt)
	s.order = nil
}

// clone deep-copies the receipt so callers can never reach the store's scan
// result or override set through a returned copy.
func (r *StagedReceipt) clone() *StagedReceipt {
	c := *r
	if r.Result != nil {
		result := *r.Result
		c.Result = &result
	}
	c.Edits = r.Edits.clone()
	return &c
}

func (e Edits) clone() Edits {
	var c Edits
	if e.Merchant != nil {
		v := *e.Merchant
		c.Merchant = &v
	}
	if e.Amount != nil {
		v := *e.Amount
		c.Amount = &v
	}
	if e.Date != nil {
		v := *e.Date
		c.Date = &v
	}
	if e.Description != nil {
		v := *e.Description
		c.Description = &v
	}
	if e.Type != nil {
		v := *e.Type
		c.Type = &v
	}
	return c
}
