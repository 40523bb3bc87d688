package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/snapledger/snapledger/internal/capture"
	"github.com/snapledger/snapledger/internal/resilience"
)

// DefaultAttemptTimeout bounds one OCR submission attempt; a timed-out
// attempt is classified and retried as a network failure.
const DefaultAttemptTimeout = 30 * time.Second

// HTTPScanner submits images to a remote OCR service over HTTP.
type HTTPScanner struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewHTTPScanner creates an HTTPScanner for the given scan endpoint.
func NewHTTPScanner(endpoint string, timeout time.Duration) *HTTPScanner {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &HTTPScanner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
	}
}

// ScanReceipt POSTs the image as multipart form data and decodes the
// extracted fields. Non-2xx responses surface as status-coded errors so the
// resilience layer can classify them.
func (h *HTTPScanner) ScanReceipt(ctx context.Context, img *capture.Image) (*Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", img.Name)
	if err != nil {
		return nil, fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("writing image payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("building scan request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submitting scan: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &resilience.StatusError{Status: resp.StatusCode, Message: string(msg)}
	}

	var extraction Extraction
	if err := json.NewDecoder(resp.Body).Decode(&extraction); err != nil {
		return nil, fmt.Errorf("decoding scan response: %w", err)
	}
	return &extraction, nil
}

// Close is a no-op; the HTTP client holds no resources.
func (h *HTTPScanner) Close() error { return nil }
