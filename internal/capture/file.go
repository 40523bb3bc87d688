package capture

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MaxSingleBytes is the upload size cap in single-capture mode.
	MaxSingleBytes = 10 << 20

	// MaxBatchBytes is the per-file size cap in batch mode.
	MaxBatchBytes = 5 << 20
)

// allowedMIME is the set of image types accepted for scan submission.
// HEIC and PDF uploads are normalized to JPEG before this check.
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// FileSource validates user-supplied files and turns them into Images.
type FileSource struct {
	maxBytes int64
	now      func() time.Time
}

// NewFileSource creates a FileSource with the given per-file size cap.
func NewFileSource(maxBytes int64) *FileSource {
	return &FileSource{maxBytes: maxBytes, now: time.Now}
}

// Accept validates a file by size and type and returns it as an Image.
// HEIC photos and single-page PDF receipts are converted to JPEG first;
// anything outside the allowed set after normalization is rejected.
func (f *FileSource) Accept(name, mime string, data []byte) (*Image, error) {
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("file %q is too large: %d bytes (max %d)", name, len(data), f.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file %q is empty", name)
	}

	mime = strings.ToLower(strings.TrimSpace(mime))
	if needsNormalization(data, mime) {
		converted, err := normalizeToJPEG(data, mime)
		if err != nil {
			return nil, fmt.Errorf("converting %q: %w", name, err)
		}
		data = converted
		mime = "image/jpeg"
	}

	if !allowedMIME[mime] {
		return nil, fmt.Errorf("file %q has unsupported type %q", name, mime)
	}

	return &Image{
		Data:       data,
		MIME:       mime,
		Source:     SourceFile,
		Name:       name,
		CapturedAt: f.now(),
	}, nil
}
