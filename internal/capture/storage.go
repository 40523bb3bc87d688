package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Store persists original captured images so a staged receipt can be reviewed
// against its source photo.
type Store interface {
	// Save writes an image under a name derived from id and returns the path.
	Save(id string, img *Image) (string, error)

	// Get reads a previously saved image payload.
	Get(path string) ([]byte, error)

	// Delete removes a saved image.
	Delete(path string) error
}

// DiskStore implements Store on the local filesystem.
type DiskStore struct {
	basePath string
}

// NewDiskStore creates the storage directory if needed.
func NewDiskStore(basePath string) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &DiskStore{basePath: basePath}, nil
}

// Save writes the image payload to disk.
func (d *DiskStore) Save(id string, img *Image) (string, error) {
	name := fmt.Sprintf("%s_%s", id, sanitizeFilename(img.Name))
	if err := os.WriteFile(filepath.Join(d.basePath, name), img.Data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get reads a saved image payload.
func (d *DiskStore) Get(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.basePath, path))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a saved image.
func (d *DiskStore) Delete(path string) error {
	if err := os.Remove(filepath.Join(d.basePath, path)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

var (
	specialChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated filenames: strips special
// characters, collapses whitespace, and truncates the base name.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = specialChars.ReplaceAllString(base, "")
	base = multiSpace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}
