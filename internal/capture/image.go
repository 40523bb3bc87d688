package capture

import "time"

// Source identifies where a captured image came from.
type Source string

const (
	SourceCamera Source = "camera"
	SourceFile   Source = "file"
)

// Image is one acquired photo, ready for scan submission. It is consumed and
// discarded once submitted.
type Image struct {
	Data       []byte    `json:"-"`
	MIME       string    `json:"mime"`
	Source     Source    `json:"source"`
	Name       string    `json:"name"`
	CapturedAt time.Time `json:"captured_at"`
}
