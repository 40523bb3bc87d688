package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"
)

// Facing selects which camera on a multi-camera device to open.
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"

	// FacingAny asks for whatever camera is available. Acquire falls back to
	// it once before giving up on a specific facing mode.
	FacingAny Facing = "any"
)

// DeviceState is the camera stream lifecycle state.
type DeviceState string

const (
	StateInactive   DeviceState = "inactive"
	StateRequesting DeviceState = "requesting"
	StateActive     DeviceState = "active"
	StateError      DeviceState = "error"
)

// stillQuality is the JPEG quality for captured frames.
const stillQuality = 90

// defaultSettleDelay is the pause between stopping one facing mode and
// requesting the other; some devices need it before re-opening.
const defaultSettleDelay = 300 * time.Millisecond

var (
	// ErrPermissionDenied is returned when no camera can be opened at all.
	ErrPermissionDenied = errors.New("camera permission denied")

	// ErrNotActive is returned by Still when no stream is active.
	ErrNotActive = errors.New("camera stream is not active")
)

// FrameStream is a live source of frames from an opened camera.
type FrameStream interface {
	// Frame returns the current frame.
	Frame() (image.Image, error)

	// Close stops the stream and releases the device.
	Close() error
}

// FrameGrabber opens a camera stream for a facing mode. Opening an
// unavailable facing mode returns an error.
type FrameGrabber interface {
	Open(ctx context.Context, facing Facing) (FrameStream, error)
}

// Device is the capture capability: acquire a stream, grab stills, switch
// facing, and release. Implementations own the underlying stream exclusively
// for the duration of a capture session.
type Device interface {
	Acquire(ctx context.Context, facing Facing) error
	Still() (*Image, error)
	SwitchFacing(ctx context.Context) error
	Release()
	State() DeviceState
}

// StreamDevice implements Device on top of a FrameGrabber.
type StreamDevice struct {
	mu      sync.Mutex
	grabber FrameGrabber
	stream  FrameStream
	state   DeviceState
	facing  Facing
	settle  time.Duration
	now     func() time.Time
}

// NewStreamDevice creates a StreamDevice in the inactive state, preferring
// the back camera.
func NewStreamDevice(grabber FrameGrabber) *StreamDevice {
	return &StreamDevice{
		grabber: grabber,
		state:   StateInactive,
		facing:  FacingBack,
		settle:  defaultSettleDelay,
		now:     time.Now,
	}
}

// Acquire opens a stream for the requested facing mode. If that mode fails,
// it falls back once to any available camera; only when that also fails does
// it surface ErrPermissionDenied.
func (d *StreamDevice) Acquire(ctx context.Context, facing Facing) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateActive {
		return nil
	}
	d.state = StateRequesting
	d.facing = facing

	stream, err := d.grabber.Open(ctx, facing)
	if err != nil && facing != FacingAny {
		stream, err = d.grabber.Open(ctx, FacingAny)
	}
	if err != nil {
		d.state = StateInactive
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	d.stream = stream
	d.state = StateActive
	return nil
}

// Still renders the current frame to JPEG. It is a no-op when the stream is
// not active.
func (d *StreamDevice) Still() (*Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateActive || d.stream == nil {
		return nil, ErrNotActive
	}
	frame, err := d.stream.Frame()
	if err != nil {
		d.state = StateError
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: stillQuality}); err != nil {
		return nil, fmt.Errorf("encoding still: %w", err)
	}
	return &Image{
		Data:       buf.Bytes(),
		MIME:       "image/jpeg",
		Source:     SourceCamera,
		Name:       fmt.Sprintf("capture-%d.jpg", d.now().UnixNano()),
		CapturedAt: d.now(),
	}, nil
}

// SwitchFacing flips between front and back. With an active stream it stops
// the current one, waits the settle delay, and re-requests the opposite mode.
// With an inactive stream it only updates the preferred mode for the next
// acquisition.
func (d *StreamDevice) SwitchFacing(ctx context.Context) error {
	d.mu.Lock()
	next := opposite(d.facing)
	if d.state != StateActive {
		d.facing = next
		d.mu.Unlock()
		return nil
	}
	d.closeStreamLocked()
	d.facing = next
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.settle):
	}
	return d.Acquire(ctx, next)
}

// Release stops the stream and returns the device to inactive. It is
// idempotent and cancels any in-flight capture (Still becomes a no-op).
func (d *StreamDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeStreamLocked()
}

// State returns the current lifecycle state.
func (d *StreamDevice) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Facing returns the currently preferred facing mode.
func (d *StreamDevice) Facing() Facing {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.facing
}

func (d *StreamDevice) closeStreamLocked() {
	if d.stream != nil {
		d.stream.Close()
		d.stream = nil
	}
	d.state = StateInactive
}

func opposite(f Facing) Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}
