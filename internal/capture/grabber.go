package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
)

// CommandGrabber opens camera streams by shelling out to an external capture
// tool (e.g. ffmpeg or fswebcam) that writes one encoded frame to stdout.
// Devices maps facing modes to the device argument passed to the tool;
// FacingAny picks any configured device.
type CommandGrabber struct {
	Command string
	Args    []string
	Devices map[Facing]string
}

// Open resolves the device for the facing mode and returns a stream that runs
// the capture command once per frame.
func (g *CommandGrabber) Open(ctx context.Context, facing Facing) (FrameStream, error) {
	device, ok := g.Devices[facing]
	if !ok && facing == FacingAny {
		for _, d := range g.Devices {
			device, ok = d, true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("no camera device for facing mode %q", facing)
	}
	return &commandStream{ctx: ctx, grabber: g, device: device}, nil
}

type commandStream struct {
	ctx     context.Context
	grabber *CommandGrabber
	device  string
	closed  bool
}

func (s *commandStream) Frame() (image.Image, error) {
	if s.closed {
		return nil, fmt.Errorf("stream is closed")
	}
	args := append(append([]string{}, s.grabber.Args...), s.device)
	out, err := exec.CommandContext(s.ctx, s.grabber.Command, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("running capture command: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return img, nil
}

func (s *commandStream) Close() error {
	s.closed = true
	return nil
}

// FixtureGrabber serves a fixed frame per facing mode; facing modes without a
// frame fail to open. It backs tests and headless deployments without camera
// hardware.
type FixtureGrabber struct {
	Frames map[Facing]image.Image
}

// Open returns a stream for the facing mode, or an error when no fixture
// frame is configured for it.
func (g *FixtureGrabber) Open(ctx context.Context, facing Facing) (FrameStream, error) {
	frame, ok := g.Frames[facing]
	if !ok && facing == FacingAny {
		for _, f := range g.Frames {
			frame, ok = f, true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("no camera available for facing mode %q", facing)
	}
	return &fixtureStream{frame: frame}, nil
}

type fixtureStream struct {
	frame  image.Image
	closed bool
}

func (s *fixtureStream) Frame() (image.Image, error) {
	if s.closed {
		return nil, fmt.Errorf("stream is closed")
	}
	return s.frame, nil
}

func (s *fixtureStream) Close() error {
	s.closed = true
	return nil
}
