package vision

import (
	"errors"
	"image"
)

// ErrNoCamera is returned by NullSource until a camera backend is wired in.
var ErrNoCamera = errors.New("no camera attached")

// NullSource is the frame source used when no camera backend is
// configured. Every capture fails, so detection waits time out cleanly
// instead of blocking forever.
type NullSource struct{}

func (NullSource) Capture() (image.Image, error) { return nil, ErrNoCamera }

// NullDetector reports no detections. Stand-in until an inference
// backend (e.g. an external detection service) is attached.
type NullDetector struct{}

func (NullDetector) Detect(image.Image) ([]Detection, error) { return nil, nil }
