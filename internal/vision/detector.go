package vision

import "image"

// ClassCup is the detector class this system gates on.
const ClassCup = "cup"

// BBox is a detection bounding box in pixel coordinates.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Center returns the box midpoint.
func (b BBox) Center() (x, y int) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Area returns the box area in pixels.
func (b BBox) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Detection is one detector hit for one frame. Samples are consumed
// transiently and never persisted.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"box"`
}

// Detector is the opaque object-detection model boundary: one frame in,
// a list of (class, confidence, box) out.
type Detector interface {
	Detect(frame image.Image) ([]Detection, error)
}

// FrameSource supplies camera frames. Acquisition plumbing lives outside
// the core; a failed Capture is an expected, retryable condition.
type FrameSource interface {
	Capture() (image.Image, error)
}
