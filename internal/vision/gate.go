package vision

import (
	"context"
	"errors"
	"image"
	"time"

	"go.uber.org/zap"
)

// ErrDetectionTimeout means no stable cup appeared within the frame budget.
var ErrDetectionTimeout = errors.New("no cup detected in pickup area (timeout)")

// Defaults taken from the tuned station setup. Single-frame detections are
// unreliable near the confidence threshold (compression artifacts, motion
// blur); requiring N consecutive positives at 10-20ms cadence trades
// ~100-200ms of latency for far fewer false-positive pickups.
const (
	DefaultRequiredFrames = 8
	DefaultCooldown       = 500 * time.Millisecond

	frameInterval        = 10 * time.Millisecond
	captureRetryInterval = 5 * time.Millisecond
)

// DetectionInfo describes the best match at the moment the gate fired.
type DetectionInfo struct {
	Confidence       float64 `json:"confidence"`
	Box              BBox    `json:"box"`
	ConsecutiveCount int     `json:"consecutive_count"`
}

// Gate converts the noisy per-frame detector signal into a debounced,
// cooldown-respecting trigger. Counters are private to whoever holds the
// Gate; Reset before every new wait so no stale state leaks in.
type Gate struct {
	logger   *zap.Logger
	detector Detector

	requiredFrames int
	cooldown       time.Duration

	consecutiveCount int
	lastFireTime     time.Time
}

func NewGate(logger *zap.Logger, detector Detector, requiredFrames int, cooldown time.Duration) *Gate {
	if requiredFrames <= 0 {
		requiredFrames = DefaultRequiredFrames
	}
	return &Gate{
		logger:         logger,
		detector:       detector,
		requiredFrames: requiredFrames,
		cooldown:       cooldown,
	}
}

// Reset zeroes the consecutive counter and restarts the cooldown window.
func (g *Gate) Reset() {
	g.consecutiveCount = 0
	g.lastFireTime = time.Now()
}

// Observe runs the detector on one frame and updates the stability counter:
// any cup at or above the confidence threshold increments it, a miss resets
// it to zero.
func (g *Gate) Observe(frame image.Image, confThreshold float64) (present bool, consecutive int) {
	detections, err := g.detector.Detect(frame)
	if err != nil {
		g.logger.Warn("Detector failed on frame", zap.Error(err))
		detections = nil
	}
	return g.ObserveDetections(detections, confThreshold)
}

// ObserveDetections updates the stability counter from detections that were
// already computed for this frame, so callers that need the raw detections
// anyway do not run inference twice.
func (g *Gate) ObserveDetections(detections []Detection, confThreshold float64) (present bool, consecutive int) {
	best := pickBestCup(detections, confThreshold)

	if best != nil {
		g.consecutiveCount++
	} else {
		g.consecutiveCount = 0
	}

	return best != nil, g.consecutiveCount
}

// IsStable reports whether enough consecutive positive frames accumulated.
func (g *Gate) IsStable() bool {
	return g.consecutiveCount >= g.requiredFrames
}

// ConsecutiveCount returns the current stability counter.
func (g *Gate) ConsecutiveCount() int {
	return g.consecutiveCount
}

// WaitForStableCup polls frames until a stable detection fires or the frame
// budget runs out. This is the single synchronization point before any
// pickup: no cycle may start arm motion without a prior success here.
// A frame that fails to acquire still consumes one attempt. Once stable,
// the cooldown must also have elapsed since the last fire, so the same
// physical cup does not re-trigger immediately after a pick.
func (g *Gate) WaitForStableCup(ctx context.Context, source FrameSource, confThreshold float64, maxFrames int) (*DetectionInfo, error) {
	g.logger.Info("Waiting for stable cup detection",
		zap.Float64("confidence_threshold", confThreshold),
		zap.Int("required_frames", g.requiredFrames),
		zap.Int("max_frames", maxFrames))

	for attempt := 0; attempt < maxFrames; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := source.Capture()
		if err != nil || frame == nil {
			sleepCtx(ctx, captureRetryInterval)
			continue
		}

		g.Observe(frame, confThreshold)

		if g.IsStable() && time.Since(g.lastFireTime) > g.cooldown {
			best := g.bestCup(frame, confThreshold)
			if best != nil {
				info := &DetectionInfo{
					Confidence:       best.Confidence,
					Box:              best.Box,
					ConsecutiveCount: g.consecutiveCount,
				}
				g.lastFireTime = time.Now()

				g.logger.Info("Cup detected stably",
					zap.Float64("confidence", info.Confidence),
					zap.Int("consecutive_frames", info.ConsecutiveCount))
				return info, nil
			}
		}

		sleepCtx(ctx, frameInterval)
	}

	g.logger.Warn("Detection timed out", zap.Int("max_frames", maxFrames))
	return nil, ErrDetectionTimeout
}

// bestCup returns the highest-confidence cup at or above the threshold,
// or nil when none qualifies.
func (g *Gate) bestCup(frame image.Image, confThreshold float64) *Detection {
	detections, err := g.detector.Detect(frame)
	if err != nil {
		g.logger.Warn("Detector failed on frame", zap.Error(err))
		return nil
	}
	return pickBestCup(detections, confThreshold)
}

func pickBestCup(detections []Detection, confThreshold float64) *Detection {
	var best *Detection
	for i := range detections {
		d := detections[i]
		if d.Class != ClassCup || d.Confidence < confThreshold {
			continue
		}
		if best == nil || d.Confidence > best.Confidence {
			best = &d
		}
	}
	return best
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
