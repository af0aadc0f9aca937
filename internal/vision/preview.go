package vision

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// PreviewSnapshot is the most recent live-view detection result.
type PreviewSnapshot struct {
	Detections       []Detection `json:"detections"`
	Present          bool        `json:"present"`
	ConsecutiveCount int         `json:"consecutive_count"`
	CapturedAt       time.Time   `json:"captured_at"`
}

// PreviewSink receives preview snapshots, e.g. a websocket hub.
type PreviewSink interface {
	PublishPreview(PreviewSnapshot)
}

// Preview continuously pulls camera frames for live-view purposes. It owns
// its own Gate so its counters never mix with the cycle gate, and it does
// not participate in cycle gating at all.
type Preview struct {
	source    FrameSource
	gate      *Gate
	sink      PreviewSink
	threshold float64
	interval  time.Duration
	logger    *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	lastMu sync.RWMutex
	last   PreviewSnapshot
}

func NewPreview(logger *zap.Logger, source FrameSource, detector Detector, sink PreviewSink, threshold float64, interval time.Duration) *Preview {
	return &Preview{
		source:    source,
		gate:      NewGate(logger, detector, DefaultRequiredFrames, DefaultCooldown),
		sink:      sink,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the preview loop.
func (p *Preview) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)
	go p.loop()

	p.logger.Info("Vision preview started", zap.Duration("interval", p.interval))
}

// Stop halts the preview loop and waits for it to exit.
func (p *Preview) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Vision preview stopped")
}

// Last returns the most recent snapshot.
func (p *Preview) Last() PreviewSnapshot {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()
	return p.last
}

func (p *Preview) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.pollFrame()
		}
	}
}

func (p *Preview) pollFrame() {
	frame, err := p.source.Capture()
	if err != nil || frame == nil {
		return
	}

	detections, err := p.gate.detector.Detect(frame)
	if err != nil {
		p.logger.Debug("Preview detection failed", zap.Error(err))
		return
	}

	present, count := p.gate.ObserveDetections(detections, p.threshold)

	snapshot := PreviewSnapshot{
		Detections:       detections,
		Present:          present,
		ConsecutiveCount: count,
		CapturedAt:       time.Now(),
	}

	p.lastMu.Lock()
	p.last = snapshot
	p.lastMu.Unlock()

	if p.sink != nil {
		p.sink.PublishPreview(snapshot)
	}
}
