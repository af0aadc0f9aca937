// Package washstation controls the brush motor and water pump of the
// wash/rinse stations.
package washstation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PWM setpoint limits for brush motor and water pump.
const (
	MinPWM = 0
	MaxPWM = 255
)

// dwellTick bounds how long a running wash or rinse dwell can outlive a
// cancellation. Must stay under 100ms so an emergency stop is honored
// promptly.
const dwellTick = 50 * time.Millisecond

// Status is a snapshot of the station.
type Status struct {
	IsWashing       bool          `json:"is_washing"`
	IsRinsing       bool          `json:"is_rinsing"`
	BrushSpeed      int           `json:"brush_speed"`
	WaterFlow       int           `json:"water_flow"`
	TotalWashTime   time.Duration `json:"total_wash_time"`
	CyclesCompleted int           `json:"cycles_completed"`
}

// Station drives the wash-station actuators. The PWM writes are stubs
// until the motor-driver transport is wired in.
type Station struct {
	logger *zap.Logger

	mu              sync.Mutex
	brushSpeed      int
	waterFlow       int
	washing         bool
	rinsing         bool
	totalWashTime   time.Duration
	cyclesCompleted int
}

func NewStation(logger *zap.Logger, brushSpeed, waterFlow int) *Station {
	return &Station{
		logger:     logger,
		brushSpeed: clampPWM(brushSpeed),
		waterFlow:  clampPWM(waterFlow),
	}
}

func clampPWM(v int) int {
	if v < MinPWM {
		return MinPWM
	}
	if v > MaxPWM {
		return MaxPWM
	}
	return v
}

// SetBrushSpeed updates the brush motor setpoint (0-255).
func (s *Station) SetBrushSpeed(speed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brushSpeed = clampPWM(speed)
}

// SetWaterFlow updates the water pump setpoint (0-255).
func (s *Station) SetWaterFlow(flow int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waterFlow = clampPWM(flow)
}

// StartWashing turns on brush and water.
func (s *Station) StartWashing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.washing = true
	s.logger.Info("Washing started",
		zap.Int("brush_speed", s.brushSpeed),
		zap.Int("water_flow", s.waterFlow))
}

// StopWashing turns off brush and water.
func (s *Station) StopWashing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.washing = false
	s.logger.Info("Washing stopped")
}

// StartRinsing turns on water only.
func (s *Station) StartRinsing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rinsing = true
	s.logger.Info("Rinsing started", zap.Int("water_flow", s.waterFlow))
}

// StopRinsing turns off the water.
func (s *Station) StopRinsing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rinsing = false
	s.logger.Info("Rinsing stopped")
}

// ExecuteWashCycle runs the actuators for the full duration, then stops
// them. The dwell aborts within one tick of cancellation; the actuators
// are stopped either way.
func (s *Station) ExecuteWashCycle(ctx context.Context, duration time.Duration) error {
	s.StartWashing()
	err := dwell(ctx, duration)
	s.StopWashing()

	if err != nil {
		return err
	}

	s.mu.Lock()
	s.totalWashTime += duration
	s.cyclesCompleted++
	s.mu.Unlock()
	return nil
}

// ExecuteRinseCycle runs the water for the full duration, then stops it.
func (s *Station) ExecuteRinseCycle(ctx context.Context, duration time.Duration) error {
	s.StartRinsing()
	err := dwell(ctx, duration)
	s.StopRinsing()
	return err
}

// Stop halts both actuators immediately.
func (s *Station) Stop() {
	s.StopWashing()
	s.StopRinsing()
}

// Status returns a snapshot.
func (s *Station) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		IsWashing:       s.washing,
		IsRinsing:       s.rinsing,
		BrushSpeed:      s.brushSpeed,
		WaterFlow:       s.waterFlow,
		TotalWashTime:   s.totalWashTime,
		CyclesCompleted: s.cyclesCompleted,
	}
}

func dwell(ctx context.Context, duration time.Duration) error {
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(dwellTick)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
