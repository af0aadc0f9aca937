package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Start spawns the run loop. For ModeFixedCount, target is the number
// of washed cups to reach. A non-empty programName runs the stored
// program instead of the fixed sequence. Returns ErrAlreadyRunning if a
// loop is active.
func (o *Orchestrator) Start(mode WashingMode, target int, programName string) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	if o.estopped {
		o.mu.Unlock()
		return ErrSafetyAbort
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.running = true
	o.stopping = false
	o.mode = mode
	o.targetCups = target
	o.washedCups = 0
	o.failedCups = 0
	o.cycleTimes = nil
	o.startedAt = time.Now()
	o.cancel = cancel
	o.mu.Unlock()

	o.logger.Info("Washing started",
		zap.String("mode", string(mode)),
		zap.Int("target", target),
		zap.String("program", programName))

	o.wg.Add(1)
	go o.run(ctx, mode, target, programName)
	return nil
}

// Running reports whether the run loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) run(ctx context.Context, mode WashingMode, target int, programName string) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		o.running = false
		if o.cancel != nil {
			o.cancel()
			o.cancel = nil
		}
		o.mu.Unlock()
		o.broadcast("status", o.Status())
	}()

	attempted := 0
	for {
		// Termination is decided before each cycle, never mid-cycle.
		if o.done(mode, target, attempted) || ctx.Err() != nil {
			if o.State() != StateEmergencyStop && o.State() != StateError {
				o.setState(StateIdle)
			}
			o.logger.Info("Washing finished",
				zap.Int("washed", o.Status().WashedCups),
				zap.Int("failed", o.Status().FailedCups))
			return
		}

		var err error
		if programName != "" {
			err = o.ProgramCycle(ctx, programName)
		} else {
			err = o.SingleCycle(ctx)
		}
		attempted++

		if errors.Is(err, ErrSafetyAbort) || errors.Is(err, context.Canceled) {
			return
		}
		// Failed cycles do not end the run; the next iteration tries
		// the next cup.

		o.broadcast("status", o.Status())

		select {
		case <-ctx.Done():
			return
		case <-time.After(interCycleDelay):
		}
	}
}

func (o *Orchestrator) done(mode WashingMode, target, attempted int) bool {
	switch mode {
	case ModeSingleCycle:
		return attempted >= 1
	case ModeFixedCount:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.washedCups >= target
	default:
		return false
	}
}
