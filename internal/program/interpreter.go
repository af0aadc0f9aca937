package program

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Arm is the slice of the robot link the interpreter drives.
type Arm interface {
	MovePointToPoint(x, y, z float64, feedrate int) error
	MoveLinear(x, y, z float64, feedrate int) error
	SetGripperAngle(angle int) error
	PumpOn() error
	PumpOff() error
}

// StepError identifies the failing step by its 1-based index.
type StepError struct {
	Index int
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d failed: %v", e.Index, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// Interpreter executes programs against an arm, step by step, fail-fast.
// Steps are never reordered or parallelized: motion is sequential and
// stateful through the arm's current position.
type Interpreter struct {
	logger *zap.Logger
}

func NewInterpreter(logger *zap.Logger) *Interpreter {
	return &Interpreter{logger: logger}
}

// Run executes every step in order. The first failure stops execution and
// is returned as a StepError; there is no rollback and no retry.
func (i *Interpreter) Run(ctx context.Context, p *Program, arm Arm) error {
	i.logger.Info("Running program",
		zap.String("program", p.Name),
		zap.Int("steps", len(p.Steps)))

	for idx, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Index: idx + 1, Cause: err}
		}

		if err := i.executeStep(ctx, step, arm); err != nil {
			i.logger.Error("Program step failed",
				zap.String("program", p.Name),
				zap.Int("step", idx+1),
				zap.String("cmd", string(step.Cmd)),
				zap.Error(err))
			return &StepError{Index: idx + 1, Cause: err}
		}

		// Trailing pause, if any; WAIT already encodes its own delay.
		if step.Cmd != CmdWait && step.Pause > 0 {
			if err := sleepCtx(ctx, secondsToDuration(step.Pause)); err != nil {
				return &StepError{Index: idx + 1, Cause: err}
			}
		}
	}

	i.logger.Info("Program complete", zap.String("program", p.Name))
	return nil
}

func (i *Interpreter) executeStep(ctx context.Context, step Step, arm Arm) error {
	switch step.Cmd {
	case CmdRapid:
		return arm.MovePointToPoint(step.X, step.Y, step.Z, step.Feedrate)
	case CmdLinear:
		return arm.MoveLinear(step.X, step.Y, step.Z, step.Feedrate)
	case CmdGripper:
		return arm.SetGripperAngle(step.Angle)
	case CmdPumpOn:
		return arm.PumpOn()
	case CmdPumpOff:
		return arm.PumpOff()
	case CmdWait:
		return sleepCtx(ctx, secondsToDuration(step.Pause))
	default:
		return fmt.Errorf("unsupported command: %s", step.Cmd)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// sleepCtx sleeps for d but aborts immediately on cancellation, so an
// emergency stop is never held up behind a dwell.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
