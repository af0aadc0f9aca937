// Package orchestrator drives the cup washing cycle: vision gate, pick,
// wash, rinse, stack. It owns the system state machine and the cycle
// counters.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/calibration"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/program"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/storage"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/vision"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/washstation"
)

// ErrSafetyAbort marks a cycle killed by an operator emergency stop.
var ErrSafetyAbort = errors.New("emergency stop")

// ErrAlreadyRunning is returned by Start while a run loop is active.
var ErrAlreadyRunning = errors.New("washing already running")

// Feedrates of the fixed pick sequence.
const (
	feedPick  = 200
	feedLower = 100
	feedLift  = 150
)

const (
	interCycleDelay = 500 * time.Millisecond
	maxRecentErrors = 5
)

// Arm is the slice of the robot link the orchestrator drives.
type Arm interface {
	program.Arm
	Home() error
	ResetErrors() error
	CheckEStop() (string, error)
	EmergencyStop() error
}

// Store persists cycle outcomes and serves stored programs.
type Store interface {
	AppendCycleRecord(rec storage.CycleRecord) (storage.CycleRecord, error)
	AppendError(source, message string) error
	LoadProgram(name string) (program.Program, error)
}

// Broadcaster pushes events to connected clients. May be nil.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// Config carries the tunable cycle parameters.
type Config struct {
	ConfidenceThreshold        float64
	ProgramConfidenceThreshold float64
	MaxWaitFrames              int
	WashDuration               time.Duration
	RinseDuration              time.Duration
	TravelFeedrate             int
}

// Orchestrator sequences washing cycles. All RobotLink traffic flows
// through the single run loop goroutine or through a direct SingleCycle/
// ProgramCycle call; callers must not overlap them.
type Orchestrator struct {
	logger      *zap.Logger
	arm         Arm
	gate        *vision.Gate
	frames      vision.FrameSource
	positions   *calibration.Set
	station     *washstation.Station
	interpreter *program.Interpreter
	store       Store
	broadcaster Broadcaster
	cfg         Config

	mu           sync.Mutex
	state        SystemState
	mode         WashingMode
	running      bool
	stopping     bool
	estopped     bool
	washedCups   int
	failedCups   int
	targetCups   int
	cycleTimes   []time.Duration
	recentErrors []string
	startedAt    time.Time
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func New(
	logger *zap.Logger,
	arm Arm,
	gate *vision.Gate,
	frames vision.FrameSource,
	positions *calibration.Set,
	station *washstation.Station,
	store Store,
	broadcaster Broadcaster,
	cfg Config,
) *Orchestrator {
	if cfg.TravelFeedrate <= 0 {
		cfg.TravelFeedrate = 300
	}
	return &Orchestrator{
		logger:      logger,
		arm:         arm,
		gate:        gate,
		frames:      frames,
		positions:   positions,
		station:     station,
		interpreter: program.NewInterpreter(logger),
		store:       store,
		broadcaster: broadcaster,
		cfg:         cfg,
		state:       StateIdle,
		mode:        ModeSingleCycle,
	}
}

// Initialize brings the connected robot into a known state: clear error
// flags, probe the estop line, home all axes.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.arm.ResetErrors(); err != nil {
		return fmt.Errorf("reset errors: %w", err)
	}
	if reply, err := o.arm.CheckEStop(); err != nil {
		o.logger.Warn("EStop check failed", zap.Error(err))
	} else {
		o.logger.Info("EStop check", zap.String("reply", reply))
	}
	if err := o.arm.Home(); err != nil {
		return fmt.Errorf("homing failed: %w", err)
	}
	o.setState(StateIdle)
	return nil
}

// SingleCycle runs one fixed wash pass: detect, pick, wash, rinse,
// stack. Every failure is converted into a cycle record; no error from
// an individual step escapes uncounted.
func (o *Orchestrator) SingleCycle(ctx context.Context) error {
	start := time.Now()

	if err := o.positions.Require(calibration.RequiredForCycle...); err != nil {
		return o.failCycle(start, "", err)
	}

	o.setState(StateDetecting)
	o.gate.Reset()
	info, err := o.gate.WaitForStableCup(ctx, o.frames, o.cfg.ConfidenceThreshold, o.cfg.MaxWaitFrames)
	if err != nil {
		return o.failCycle(start, "", err)
	}
	o.logger.Info("Cup detected",
		zap.Float64("confidence", info.Confidence),
		zap.Int("consecutive", info.ConsecutiveCount))

	if err := o.runFixedSequence(ctx); err != nil {
		return o.failCycle(start, "", err)
	}

	return o.completeCycle(start, "")
}

// ProgramCycle gates on the vision stage and then hands the cycle body
// to the interpreter running the named stored program.
func (o *Orchestrator) ProgramCycle(ctx context.Context, name string) error {
	start := time.Now()

	p, err := o.store.LoadProgram(name)
	if err != nil {
		return o.failCycle(start, name, err)
	}

	o.setState(StateDetecting)
	o.gate.Reset()
	if _, err := o.gate.WaitForStableCup(ctx, o.frames, o.cfg.ProgramConfidenceThreshold, o.cfg.MaxWaitFrames); err != nil {
		return o.failCycle(start, name, err)
	}

	// Program steps are opaque to the state machine; the whole body
	// runs under a single coarse state.
	o.setState(StatePickingUp)
	if err := o.interpreter.Run(ctx, &p, o.arm); err != nil {
		return o.failCycle(start, name, err)
	}

	return o.completeCycle(start, name)
}

func (o *Orchestrator) runFixedSequence(ctx context.Context) error {
	pickup, _ := o.positions.Get(calibration.PosPickup)
	wash, _ := o.positions.Get(calibration.PosWashStation)
	rinse, _ := o.positions.Get(calibration.PosRinseStation)
	stack, _ := o.positions.Get(calibration.PosStack)

	// Pick the cup.
	o.setState(StateMovingToPickup)
	if err := o.arm.MovePointToPoint(pickup.X, pickup.Y, pickup.Z, feedPick); err != nil {
		return err
	}
	o.setState(StatePickingUp)
	if lower, ok := o.positions.Get(calibration.PosPickupLower); ok {
		if err := o.arm.MoveLinear(lower.X, lower.Y, lower.Z, feedLower); err != nil {
			return err
		}
	}
	if err := o.arm.PumpOn(); err != nil {
		return err
	}
	if err := o.arm.MoveLinear(pickup.X, pickup.Y, pickup.Z, feedLift); err != nil {
		return err
	}

	// Place it at the wash station.
	o.setState(StateMovingToWash)
	if err := o.arm.MovePointToPoint(wash.X, wash.Y, wash.Z, o.cfg.TravelFeedrate); err != nil {
		return err
	}
	if err := o.arm.PumpOff(); err != nil {
		return err
	}

	o.setState(StateWashing)
	if err := o.station.ExecuteWashCycle(ctx, o.cfg.WashDuration); err != nil {
		return err
	}

	// Re-pick and carry it over to the rinse station.
	if err := o.arm.PumpOn(); err != nil {
		return err
	}
	if safe, ok := o.positions.Get(calibration.PosSafe); ok {
		if err := o.arm.MovePointToPoint(safe.X, safe.Y, safe.Z, o.cfg.TravelFeedrate); err != nil {
			return err
		}
	}
	o.setState(StateMovingToRinse)
	if err := o.arm.MovePointToPoint(rinse.X, rinse.Y, rinse.Z, o.cfg.TravelFeedrate); err != nil {
		return err
	}

	o.setState(StateRinsing)
	if err := o.station.ExecuteRinseCycle(ctx, o.cfg.RinseDuration); err != nil {
		return err
	}

	// Stack the clean cup.
	o.setState(StateMovingToStack)
	if safe, ok := o.positions.Get(calibration.PosSafe); ok {
		if err := o.arm.MovePointToPoint(safe.X, safe.Y, safe.Z, o.cfg.TravelFeedrate); err != nil {
			return err
		}
	}
	if err := o.arm.MovePointToPoint(stack.X, stack.Y, stack.Z, o.cfg.TravelFeedrate); err != nil {
		return err
	}
	o.setState(StateStacking)
	return o.arm.PumpOff()
}

func (o *Orchestrator) completeCycle(start time.Time, programName string) error {
	elapsed := time.Since(start)

	o.mu.Lock()
	o.washedCups++
	o.cycleTimes = append(o.cycleTimes, elapsed)
	cup := o.washedCups
	o.mu.Unlock()

	o.setState(StateIdle)
	o.logger.Info("Cycle complete",
		zap.Int("cup", cup),
		zap.Duration("cycle_time", elapsed),
		zap.String("program", programName))

	rec, err := o.store.AppendCycleRecord(storage.CycleRecord{
		CupNumber: cup,
		CycleTime: elapsed.Seconds(),
		Success:   true,
		Program:   programName,
	})
	if err != nil {
		o.logger.Error("Failed to persist cycle record", zap.Error(err))
	}
	o.broadcast("cycle_complete", rec)
	return nil
}

// failCycle converts any step failure into a recorded failed cycle. An
// operator stop is the exception: the cycle is abandoned without being
// counted against the station.
func (o *Orchestrator) failCycle(start time.Time, programName string, cause error) error {
	o.station.Stop()

	o.mu.Lock()
	stopping := o.stopping
	estopped := o.estopped
	o.mu.Unlock()

	if estopped {
		cause = fmt.Errorf("%w: %v", ErrSafetyAbort, cause)
	} else if stopping && errors.Is(cause, context.Canceled) {
		o.setState(StateIdle)
		return cause
	}

	elapsed := time.Since(start)

	o.mu.Lock()
	o.failedCups++
	cup := o.washedCups + o.failedCups
	o.recentErrors = append(o.recentErrors, cause.Error())
	if len(o.recentErrors) > maxRecentErrors {
		o.recentErrors = o.recentErrors[len(o.recentErrors)-maxRecentErrors:]
	}
	o.mu.Unlock()

	if estopped {
		o.setState(StateEmergencyStop)
	} else {
		o.setState(StateError)
	}
	o.logger.Error("Cycle failed",
		zap.Error(cause),
		zap.Duration("after", elapsed),
		zap.String("program", programName))

	rec, err := o.store.AppendCycleRecord(storage.CycleRecord{
		CupNumber: cup,
		CycleTime: elapsed.Seconds(),
		Success:   false,
		Error:     cause.Error(),
		Program:   programName,
	})
	if err != nil {
		o.logger.Error("Failed to persist cycle record", zap.Error(err))
	}
	if err := o.store.AppendError("cycle", cause.Error()); err != nil {
		o.logger.Error("Failed to persist error record", zap.Error(err))
	}
	o.broadcast("cycle_failed", rec)
	return cause
}

// EmergencyStop halts everything immediately: fire-and-forget stop frame
// to the robot, actuators off, any running loop cancelled.
func (o *Orchestrator) EmergencyStop() {
	o.mu.Lock()
	o.estopped = true
	cancel := o.cancel
	o.mu.Unlock()

	if err := o.arm.EmergencyStop(); err != nil {
		o.logger.Error("EStop frame failed", zap.Error(err))
	}
	o.station.Stop()
	if cancel != nil {
		cancel()
	}
	o.setState(StateEmergencyStop)
	o.logger.Warn("EMERGENCY STOP")
}

// Stop ends the run loop after cancelling the in-flight cycle. The
// interrupted cycle is not counted as failed. The robot gets a
// fire-and-forget stop frame so an in-flight move does not keep going
// after the loop is gone.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopping = true
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := o.arm.EmergencyStop(); err != nil {
		o.logger.Warn("Robot stop frame failed", zap.Error(err))
	}
	o.station.Stop()
	o.wg.Wait()

	o.mu.Lock()
	o.stopping = false
	estopped := o.estopped
	o.mu.Unlock()
	if !estopped {
		o.setState(StateIdle)
	}
}

func (o *Orchestrator) setState(s SystemState) {
	o.mu.Lock()
	if o.state == s {
		o.mu.Unlock()
		return
	}
	o.state = s
	o.mu.Unlock()

	o.logger.Debug("State changed", zap.String("state", string(s)))
	o.broadcast("state_changed", map[string]string{"state": string(s)})
}

// State returns the current system state.
func (o *Orchestrator) State() SystemState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ClearEmergencyStop re-arms the orchestrator after an operator estop.
func (o *Orchestrator) ClearEmergencyStop() {
	o.mu.Lock()
	o.estopped = false
	o.mu.Unlock()
	o.setState(StateIdle)
}

// Status assembles the snapshot surfaced over the API.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		State:               o.state,
		IsRunning:           o.running,
		WashingMode:         o.mode,
		WashedCups:          o.washedCups,
		FailedCups:          o.failedCups,
		TargetCups:          o.targetCups,
		RecentErrors:        append([]string(nil), o.recentErrors...),
		PositionsCalibrated: o.positions.Len(),
	}
	if o.running {
		st.ElapsedTime = time.Since(o.startedAt).Seconds()
	}
	if len(o.cycleTimes) > 0 {
		var sum time.Duration
		for _, d := range o.cycleTimes {
			sum += d
		}
		avg := sum / time.Duration(len(o.cycleTimes))
		st.AvgCycleTime = avg.Seconds()
		st.CupsPerHour = 3600 / avg.Seconds()
		if o.mode == ModeFixedCount && o.targetCups > o.washedCups {
			st.EstimatedRemaining = float64(o.targetCups-o.washedCups) * avg.Seconds()
		}
	}
	return st
}

func (o *Orchestrator) broadcast(eventType string, payload interface{}) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.BroadcastEvent(eventType, payload)
}
