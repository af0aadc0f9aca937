package orchestrator

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/calibration"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/program"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/storage"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/vision"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/washstation"
)

type fakeArm struct {
	mu         sync.Mutex
	calls      []string
	failMethod string
	failAt     int // nth call of failMethod fails (1-based)
	counts     map[string]int
	estops     int
}

func newFakeArm() *fakeArm {
	return &fakeArm{counts: make(map[string]int)}
}

func (a *fakeArm) record(method, detail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[method]++
	a.calls = append(a.calls, method+detail)
	if method == a.failMethod && a.counts[method] == a.failAt {
		return fmt.Errorf("%s rejected", method)
	}
	return nil
}

func (a *fakeArm) MovePointToPoint(x, y, z float64, feedrate int) error {
	return a.record("MovePointToPoint", fmt.Sprintf("(%v,%v,%v,F%d)", x, y, z, feedrate))
}

func (a *fakeArm) MoveLinear(x, y, z float64, feedrate int) error {
	return a.record("MoveLinear", fmt.Sprintf("(%v,%v,%v,F%d)", x, y, z, feedrate))
}

func (a *fakeArm) SetGripperAngle(angle int) error {
	return a.record("SetGripperAngle", fmt.Sprintf("(%d)", angle))
}

func (a *fakeArm) PumpOn() error  { return a.record("PumpOn", "") }
func (a *fakeArm) PumpOff() error { return a.record("PumpOff", "") }
func (a *fakeArm) Home() error    { return a.record("Home", "") }

func (a *fakeArm) ResetErrors() error { return a.record("ResetErrors", "") }

func (a *fakeArm) CheckEStop() (string, error) { return "ok", a.record("CheckEStop", "") }

func (a *fakeArm) EmergencyStop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.estops++
	return nil
}

func (a *fakeArm) motionCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts["MovePointToPoint"] + a.counts["MoveLinear"]
}

func (a *fakeArm) callLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type funcDetector func(image.Image) ([]vision.Detection, error)

func (f funcDetector) Detect(img image.Image) ([]vision.Detection, error) { return f(img) }

type staticSource struct{ img image.Image }

func (s staticSource) Capture() (image.Image, error) { return s.img, nil }

func alwaysCup(confidence float64) funcDetector {
	return func(image.Image) ([]vision.Detection, error) {
		return []vision.Detection{{
			Class:      vision.ClassCup,
			Confidence: confidence,
			Box:        vision.BBox{X1: 10, Y1: 10, X2: 50, Y2: 50},
		}}, nil
	}
}

func neverCup() funcDetector {
	return func(image.Image) ([]vision.Detection, error) { return nil, nil }
}

type memStore struct {
	mu       sync.Mutex
	records  []storage.CycleRecord
	errorLog []string
	programs map[string]program.Program
}

func newMemStore() *memStore {
	return &memStore{programs: make(map[string]program.Program)}
}

func (m *memStore) AppendCycleRecord(rec storage.CycleRecord) (storage.CycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = fmt.Sprintf("rec-%d", len(m.records)+1)
	rec.Timestamp = time.Now()
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memStore) AppendError(source, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorLog = append(m.errorLog, source+": "+message)
	return nil
}

func (m *memStore) LoadProgram(name string) (program.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.programs[name]
	if !ok {
		return program.Program{}, fmt.Errorf("program %q not found", name)
	}
	return p, nil
}

func (m *memStore) lastRecord() storage.CycleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[len(m.records)-1]
}

type posStore struct{}

func (posStore) LoadPositions() (map[string]types.Position, error) { return nil, nil }
func (posStore) SavePositions(map[string]types.Position) error     { return nil }

func fullCalibration(t *testing.T) *calibration.Set {
	t.Helper()
	set := calibration.NewSet(posStore{})
	for name, pos := range map[string]types.Position{
		calibration.PosPickup:       {X: 100, Y: 0, Z: 0},
		calibration.PosWashStation:  {X: 200, Y: 0, Z: 0},
		calibration.PosRinseStation: {X: 300, Y: 0, Z: 0},
		calibration.PosStack:        {X: 400, Y: 0, Z: 0},
	} {
		require.NoError(t, set.Put(name, pos))
	}
	return set
}

func newTestOrchestrator(t *testing.T, arm *fakeArm, det vision.Detector, set *calibration.Set, store Store) *Orchestrator {
	t.Helper()
	gate := vision.NewGate(zap.NewNop(), det, 8, time.Millisecond)
	station := washstation.NewStation(zap.NewNop(), 150, 100)
	frames := staticSource{img: image.NewRGBA(image.Rect(0, 0, 64, 64))}
	return New(zap.NewNop(), arm, gate, frames, set, station, store, nil, Config{
		ConfidenceThreshold:        0.5,
		ProgramConfidenceThreshold: 0.8,
		MaxWaitFrames:              200,
		WashDuration:               30 * time.Millisecond,
		RinseDuration:              20 * time.Millisecond,
		TravelFeedrate:             300,
	})
}

func TestSingleCycleMissingCalibration(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), calibration.NewSet(posStore{}), store)

	err := o.SingleCycle(context.Background())

	var missing *calibration.MissingError
	require.ErrorAs(t, err, &missing)
	assert.ElementsMatch(t, calibration.RequiredForCycle, missing.Names)
	assert.Zero(t, arm.motionCalls(), "no motion before pre-flight passes")
	assert.Equal(t, StateError, o.State())

	st := o.Status()
	assert.Equal(t, 0, st.WashedCups)
	assert.Equal(t, 1, st.FailedCups)
}

func TestSingleCycleSuccess(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	require.NoError(t, o.SingleCycle(context.Background()))

	assert.Equal(t, StateIdle, o.State())
	st := o.Status()
	assert.Equal(t, 1, st.WashedCups)
	assert.Equal(t, 0, st.FailedCups)
	assert.Greater(t, st.AvgCycleTime, 0.0)

	rec := store.lastRecord()
	assert.True(t, rec.Success)
	assert.Equal(t, 1, rec.CupNumber)

	log := strings.Join(arm.callLog(), " ")
	assert.Contains(t, log, "MovePointToPoint(100,0,0,F200)", "pick approach at pick feedrate")
	assert.Contains(t, log, "MoveLinear(100,0,0,F150)", "lift at lift feedrate")
	assert.Contains(t, log, "MovePointToPoint(400,0,0,F300)", "stack at travel feedrate")
}

func TestSingleCycleAbortAfterMovingToWash(t *testing.T) {
	arm := newFakeArm()
	arm.failMethod = "PumpOff"
	arm.failAt = 1 // release at the wash station
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	err := o.SingleCycle(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateError, o.State())
	st := o.Status()
	assert.Equal(t, 0, st.WashedCups)
	assert.Equal(t, 1, st.FailedCups)
	require.Len(t, st.RecentErrors, 1)

	rec := store.lastRecord()
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "PumpOff rejected")

	log := strings.Join(arm.callLog(), " ")
	assert.NotContains(t, log, "MovePointToPoint(300,0,0", "rinse move never issued")
}

func TestSingleCycleDetectionTimeout(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, neverCup(), fullCalibration(t), store)

	err := o.SingleCycle(context.Background())

	require.ErrorIs(t, err, vision.ErrDetectionTimeout)
	assert.Zero(t, arm.motionCalls(), "no motion without a stable detection")
	assert.Equal(t, StateError, o.State())
	assert.Equal(t, 1, o.Status().FailedCups)
}

func TestSingleCycleBelowThresholdTimesOut(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.3), fullCalibration(t), store)

	err := o.SingleCycle(context.Background())
	require.ErrorIs(t, err, vision.ErrDetectionTimeout)
	assert.Zero(t, arm.motionCalls())
}

func TestProgramCycle(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	store.programs["quick-rinse"] = program.Program{
		Name: "quick-rinse",
		Steps: []program.Step{
			{Cmd: program.CmdRapid, X: 50, Y: 0, Z: 0, Feedrate: 200},
			{Cmd: program.CmdPumpOn},
			{Cmd: program.CmdPumpOff},
		},
	}
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	require.NoError(t, o.ProgramCycle(context.Background(), "quick-rinse"))

	assert.Equal(t, StateIdle, o.State())
	assert.Equal(t, 1, o.Status().WashedCups)

	rec := store.lastRecord()
	assert.True(t, rec.Success)
	assert.Equal(t, "quick-rinse", rec.Program, "record carries the program name")
	assert.Equal(t, 3, len(arm.callLog()))
}

func TestProgramCycleUnknownProgram(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	err := o.ProgramCycle(context.Background(), "nope")
	require.Error(t, err)
	assert.Zero(t, arm.motionCalls())
	assert.Equal(t, 1, o.Status().FailedCups)
}

func TestFixedCountRunLoop(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	require.NoError(t, o.Start(ModeFixedCount, 2, ""))
	assert.ErrorIs(t, o.Start(ModeFixedCount, 2, ""), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return !o.Running() }, 10*time.Second, 20*time.Millisecond)

	st := o.Status()
	assert.Equal(t, 2, st.WashedCups)
	assert.Equal(t, 0, st.FailedCups)
	assert.Equal(t, StateIdle, st.State)
}

func TestRunLoopContinuesAfterFailedCycle(t *testing.T) {
	arm := newFakeArm()
	arm.failMethod = "PumpOn"
	arm.failAt = 1 // first cycle fails at the first pickup
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	require.NoError(t, o.Start(ModeFixedCount, 1, ""))
	require.Eventually(t, func() bool { return !o.Running() }, 10*time.Second, 20*time.Millisecond)

	st := o.Status()
	assert.Equal(t, 1, st.WashedCups, "the loop retried after the failure")
	assert.Equal(t, 1, st.FailedCups)
}

func TestEmergencyStopDuringWash(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)
	o.cfg.WashDuration = 10 * time.Second

	require.NoError(t, o.Start(ModeSingleCycle, 0, ""))

	require.Eventually(t, func() bool { return o.State() == StateWashing }, 5*time.Second, 5*time.Millisecond)
	start := time.Now()
	o.EmergencyStop()

	require.Eventually(t, func() bool { return !o.Running() }, 5*time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second, "estop wins over the wash dwell")

	assert.Equal(t, StateEmergencyStop, o.State())
	arm.mu.Lock()
	assert.Equal(t, 1, arm.estops)
	arm.mu.Unlock()

	rec := store.lastRecord()
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Error, "emergency stop")

	assert.ErrorIs(t, o.Start(ModeSingleCycle, 0, ""), ErrSafetyAbort)
	o.ClearEmergencyStop()
	assert.Equal(t, StateIdle, o.State())
}

func TestOperatorStopIsNotAFailure(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)
	o.cfg.WashDuration = 10 * time.Second

	require.NoError(t, o.Start(ModeInfinite, 0, ""))
	require.Eventually(t, func() bool { return o.State() == StateWashing }, 5*time.Second, 5*time.Millisecond)

	o.Stop()

	assert.False(t, o.Running())
	assert.Equal(t, StateIdle, o.State())
	st := o.Status()
	assert.Equal(t, 0, st.FailedCups, "operator stop does not count against the station")

	// The arm must get the stop frame so an in-flight move halts too.
	arm.mu.Lock()
	assert.Equal(t, 1, arm.estops)
	arm.mu.Unlock()
}

func TestStatusProjection(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	o.mu.Lock()
	o.mode = ModeFixedCount
	o.targetCups = 10
	o.washedCups = 4
	o.cycleTimes = []time.Duration{2 * time.Second, 4 * time.Second}
	o.mu.Unlock()

	st := o.Status()
	assert.InDelta(t, 3.0, st.AvgCycleTime, 0.001)
	assert.InDelta(t, 18.0, st.EstimatedRemaining, 0.001, "6 cups remaining at 3s each")
	assert.InDelta(t, 1200.0, st.CupsPerHour, 0.001)
	assert.Equal(t, 4, st.PositionsCalibrated)
}

func TestInitializeHomesAfterReset(t *testing.T) {
	arm := newFakeArm()
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	require.NoError(t, o.Initialize(context.Background()))

	log := arm.callLog()
	require.Len(t, log, 3)
	assert.Equal(t, "ResetErrors", log[0])
	assert.Equal(t, "CheckEStop", log[1])
	assert.Equal(t, "Home", log[2])
}

func TestInitializeFailsWhenHomingFails(t *testing.T) {
	arm := newFakeArm()
	arm.failMethod = "Home"
	arm.failAt = 1
	store := newMemStore()
	o := newTestOrchestrator(t, arm, alwaysCup(0.9), fullCalibration(t), store)

	err := o.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "homing failed")
}
