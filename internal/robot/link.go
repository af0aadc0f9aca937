package robot

import (
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
)

const (
	// replyByteBudget is the most we ever read back for one command.
	replyByteBudget = 100
	// processingDelay gives the controller time to queue a reply before
	// the first read.
	processingDelay = 50 * time.Millisecond

	defaultReplyTimeout = 3 * time.Second
	homeReplyTimeout    = 10 * time.Second
)

// Port is the slice of a serial port the link needs. go.bug.st/serial.Port
// satisfies it; tests substitute an in-memory fake.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Link translates motion and actuator intents into wire frames and parses
// replies. It owns the serial transport exclusively; all reads and writes
// are serialized behind its mutex. The link never retries — retry policy
// belongs to the caller.
type Link struct {
	logger *zap.Logger

	portName     string
	baudrate     int
	settleDelay  time.Duration
	replyTimeout time.Duration

	mu        sync.Mutex
	port      Port
	connected bool
	position  types.Position // optimistic, updated after successful moves
}

type Option func(*Link)

// WithPort injects an already-open transport, bypassing Connect.
func WithPort(p Port) Option {
	return func(l *Link) {
		l.port = p
		l.connected = true
	}
}

// WithReplyTimeout overrides the default per-command reply timeout.
func WithReplyTimeout(d time.Duration) Option {
	return func(l *Link) {
		l.replyTimeout = d
	}
}

func NewLink(logger *zap.Logger, portName string, baudrate int, settleDelay time.Duration, opts ...Option) *Link {
	l := &Link{
		logger:       logger,
		portName:     portName,
		baudrate:     baudrate,
		settleDelay:  settleDelay,
		replyTimeout: defaultReplyTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Connect opens the serial port. It blocks only for the configured settle
// delay before the link is ready for its first command.
func (l *Link) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		return nil
	}

	port, err := serial.Open(l.portName, &serial.Mode{BaudRate: l.baudrate})
	if err != nil {
		return &ConnError{Port: l.portName, Err: err}
	}

	// Controller needs a moment after the port opens before it accepts
	// frames.
	time.Sleep(l.settleDelay)

	l.port = port
	l.connected = true

	l.logger.Info("Robot connected",
		zap.String("port", l.portName),
		zap.Int("baudrate", l.baudrate))

	return nil
}

// Disconnect closes the transport.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return nil
	}

	err := l.port.Close()
	l.port = nil
	l.connected = false

	l.logger.Info("Robot disconnected", zap.String("port", l.portName))
	return err
}

// Connected reports whether the link is open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Send writes one frame and optionally reads the reply within timeout.
// Reply classification is permissive (see ClassifyReply): only an explicit
// "error" reply fails; an empty reply counts as success since some commands
// are fire-and-forget.
func (l *Link) Send(frame string, expectReply bool, timeout time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendLocked(frame, expectReply, timeout)
}

func (l *Link) sendLocked(frame string, expectReply bool, timeout time.Duration) (string, error) {
	if !l.connected {
		return "", &CommError{Op: "send", Err: ErrNotConnected}
	}

	if _, err := l.port.Write([]byte(frame)); err != nil {
		return "", &CommError{Op: "write", Err: err}
	}

	l.logger.Debug("Frame sent", zap.String("frame", frame))

	if !expectReply {
		return "ok", nil
	}

	time.Sleep(processingDelay)

	if timeout <= 0 {
		timeout = l.replyTimeout
	}
	if err := l.port.SetReadTimeout(timeout); err != nil {
		return "", &CommError{Op: "read", Err: err}
	}

	buf := make([]byte, replyByteBudget)
	n, err := l.port.Read(buf)
	if err != nil && err != io.EOF {
		return "", &CommError{Op: "read", Err: err}
	}

	class, text := ClassifyReply(buf[:n])
	l.logger.Debug("Reply received", zap.String("reply", text))

	switch class {
	case ReplyError:
		return text, &CommError{Op: "send", Reply: text}
	case ReplyEmpty:
		return "ok (no response)", nil
	default:
		return text, nil
	}
}

// Home sends G28 and resets the cached position to the origin.
func (l *Link) Home() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Info("Homing robot")
	if _, err := l.sendLocked(FrameHome, true, homeReplyTimeout); err != nil {
		return err
	}

	l.position = types.Origin
	return nil
}

// MovePointToPoint issues a rapid (G00) move to an absolute target.
func (l *Link) MovePointToPoint(x, y, z float64, feedrate int) error {
	return l.move(MoveRapid, x, y, z, feedrate)
}

// MoveLinear issues a linear (G01) move to an absolute target.
func (l *Link) MoveLinear(x, y, z float64, feedrate int) error {
	return l.move(MoveLinear, x, y, z, feedrate)
}

func (l *Link) move(kind MoveKind, x, y, z float64, feedrate int) error {
	if !InWorkspace(x, y, z) {
		return &CommError{Op: "move", Err: ErrOutOfWorkspace}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	frame := BuildMoveFrame(kind, x, y, z, feedrate)
	if _, err := l.sendLocked(frame, true, 5*time.Second); err != nil {
		return err
	}

	// No hardware read-back; the target becomes the new current position.
	l.position = types.Position{X: x, Y: y, Z: z}
	return nil
}

// MoveOffset moves linearly by a delta from the cached current position.
func (l *Link) MoveOffset(dx, dy, dz float64, feedrate int) error {
	l.mu.Lock()
	pos := l.position
	l.mu.Unlock()

	return l.MoveLinear(pos.X+dx, pos.Y+dy, pos.Z+dz, feedrate)
}

// SetGripperAngle sets the gripper to an angle in degrees, clamped 0..180.
func (l *Link) SetGripperAngle(angle int) error {
	_, err := l.Send(BuildGripperFrame(angle), true, 0)
	return err
}

// GripperOpen opens the gripper fully.
func (l *Link) GripperOpen() error { return l.SetGripperAngle(MaxGripperAngle) }

// GripperClose closes the gripper fully.
func (l *Link) GripperClose() error { return l.SetGripperAngle(MinGripperAngle) }

// PumpOn activates the vacuum pump (M03).
func (l *Link) PumpOn() error {
	_, err := l.Send(FramePumpOn, true, 0)
	return err
}

// PumpOff deactivates the vacuum pump (M05).
func (l *Link) PumpOff() error {
	_, err := l.Send(FramePumpOff, true, 0)
	return err
}

// ResetErrors clears controller-side error latches (M999).
func (l *Link) ResetErrors() error {
	_, err := l.Send(FrameResetErrors, true, 0)
	return err
}

// CheckEStop queries the emergency-stop circuit (M122).
func (l *Link) CheckEStop() (string, error) {
	return l.Send(FrameCheckEStop, true, 0)
}

// EmergencyStop sends M112 without waiting for a reply. The hardware must
// act whether or not it acknowledges.
func (l *Link) EmergencyStop() error {
	_, err := l.Send(FrameEmergencyStop, false, 0)
	return err
}

// GetPosition queries the controller for its position (P01). Parsing is
// best-effort telemetry: on any failure the last cached position is
// returned instead of an error.
func (l *Link) GetPosition() types.Position {
	reply, err := l.Send(FramePositionQuery, true, 0)
	if err != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.position
	}

	x, y, z, err := ParsePositionReply(reply)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.logger.Warn("Position reply unparseable, using cached position",
			zap.String("reply", reply))
		return l.position
	}

	l.position = types.Position{X: x, Y: y, Z: z}
	return l.position
}

// Position returns the cached current position without touching hardware.
func (l *Link) Position() types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position
}
