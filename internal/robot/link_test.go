package robot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
)

// fakePort records written frames and plays back scripted replies.
type fakePort struct {
	written []string
	replies []string
	closed  bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.written = append(f.written, string(p))
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.replies) == 0 {
		return 0, nil // timeout-style empty read
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return copy(p, reply), nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func newTestLink(port *fakePort) *Link {
	return NewLink(zap.NewNop(), "/dev/null", 115200, 0, WithPort(port))
}

func TestLink_SendClassifiesErrorReply(t *testing.T) {
	port := &fakePort{replies: []string{"error: axis stalled"}}
	link := newTestLink(port)

	_, err := link.Send(FramePumpOn, true, time.Second)
	require.Error(t, err)

	var commErr *CommError
	require.ErrorAs(t, err, &commErr)
	assert.Contains(t, commErr.Reply, "axis stalled")
}

func TestLink_SendEmptyReplyIsSuccess(t *testing.T) {
	port := &fakePort{}
	link := newTestLink(port)

	reply, err := link.Send(FramePumpOn, true, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok (no response)", reply)
}

func TestLink_SendNotConnected(t *testing.T) {
	link := NewLink(zap.NewNop(), "/dev/null", 115200, 0)

	_, err := link.Send(FramePumpOn, true, time.Second)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestLink_HomeResetsPosition(t *testing.T) {
	port := &fakePort{replies: []string{"ok", "ok"}}
	link := newTestLink(port)

	require.NoError(t, link.MoveLinear(100, 50, 20, 200))
	assert.Equal(t, types.Position{X: 100, Y: 50, Z: 20}, link.Position())

	require.NoError(t, link.Home())
	assert.Equal(t, types.Origin, link.Position())
	assert.Contains(t, port.written[1], "G28")
}

func TestLink_MoveUpdatesPositionOptimistically(t *testing.T) {
	port := &fakePort{replies: []string{"ok"}}
	link := newTestLink(port)

	require.NoError(t, link.MovePointToPoint(10, 20, 30, 100))
	assert.Equal(t, types.Position{X: 10, Y: 20, Z: 30}, link.Position())
	assert.Contains(t, port.written[0], "G00 X10 Y20 Z30 F100")
}

func TestLink_FailedMoveKeepsPosition(t *testing.T) {
	port := &fakePort{replies: []string{"error: estop"}}
	link := newTestLink(port)

	err := link.MoveLinear(10, 20, 30, 100)
	require.Error(t, err)
	assert.Equal(t, types.Origin, link.Position())
}

func TestLink_MoveRejectsOutOfWorkspace(t *testing.T) {
	port := &fakePort{}
	link := newTestLink(port)

	err := link.MoveLinear(1000, 0, 0, 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfWorkspace))
	assert.Empty(t, port.written, "no frame may reach the wire")
}

func TestLink_MoveOffsetFromCachedPosition(t *testing.T) {
	port := &fakePort{replies: []string{"ok", "ok"}}
	link := newTestLink(port)

	require.NoError(t, link.MoveLinear(100, 100, 0, 100))
	require.NoError(t, link.MoveOffset(-10, 5, 20, 100))

	assert.Equal(t, types.Position{X: 90, Y: 105, Z: 20}, link.Position())
	assert.Contains(t, port.written[1], "X90 Y105 Z20")
}

func TestLink_EmergencyStopDoesNotRead(t *testing.T) {
	port := &fakePort{replies: []string{"error: should never be read"}}
	link := newTestLink(port)

	require.NoError(t, link.EmergencyStop())
	assert.Contains(t, port.written[0], "M112")
	assert.Len(t, port.replies, 1, "fire-and-forget must not consume a reply")
}

func TestLink_GetPositionParsesAndCaches(t *testing.T) {
	port := &fakePort{replies: []string{"X:12.5 Y:-3 Z:40"}}
	link := newTestLink(port)

	pos := link.GetPosition()
	assert.Equal(t, types.Position{X: 12.5, Y: -3, Z: 40}, pos)
	assert.Equal(t, pos, link.Position())
}

func TestLink_GetPositionFallsBackToCachedOnGarbage(t *testing.T) {
	port := &fakePort{replies: []string{"ok", "ok"}}
	link := newTestLink(port)

	require.NoError(t, link.MoveLinear(5, 6, 7, 100))

	// Reply "ok" carries no coordinates; the query must fall back.
	pos := link.GetPosition()
	assert.Equal(t, types.Position{X: 5, Y: 6, Z: 7}, pos)
}

func TestLink_GripperClamps(t *testing.T) {
	port := &fakePort{replies: []string{"ok", "ok"}}
	link := newTestLink(port)

	require.NoError(t, link.SetGripperAngle(200))
	assert.Contains(t, port.written[0], "A180")

	require.NoError(t, link.SetGripperAngle(-10))
	assert.Contains(t, port.written[1], "A0")
}
