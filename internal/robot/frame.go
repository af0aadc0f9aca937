package robot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Frame markers, fixed by the controller firmware. One command per write.
const (
	FrameStart = "0x550xAA "
	FrameEnd   = " 0xAA0x55"
)

// Move kinds map to the controller's G-codes.
type MoveKind string

const (
	MoveRapid  MoveKind = "G00"
	MoveLinear MoveKind = "G01"
)

// Feedrate and gripper limits accepted by the firmware.
const (
	MinFeedrate = 1
	MaxFeedrate = 500

	MinGripperAngle = 0
	MaxGripperAngle = 180
)

// Workspace limits in mm. Targets outside are rejected before any byte
// is written to the link.
const (
	WorkspaceMaxXY = 400.0
	WorkspaceMaxZ  = 300.0
)

// Fixed control frames
const (
	FrameHome          = FrameStart + "G28" + FrameEnd
	FramePumpOn        = FrameStart + "M03" + FrameEnd
	FramePumpOff       = FrameStart + "M05" + FrameEnd
	FrameResetErrors   = FrameStart + "M999" + FrameEnd
	FrameCheckEStop    = FrameStart + "M122" + FrameEnd
	FrameEmergencyStop = FrameStart + "M112" + FrameEnd
	FramePositionQuery = FrameStart + "P01" + FrameEnd
)

// ClampFeedrate clamps a feedrate to the firmware's accepted range.
func ClampFeedrate(feedrate int) int {
	if feedrate < MinFeedrate {
		return MinFeedrate
	}
	if feedrate > MaxFeedrate {
		return MaxFeedrate
	}
	return feedrate
}

// ClampGripperAngle clamps a gripper angle to 0..180 degrees.
func ClampGripperAngle(angle int) int {
	if angle < MinGripperAngle {
		return MinGripperAngle
	}
	if angle > MaxGripperAngle {
		return MaxGripperAngle
	}
	return angle
}

// InWorkspace reports whether a target is inside the arm's reachable volume.
func InWorkspace(x, y, z float64) bool {
	return x >= -WorkspaceMaxXY && x <= WorkspaceMaxXY &&
		y >= -WorkspaceMaxXY && y <= WorkspaceMaxXY &&
		z >= -WorkspaceMaxZ && z <= WorkspaceMaxZ
}

// BuildMoveFrame builds a G00/G01 XYZ move frame.
// Format: 0x550xAA G01 X<x> Y<y> Z<z> F<feed> 0xAA0x55
func BuildMoveFrame(kind MoveKind, x, y, z float64, feedrate int) string {
	if kind != MoveRapid && kind != MoveLinear {
		kind = MoveLinear
	}

	parts := []string{
		string(kind),
		"X" + formatCoord(x),
		"Y" + formatCoord(y),
		"Z" + formatCoord(z),
		"F" + strconv.Itoa(ClampFeedrate(feedrate)),
	}

	return FrameStart + strings.Join(parts, " ") + FrameEnd
}

// BuildGripperFrame builds a G06 frame for the DO-0 gripper axis.
// Format: 0x550xAA G06 D7 S1 A<angle> 0xAA0x55
func BuildGripperFrame(angle int) string {
	return fmt.Sprintf("%sG06 D7 S1 A%d%s", FrameStart, ClampGripperAngle(angle), FrameEnd)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReplyClass classifies a controller reply.
type ReplyClass int

const (
	// ReplyOK is an explicit acknowledgement containing "ok".
	ReplyOK ReplyClass = iota
	// ReplyError is an explicit error reply, surfaced verbatim.
	ReplyError
	// ReplyEmpty means no bytes came back within the read budget. Some
	// commands are fire-and-forget, so this counts as success-with-caveat.
	ReplyEmpty
	// ReplyOther is any other non-empty text, treated as success.
	// Deliberately permissive; tighten here if the firmware ever grows a
	// stricter reply vocabulary.
	ReplyOther
)

// ClassifyReply is the single place reply semantics live. Matching is
// case-insensitive on the trimmed reply text.
func ClassifyReply(raw []byte) (ReplyClass, string) {
	text := strings.ToLower(strings.TrimSpace(string(raw)))

	switch {
	case text == "":
		return ReplyEmpty, ""
	case strings.Contains(text, "ok"):
		return ReplyOK, text
	case strings.Contains(text, "error"):
		return ReplyError, text
	default:
		return ReplyOther, text
	}
}

var (
	posXPattern = regexp.MustCompile(`(?i)X[:\s]*(-?[\d.]+)`)
	posYPattern = regexp.MustCompile(`(?i)Y[:\s]*(-?[\d.]+)`)
	posZPattern = regexp.MustCompile(`(?i)Z[:\s]*(-?[\d.]+)`)
)

// ParsePositionReply parses an "X:<f> Y:<f> Z:<f>" position report.
// Whitespace and colon separators are both tolerated, and matching is
// case-insensitive because replies arrive lowercased from classification.
func ParsePositionReply(reply string) (x, y, z float64, err error) {
	xm := posXPattern.FindStringSubmatch(reply)
	ym := posYPattern.FindStringSubmatch(reply)
	zm := posZPattern.FindStringSubmatch(reply)

	if xm == nil || ym == nil || zm == nil {
		return 0, 0, 0, fmt.Errorf("position reply missing axes: %q", reply)
	}

	x, err = strconv.ParseFloat(xm[1], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse X: %w", err)
	}
	y, err = strconv.ParseFloat(ym[1], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse Y: %w", err)
	}
	z, err = strconv.ParseFloat(zm[1], 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse Z: %w", err)
	}

	return x, y, z, nil
}
