package types

// Position is a point in robot-arm coordinate space, in millimeters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Origin is the arm's home position.
var Origin = Position{X: 0, Y: 0, Z: 0}
