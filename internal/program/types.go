package program

import (
	"encoding/json"
	"fmt"
)

// Command identifiers as stored in program JSON.
type Command string

const (
	CmdRapid   Command = "G00"
	CmdLinear  Command = "G01"
	CmdGripper Command = "GRIPPER"
	CmdPumpOn  Command = "PUMP_ON"
	CmdPumpOff Command = "PUMP_OFF"
	CmdWait    Command = "WAIT"
)

// Step is one program instruction. Field relevance depends on Cmd:
// moves use X/Y/Z/Feedrate, GRIPPER uses Angle, WAIT uses Pause as its
// duration. For every non-WAIT command, Pause > 0 is an extra delay
// applied after the step executes.
type Step struct {
	Cmd      Command `json:"cmd"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	Z        float64 `json:"z,omitempty"`
	Feedrate int     `json:"feedrate,omitempty"`
	Angle    int     `json:"angle,omitempty"`
	Pause    float64 `json:"pause,omitempty"` // seconds
}

// Program is an ordered step sequence; order is execution order.
type Program struct {
	Name         string `json:"name"`
	Steps        []Step `json:"steps"`
	LastModified string `json:"last_modified,omitempty"`
}

// Parse unmarshals a program document after schema validation.
func Parse(data []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse program: %w", err)
	}
	return &p, nil
}

// ToJSON serializes the program.
func (p *Program) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
