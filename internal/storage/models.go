package storage

import "time"

// CycleRecord describes one completed or failed wash cycle.
type CycleRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	CupNumber int       `json:"cup_number"`
	CycleTime float64   `json:"cycle_time"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Program   string    `json:"program,omitempty"`
}

// ErrorRecord is one entry of the persistent error log.
type ErrorRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// Settings holds user-adjustable runtime settings persisted across
// restarts.
type Settings struct {
	ConfidenceThreshold        float64 `json:"confidence_threshold"`
	ProgramConfidenceThreshold float64 `json:"program_confidence_threshold"`
	BrushSpeed                 int     `json:"brush_speed"`
	WaterFlow                  int     `json:"water_flow"`
	WashDurationSeconds        float64 `json:"wash_duration_seconds"`
	RinseDurationSeconds       float64 `json:"rinse_duration_seconds"`
}
