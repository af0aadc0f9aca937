package orchestrator

// SystemState describes where in the wash cycle the station currently is.
type SystemState string

const (
	StateIdle           SystemState = "idle"
	StateDetecting      SystemState = "detecting"
	StateMovingToPickup SystemState = "moving_to_pickup"
	StatePickingUp      SystemState = "picking_up"
	StateMovingToWash   SystemState = "moving_to_wash"
	StateWashing        SystemState = "washing"
	StateMovingToRinse  SystemState = "moving_to_rinse"
	StateRinsing        SystemState = "rinsing"
	StateMovingToStack  SystemState = "moving_to_stack"
	StateStacking       SystemState = "stacking"
	StateError          SystemState = "error"
	StateEmergencyStop  SystemState = "emergency_stop"
)

// WashingMode selects how many cycles the run loop attempts.
type WashingMode string

const (
	ModeSingleCycle WashingMode = "single_cycle"
	ModeFixedCount  WashingMode = "fixed_count"
	ModeInfinite    WashingMode = "infinite"
)

// Status is the snapshot surfaced to the API and websocket clients.
type Status struct {
	State               SystemState `json:"state"`
	IsRunning           bool        `json:"is_running"`
	WashingMode         WashingMode `json:"washing_mode"`
	WashedCups          int         `json:"washed_cups"`
	FailedCups          int         `json:"failed_cups"`
	TargetCups          int         `json:"target_cups"`
	ElapsedTime         float64     `json:"elapsed_time"`
	AvgCycleTime        float64     `json:"avg_cycle_time"`
	EstimatedRemaining  float64     `json:"estimated_remaining"`
	CupsPerHour         float64     `json:"cups_per_hour"`
	RecentErrors        []string    `json:"recent_errors"`
	PositionsCalibrated int         `json:"positions_calibrated"`
}
