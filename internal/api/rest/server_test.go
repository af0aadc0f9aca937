package rest

import (
	"bytes"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/api/websocket"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/calibration"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/config"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/orchestrator"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/program"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/robot"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/storage"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/vision"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/washstation"
)

type noDetector struct{}

func (noDetector) Detect(image.Image) ([]vision.Detection, error) { return nil, nil }

type blackSource struct{}

func (blackSource) Capture() (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop()

	validator, err := program.NewValidator()
	require.NoError(t, err)
	store, err := storage.NewJSONStore(logger, t.TempDir(), validator)
	require.NoError(t, err)

	positions := calibration.NewSet(store)
	require.NoError(t, positions.Load())

	link := robot.NewLink(logger, "/dev/null", 115200, 0)
	gate := vision.NewGate(logger, noDetector{}, 8, 500*time.Millisecond)
	station := washstation.NewStation(logger, 150, 100)
	hub := websocket.NewHub(logger)

	washer := orchestrator.New(logger, link, gate, blackSource{}, positions, station, store, hub, orchestrator.Config{
		ConfidenceThreshold:        0.5,
		ProgramConfidenceThreshold: 0.8,
		MaxWaitFrames:              5,
		WashDuration:               10 * time.Millisecond,
		RinseDuration:              10 * time.Millisecond,
	})

	preview := vision.NewPreview(logger, blackSource{}, noDetector{}, hub, 0.5, 10*time.Millisecond)

	cfg := &config.Config{}
	cfg.Server.HTTPPort = 8080
	cfg.Vision.ConfidenceThreshold = 0.5
	cfg.Vision.ProgramConfidenceThreshold = 0.8
	cfg.Washing.BrushSpeed = 150
	cfg.Washing.WaterFlow = 100
	cfg.Washing.WashDuration = 3 * time.Second
	cfg.Washing.RinseDuration = 2 * time.Second
	return NewServer(cfg, logger, hub, washer, link, positions, store, station, preview)
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["robot_connected"])
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/washer/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, orchestrator.StateIdle, st.State)
	assert.False(t, st.IsRunning)
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/api/v1/positions/pickup", map[string]float64{"x": 100, "y": 50, "z": -20})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pickup")

	rec = do(t, s, http.MethodDelete, "/api/v1/positions/pickup", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/v1/positions/pickup", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionOutsideWorkspaceRejected(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPut, "/api/v1/positions/pickup", map[string]float64{"x": 1000, "y": 0, "z": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProgramLifecycle(t *testing.T) {
	s := newTestServer(t)

	body := map[string]interface{}{
		"steps": []map[string]interface{}{
			{"cmd": "G00", "x": 10, "y": 0, "z": 0, "feedrate": 200},
			{"cmd": "PUMP_ON"},
			{"cmd": "WAIT", "pause": 1},
			{"cmd": "PUMP_OFF"},
		},
	}
	rec := do(t, s, http.MethodPut, "/api/v1/programs/demo", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/v1/programs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "demo")

	rec = do(t, s, http.MethodGet, "/api/v1/programs/demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/v1/programs/demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/programs/demo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgramWithUnknownCommandRejected(t *testing.T) {
	s := newTestServer(t)

	body := map[string]interface{}{
		"steps": []map[string]interface{}{
			{"cmd": "G99"},
		},
	}
	rec := do(t, s, http.MethodPut, "/api/v1/programs/bad", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestStartRejectsUnknownMode(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/washer/start", map[string]interface{}{"mode": "warp"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/washer/start", map[string]interface{}{"mode": "fixed_count"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "fixed_count needs a positive target")
}

func TestEmergencyStopAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/washer/emergency-stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/washer/status", nil)
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, orchestrator.StateEmergencyStop, st.State)

	rec = do(t, s, http.MethodPost, "/api/v1/washer/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/washer/status", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, orchestrator.StateIdle, st.State)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)

	// Ohne gespeicherte Settings kommen die Config-Defaults zurück.
	rec := do(t, s, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings storage.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, 0.5, settings.ConfidenceThreshold)
	assert.Equal(t, 150, settings.BrushSpeed)
	assert.Equal(t, 3.0, settings.WashDurationSeconds)

	settings.BrushSpeed = 200
	settings.ConfidenceThreshold = 0.6
	rec = do(t, s, http.MethodPut, "/api/v1/settings", settings)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 200, s.station.Status().BrushSpeed)

	rec = do(t, s, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, 200, settings.BrushSpeed)
	assert.Equal(t, 0.6, settings.ConfidenceThreshold)
}

func TestSettingsValidation(t *testing.T) {
	s := newTestServer(t)

	base := storage.Settings{
		ConfidenceThreshold:        0.5,
		ProgramConfidenceThreshold: 0.8,
		BrushSpeed:                 150,
		WaterFlow:                  100,
		WashDurationSeconds:        3,
		RinseDurationSeconds:       2,
	}

	bad := base
	bad.ConfidenceThreshold = 1.5
	rec := do(t, s, http.MethodPut, "/api/v1/settings", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	bad = base
	bad.BrushSpeed = 300
	rec = do(t, s, http.MethodPut, "/api/v1/settings", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	bad = base
	bad.WashDurationSeconds = 0
	rec = do(t, s, http.MethodPut, "/api/v1/settings", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPreviewEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/vision/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "consecutive_count")
}

func TestWashLogEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/logs/cycles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cycles")
}
