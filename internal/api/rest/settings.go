package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/storage"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/washstation"
)

// getSettings returns the persisted settings, falling back to the effective
// configuration when nothing has been saved yet.
func (s *Server) getSettings(c *gin.Context) {
	settings, exists, err := s.store.LoadSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SETTINGS_500", "failed to load settings", err.Error()))
		return
	}

	if !exists {
		settings = storage.Settings{
			ConfidenceThreshold:        s.cfg.Vision.ConfidenceThreshold,
			ProgramConfidenceThreshold: s.cfg.Vision.ProgramConfidenceThreshold,
			BrushSpeed:                 s.cfg.Washing.BrushSpeed,
			WaterFlow:                  s.cfg.Washing.WaterFlow,
			WashDurationSeconds:        s.cfg.Washing.WashDuration.Seconds(),
			RinseDurationSeconds:       s.cfg.Washing.RinseDuration.Seconds(),
		}
	}

	c.JSON(http.StatusOK, settings)
}

// updateSettings persists new settings and applies the actuator setpoints
// immediately. Thresholds and durations take effect on the next start,
// because a running cycle must not change parameters mid-flight.
func (s *Server) updateSettings(c *gin.Context) {
	var settings storage.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SETTINGS_400", "invalid settings payload", err.Error()))
		return
	}

	if settings.ConfidenceThreshold <= 0 || settings.ConfidenceThreshold > 1 {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("SETTINGS_422", "confidence_threshold must be in (0,1]", nil))
		return
	}
	if settings.ProgramConfidenceThreshold <= 0 || settings.ProgramConfidenceThreshold > 1 {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("SETTINGS_422", "program_confidence_threshold must be in (0,1]", nil))
		return
	}
	if settings.BrushSpeed < washstation.MinPWM || settings.BrushSpeed > washstation.MaxPWM ||
		settings.WaterFlow < washstation.MinPWM || settings.WaterFlow > washstation.MaxPWM {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("SETTINGS_422", "brush_speed and water_flow must be within 0-255", nil))
		return
	}
	if settings.WashDurationSeconds <= 0 || settings.RinseDurationSeconds <= 0 {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("SETTINGS_422", "durations must be positive", nil))
		return
	}

	if err := s.store.SaveSettings(settings); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SETTINGS_500", "failed to save settings", err.Error()))
		return
	}

	s.station.SetBrushSpeed(settings.BrushSpeed)
	s.station.SetWaterFlow(settings.WaterFlow)

	s.logger.Info("Settings updated",
		zap.Float64("confidence_threshold", settings.ConfidenceThreshold),
		zap.Int("brush_speed", settings.BrushSpeed),
		zap.Int("water_flow", settings.WaterFlow))

	c.JSON(http.StatusOK, settings)
}

// getPreview returns the most recent vision snapshot.
func (s *Server) getPreview(c *gin.Context) {
	c.JSON(http.StatusOK, s.preview.Last())
}
