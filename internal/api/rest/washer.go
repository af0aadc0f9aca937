package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/orchestrator"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
)

// GET /api/v1/washer/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.washer.Status())
}

// POST /api/v1/washer/connect
func (s *Server) connect(c *gin.Context) {
	if err := s.link.Connect(); err != nil {
		s.logger.Error("Robot connect failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("ROBOT_502", "Connection failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Robot connected"})
}

// POST /api/v1/washer/disconnect
func (s *Server) disconnect(c *gin.Context) {
	if s.washer.Running() {
		c.JSON(http.StatusConflict, types.NewErrorResponse("WASHER_409", "Washing is running", nil))
		return
	}
	if err := s.link.Disconnect(); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("ROBOT_500", "Disconnect failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Robot disconnected"})
}

// POST /api/v1/washer/home
func (s *Server) home(c *gin.Context) {
	if err := s.washer.Initialize(c.Request.Context()); err != nil {
		s.logger.Error("Initialization failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("ROBOT_502", "Initialization failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Robot homed"})
}

// POST /api/v1/washer/cycle
func (s *Server) runSingleCycle(c *gin.Context) {
	if err := s.washer.Start(orchestrator.ModeSingleCycle, 0, ""); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("WASHER_409", "Cannot start cycle", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Cycle started"})
}

// POST /api/v1/washer/program-cycle
func (s *Server) runProgramCycle(c *gin.Context) {
	var req struct {
		Program string `json:"program" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("WASHER_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.washer.Start(orchestrator.ModeSingleCycle, 0, req.Program); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("WASHER_409", "Cannot start program cycle", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Program cycle started",
		"program": req.Program,
	})
}

// POST /api/v1/washer/start
func (s *Server) startWashing(c *gin.Context) {
	var req struct {
		Mode       string `json:"mode" binding:"required"`
		TargetCups int    `json:"target_cups"`
		Program    string `json:"program"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("WASHER_400", "Invalid request body", err.Error()))
		return
	}

	mode := orchestrator.WashingMode(req.Mode)
	switch mode {
	case orchestrator.ModeSingleCycle, orchestrator.ModeFixedCount, orchestrator.ModeInfinite:
	default:
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("WASHER_400", "Unknown washing mode", req.Mode))
		return
	}
	if mode == orchestrator.ModeFixedCount && req.TargetCups <= 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("WASHER_400", "target_cups must be positive for fixed_count", nil))
		return
	}

	if err := s.washer.Start(mode, req.TargetCups, req.Program); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse("WASHER_409", "Cannot start washing", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Washing started",
		"mode":    req.Mode,
		"target":  req.TargetCups,
	})
}

// POST /api/v1/washer/stop
func (s *Server) stopWashing(c *gin.Context) {
	s.washer.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "Washing stopped"})
}

// POST /api/v1/washer/emergency-stop
func (s *Server) emergencyStop(c *gin.Context) {
	s.washer.EmergencyStop()
	c.JSON(http.StatusOK, gin.H{"message": "EMERGENCY STOP"})
}

// POST /api/v1/washer/reset
func (s *Server) resetEmergencyStop(c *gin.Context) {
	if s.washer.Running() {
		c.JSON(http.StatusConflict, types.NewErrorResponse("WASHER_409", "Washing is running", nil))
		return
	}
	s.washer.ClearEmergencyStop()
	c.JSON(http.StatusOK, gin.H{"message": "Emergency stop cleared"})
}

// GET /api/v1/logs/cycles
func (s *Server) getWashLog(c *gin.Context) {
	log, err := s.store.WashLog()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("STORE_500", "Failed to read wash log", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": log})
}

// GET /api/v1/logs/errors
func (s *Server) getErrorLog(c *gin.Context) {
	log, err := s.store.ErrorLog()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("STORE_500", "Failed to read error log", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": log})
}
