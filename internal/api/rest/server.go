package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/api/websocket"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/calibration"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/config"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/orchestrator"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/robot"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/storage"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/vision"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/washstation"
)

type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	server    *http.Server
	cfg       *config.Config
	wsHub     *websocket.Hub
	washer    *orchestrator.Orchestrator
	link      *robot.Link
	positions *calibration.Set
	store     *storage.JSONStore
	station   *washstation.Station
	preview   *vision.Preview
}

func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	wsHub *websocket.Hub,
	washer *orchestrator.Orchestrator,
	link *robot.Link,
	positions *calibration.Set,
	store *storage.JSONStore,
	station *washstation.Station,
	preview *vision.Preview,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:    gin.New(),
		logger:    logger,
		cfg:       cfg,
		wsHub:     wsHub,
		washer:    washer,
		link:      link,
		positions: positions,
		store:     store,
		station:   station,
		preview:   preview,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Router exposes the gin engine, used by the handler tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	// WebSocket endpoint
	s.router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(s.wsHub, c.Writer, c.Request)
	})

	v1 := s.router.Group("/api/v1")
	{
		washer := v1.Group("/washer")
		{
			washer.GET("/status", s.getStatus)
			washer.POST("/connect", s.connect)
			washer.POST("/disconnect", s.disconnect)
			washer.POST("/home", s.home)
			washer.POST("/cycle", s.runSingleCycle)
			washer.POST("/program-cycle", s.runProgramCycle)
			washer.POST("/start", s.startWashing)
			washer.POST("/stop", s.stopWashing)
			washer.POST("/emergency-stop", s.emergencyStop)
			washer.POST("/reset", s.resetEmergencyStop)
		}

		positions := v1.Group("/positions")
		{
			positions.GET("", s.listPositions)
			positions.PUT("/:name", s.savePosition)
			positions.DELETE("/:name", s.deletePosition)
		}

		programs := v1.Group("/programs")
		{
			programs.GET("", s.listPrograms)
			programs.GET("/:name", s.getProgram)
			programs.PUT("/:name", s.saveProgram)
			programs.DELETE("/:name", s.deleteProgram)
		}

		logs := v1.Group("/logs")
		{
			logs.GET("/cycles", s.getWashLog)
			logs.GET("/errors", s.getErrorLog)
		}

		v1.GET("/settings", s.getSettings)
		v1.PUT("/settings", s.updateSettings)
		v1.GET("/vision/preview", s.getPreview)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"robot_connected": s.link.Connected(),
		"ws_clients":      s.wsHub.GetClientCount(),
		"washer_state":    s.washer.State(),
	})
}
