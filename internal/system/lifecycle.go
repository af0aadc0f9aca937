// Package system wires the components together and owns startup and
// shutdown ordering.
package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/api/rest"
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

type LifecycleManager struct {
	config    *config.Config
	logger    *zap.Logger
	store     *storage.JSONStore
	link      *robot.Link
	positions *calibration.Set
	gate      *vision.Gate
	preview   *vision.Preview
	station   *washstation.Station
	washer    *orchestrator.Orchestrator
	hub       *websocket.Hub

	restServer *rest.Server

	shutdownOnce sync.Once
}

// statusAdapter exposes the orchestrator status to the websocket hub.
type statusAdapter struct {
	washer *orchestrator.Orchestrator
}

func (a statusAdapter) GetStatus() any { return a.washer.Status() }

// NewLifecycleManager builds the full component graph. The camera
// detector and frame source are injected so the core stays free of any
// inference backend.
func NewLifecycleManager(
	cfg *config.Config,
	logger *zap.Logger,
	detector vision.Detector,
	frames vision.FrameSource,
) (*LifecycleManager, error) {
	validator, err := program.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("program validator: %w", err)
	}

	store, err := storage.NewJSONStore(logger, cfg.Storage.DataDir, validator)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	positions := calibration.NewSet(store)
	if err := positions.Load(); err != nil {
		return nil, err
	}
	logger.Info("Calibration loaded", zap.Int("positions", positions.Len()))

	// Gespeicherte Settings überschreiben die Config-Defaults.
	if settings, ok, err := store.LoadSettings(); err != nil {
		logger.Warn("Stored settings unreadable, using config defaults", zap.Error(err))
	} else if ok {
		cfg.Vision.ConfidenceThreshold = settings.ConfidenceThreshold
		cfg.Vision.ProgramConfidenceThreshold = settings.ProgramConfidenceThreshold
		cfg.Washing.BrushSpeed = settings.BrushSpeed
		cfg.Washing.WaterFlow = settings.WaterFlow
		cfg.Washing.WashDuration = time.Duration(settings.WashDurationSeconds * float64(time.Second))
		cfg.Washing.RinseDuration = time.Duration(settings.RinseDurationSeconds * float64(time.Second))
		logger.Info("Stored settings applied")
	}

	link := robot.NewLink(logger, cfg.Robot.Port, cfg.Robot.Baudrate, cfg.Robot.SettleDelay,
		robot.WithReplyTimeout(cfg.Robot.ReplyTimeout))

	gate := vision.NewGate(logger, detector, cfg.Vision.RequiredFrames, cfg.Vision.Cooldown)
	station := washstation.NewStation(logger, cfg.Washing.BrushSpeed, cfg.Washing.WaterFlow)
	hub := websocket.NewHub(logger)

	washer := orchestrator.New(logger, link, gate, frames, positions, station, store, hub, orchestrator.Config{
		ConfidenceThreshold:        cfg.Vision.ConfidenceThreshold,
		ProgramConfidenceThreshold: cfg.Vision.ProgramConfidenceThreshold,
		MaxWaitFrames:              cfg.Vision.MaxWaitFrames,
		WashDuration:               cfg.Washing.WashDuration,
		RinseDuration:              cfg.Washing.RinseDuration,
		TravelFeedrate:             cfg.Robot.ArmSpeed,
	})
	hub.SetStatusProvider(statusAdapter{washer: washer})

	// The preview loop owns its own gate so its counters never leak
	// into a running detection wait.
	preview := vision.NewPreview(logger, frames, detector, hub,
		cfg.Vision.ConfidenceThreshold, cfg.Vision.FrameInterval)

	lm := &LifecycleManager{
		config:    cfg,
		logger:    logger,
		store:     store,
		link:      link,
		positions: positions,
		gate:      gate,
		preview:   preview,
		station:   station,
		washer:    washer,
		hub:       hub,
	}
	lm.restServer = rest.NewServer(cfg, logger, hub, washer, link, positions, store, station, preview)
	return lm, nil
}

// Washer returns the cycle orchestrator.
func (lm *LifecycleManager) Washer() *orchestrator.Orchestrator {
	return lm.washer
}

// Start brings the system up: websocket hub, camera preview, REST API.
// The robot connection is attempted but a failure is not fatal; the
// operator can connect later through the API.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting cup washing system")

	go lm.hub.Run()
	lm.preview.Start()

	if err := lm.link.Connect(); err != nil {
		lm.logger.Warn("Robot not connected at startup", zap.Error(err))
	}

	if err := lm.restServer.Start(); err != nil {
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort))
	return nil
}

// Shutdown stops the run loop, the preview, the HTTP server and closes
// the serial port, in that order.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var err error
	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down")

		lm.washer.Stop()
		lm.preview.Stop()

		if e := lm.restServer.Shutdown(ctx); e != nil {
			err = e
		}
		if e := lm.link.Disconnect(); e != nil {
			lm.logger.Warn("Serial port close failed", zap.Error(e))
		}
	})
	return err
}
