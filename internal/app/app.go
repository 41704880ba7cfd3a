package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chrissnell/telematics/internal/controllers/api"
	"github.com/chrissnell/telematics/internal/detectors"
	"github.com/chrissnell/telematics/internal/dispatcher"
	"github.com/chrissnell/telematics/internal/managers"
	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown. Without an API
// section, Run returns once every source is exhausted and all alerts have
// been stored.
func (a *App) Run(ctx context.Context) error {
	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hm := storage.NewHealthManager()

	storageManager, err := managers.NewStorageManager(ctx, &wg, cfg.Storage, hm, a.logger.Named("storage"))
	if err != nil {
		return err
	}

	sourceManager, err := managers.NewSourceManager(ctx, cfg.EnabledSources(), cfg.Pipeline.BufferSize, a.logger.Named("source"))
	if err != nil {
		return err
	}

	d := dispatcher.New(DispatcherConfig(cfg.Pipeline), a.logger.Named("dispatcher"))

	if cfg.API != nil {
		ctrl, err := api.NewController(ctx, &wg, *cfg.API, d, sourceManager.Sources(), hm, storageManager.GRPCStream(), a.logger.Named("api"))
		if err != nil {
			return err
		}
		storageManager.AddEngine(ctx, &wg, "api", ctrl)
		if err := ctrl.StartController(); err != nil {
			return err
		}
	}

	alerts := make(chan types.Alert, cfg.Pipeline.BufferSize)

	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- d.Run(ctx, sourceManager.Records())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		MergeAlerts(ctx, d, alerts)
	}()

	distributed := make(chan struct{})
	go func() {
		defer close(distributed)
		storageManager.Distribute(ctx, alerts)
	}()

	if err := sourceManager.StartSources(); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	a.logger.Info("Application started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	finished := distributed
	for done := false; !done; {
		select {
		case <-sigs:
			a.logger.Info("shutdown signal received, initiating graceful shutdown...")
			done = true
		case <-ctx.Done():
			a.logger.Info("context cancelled, shutting down...")
			done = true
		case <-finished:
			stats := d.Stats()
			a.logger.Infow("telemetry input exhausted", "records", stats.Records,
				"speed_alerts", stats.SpeedAlerts, "accident_alerts", stats.AccidentAlerts,
				"avgspeed_alerts", stats.AvgSpeedAlerts)
			if cfg.API == nil {
				done = true
				break
			}
			a.logger.Info("API server still running; waiting for shutdown signal")
			finished = nil
		}
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	a.logger.Info("waiting for all workers to terminate...")
	wg.Wait()
	a.logger.Info("shutdown complete")

	if err := <-pipelineErr; err != nil {
		return fmt.Errorf("pipeline error: %w", err)
	}
	return nil
}

// DispatcherConfig maps the pipeline section onto detector and dispatcher
// settings
func DispatcherConfig(p config.PipelineData) dispatcher.Config {
	factor := detectors.MilesPerSecondToMPH
	if p.PositionUnit == config.UnitMeters {
		factor = detectors.MetersPerSecondToMPH
	}

	return dispatcher.Config{
		Detectors: detectors.Config{
			SpeedLimit:    p.SpeedLimit,
			StopThreshold: p.StopThreshold,
			AvgSpeedLimit: p.AvgSpeedLimit,
			RangeStart:    p.RangeStart,
			RangeEnd:      p.RangeEnd,
			SpeedFactor:   factor,
			IdleTimeout:   p.IdleTimeout,
		},
		Workers:       p.Workers,
		BufferSize:    p.BufferSize,
		SweepInterval: p.SweepInterval,
	}
}

// AlertStreams is the output side of the dispatcher
type AlertStreams interface {
	SpeedAlerts() <-chan types.SpeedAlert
	AccidentAlerts() <-chan types.AccidentAlert
	AvgSpeedAlerts() <-chan types.AvgSpeedAlert
}

// MergeAlerts wraps the three detector outputs in Alert envelopes and sends
// them to out, closing out once all three streams are closed or ctx is
// cancelled
func MergeAlerts(ctx context.Context, s AlertStreams, out chan<- types.Alert) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		forward(ctx, s.SpeedAlerts(), out, types.NewSpeedAlert)
	}()
	go func() {
		defer wg.Done()
		forward(ctx, s.AccidentAlerts(), out, types.NewAccidentAlert)
	}()
	go func() {
		defer wg.Done()
		forward(ctx, s.AvgSpeedAlerts(), out, types.NewAvgSpeedAlert)
	}()
	wg.Wait()
	close(out)
}

func forward[T any](ctx context.Context, in <-chan T, out chan<- types.Alert, wrap func(T) types.Alert) {
	for v := range in {
		select {
		case out <- wrap(v):
		case <-ctx.Done():
			return
		}
	}
}
