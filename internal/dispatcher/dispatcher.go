// Package dispatcher fans telemetry records out to the detectors.
//
// Records are partitioned by vehicle id across a fixed number of worker
// goroutines. Every record for a given vehicle lands on the same worker, so
// each vehicle's records are processed in arrival order while different
// vehicles are processed in parallel. Workers share no mutable state.
package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/chrissnell/telematics/internal/detectors"
	"github.com/chrissnell/telematics/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config controls the dispatcher's parallelism
type Config struct {
	Detectors     detectors.Config
	Workers       int
	BufferSize    int
	SweepInterval int
}

// Stats is a snapshot of the dispatcher's counters
type Stats struct {
	Records        uint64 `json:"records"`
	SpeedAlerts    uint64 `json:"speed_alerts"`
	AccidentAlerts uint64 `json:"accident_alerts"`
	AvgSpeedAlerts uint64 `json:"avgspeed_alerts"`
}

// Dispatcher routes records to per-vehicle worker pipelines and exposes the
// three alert streams. All three output channels must be drained; a stalled
// consumer eventually stalls the workers.
type Dispatcher struct {
	cfg    Config
	logger *zap.SugaredLogger

	speedOut    chan types.SpeedAlert
	accidentOut chan types.AccidentAlert
	avgSpeedOut chan types.AvgSpeedAlert

	records        atomic.Uint64
	speedAlerts    atomic.Uint64
	accidentAlerts atomic.Uint64
	avgSpeedAlerts atomic.Uint64
}

// New creates a Dispatcher
func New(cfg Config, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BufferSize < 0 {
		cfg.BufferSize = 0
	}

	return &Dispatcher{
		cfg:         cfg,
		logger:      logger,
		speedOut:    make(chan types.SpeedAlert, cfg.BufferSize),
		accidentOut: make(chan types.AccidentAlert, cfg.BufferSize),
		avgSpeedOut: make(chan types.AvgSpeedAlert, cfg.BufferSize),
	}
}

// SpeedAlerts returns the speeding alert stream
func (d *Dispatcher) SpeedAlerts() <-chan types.SpeedAlert {
	return d.speedOut
}

// AccidentAlerts returns the stopped-vehicle alert stream
func (d *Dispatcher) AccidentAlerts() <-chan types.AccidentAlert {
	return d.accidentOut
}

// AvgSpeedAlerts returns the average-speed alert stream
func (d *Dispatcher) AvgSpeedAlerts() <-chan types.AvgSpeedAlert {
	return d.avgSpeedOut
}

// Stats returns the current counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Records:        d.records.Load(),
		SpeedAlerts:    d.speedAlerts.Load(),
		AccidentAlerts: d.accidentAlerts.Load(),
		AvgSpeedAlerts: d.avgSpeedAlerts.Load(),
	}
}

// Run consumes records from in until it is closed or ctx is cancelled. The
// output channels are closed when Run returns. When in is closed, crossings
// that already reached the exit segment are finalized before Run returns.
// Cancellation discards all in-flight vehicle state.
func (d *Dispatcher) Run(ctx context.Context, in <-chan types.TelemetryRecord) error {
	defer close(d.speedOut)
	defer close(d.accidentOut)
	defer close(d.avgSpeedOut)

	d.logger.Infof("starting telemetry dispatcher with %d workers", d.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)

	shards := make([]chan types.TelemetryRecord, d.cfg.Workers)
	for i := range shards {
		shards[i] = make(chan types.TelemetryRecord, d.cfg.BufferSize)
		shard := shards[i]
		g.Go(func() error {
			return d.runWorker(gctx, shard)
		})
	}

	g.Go(func() error {
		defer func() {
			for _, s := range shards {
				close(s)
			}
		}()

		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case r, ok := <-in:
				if !ok {
					return nil
				}
				d.records.Add(1)
				select {
				case shards[d.shardFor(r.VehicleID)] <- r:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		d.logger.Info("cancellation request received. Stopping telemetry dispatcher")
		return nil
	}
	return err
}

func (d *Dispatcher) shardFor(vehicleID int) int {
	return int(uint(vehicleID) % uint(d.cfg.Workers))
}

func (d *Dispatcher) runWorker(ctx context.Context, in <-chan types.TelemetryRecord) error {
	p := NewPipeline(d.cfg.Detectors, d.cfg.SweepInterval, d.logger)

	for r := range in {
		res := p.Process(r)

		if res.Speed != nil {
			if err := send(ctx, d.speedOut, *res.Speed); err != nil {
				return err
			}
			d.speedAlerts.Add(1)
		}
		if res.Accident != nil {
			if err := send(ctx, d.accidentOut, *res.Accident); err != nil {
				return err
			}
			d.accidentAlerts.Add(1)
		}
		if res.AvgSpeed != nil {
			if err := send(ctx, d.avgSpeedOut, *res.AvgSpeed); err != nil {
				return err
			}
			d.avgSpeedAlerts.Add(1)
		}
		if err := d.emitAvgSpeed(ctx, res.Expired); err != nil {
			return err
		}
	}

	// the input was closed rather than cancelled
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return d.emitAvgSpeed(ctx, p.Flush())
}

func (d *Dispatcher) emitAvgSpeed(ctx context.Context, alerts []types.AvgSpeedAlert) error {
	for _, a := range alerts {
		if err := send(ctx, d.avgSpeedOut, a); err != nil {
			return err
		}
		d.avgSpeedAlerts.Add(1)
	}
	return nil
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
