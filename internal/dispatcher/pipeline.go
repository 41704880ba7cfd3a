package dispatcher

import (
	"github.com/chrissnell/telematics/internal/detectors"
	"github.com/chrissnell/telematics/internal/types"
	"go.uber.org/zap"
)

// Result holds whatever the detectors produced for a single record
type Result struct {
	Speed    *types.SpeedAlert
	Accident *types.AccidentAlert
	AvgSpeed *types.AvgSpeedAlert
	// Expired holds average-speed alerts for crossings finalized by an
	// inactivity sweep that ran after this record
	Expired []types.AvgSpeedAlert
}

// Pipeline runs the three detectors for one partition of the vehicle space.
// It is not safe for concurrent use; the Dispatcher gives each worker its own.
type Pipeline struct {
	speed         *detectors.SpeedDetector
	accident      *detectors.AccidentDetector
	avgSpeed      *detectors.AvgSpeedDetector
	sweepInterval int
	sinceSweep    int
	watermark     int64
}

// NewPipeline creates a Pipeline. A sweepInterval of zero or less disables
// automatic inactivity sweeps.
func NewPipeline(cfg detectors.Config, sweepInterval int, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		speed:         detectors.NewSpeedDetector(cfg.SpeedLimit),
		accident:      detectors.NewAccidentDetector(cfg.StopThreshold, cfg.IdleTimeout),
		avgSpeed:      detectors.NewAvgSpeedDetector(cfg, logger),
		sweepInterval: sweepInterval,
	}
}

// Process hands r to every detector
func (p *Pipeline) Process(r types.TelemetryRecord) Result {
	var res Result

	if r.Timestamp > p.watermark {
		p.watermark = r.Timestamp
	}

	if a, ok := p.speed.Check(r); ok {
		res.Speed = &a
	}
	if a, ok := p.accident.Process(r); ok {
		res.Accident = &a
	}
	if a, ok := p.avgSpeed.Process(r); ok {
		res.AvgSpeed = &a
	}

	p.sinceSweep++
	if p.sweepInterval > 0 && p.sinceSweep >= p.sweepInterval {
		res.Expired = p.Sweep()
	}

	return res
}

// Sweep evicts idle vehicle state relative to the newest timestamp this
// pipeline has seen and returns alerts for crossings it finalized. The
// watermark is shared by every vehicle in the shard, so a silent vehicle can
// lose its stop run to event time advanced by its neighbours.
func (p *Pipeline) Sweep() []types.AvgSpeedAlert {
	p.sinceSweep = 0
	p.accident.Sweep(p.watermark)
	return p.avgSpeed.Expire(p.watermark)
}

// Flush is called when the input ends. It finalizes crossings that had
// reached the exit segment and discards all other state.
func (p *Pipeline) Flush() []types.AvgSpeedAlert {
	p.sinceSweep = 0
	p.accident.Reset()
	return p.avgSpeed.Flush()
}

// Watermark returns the newest record timestamp seen so far
func (p *Pipeline) Watermark() int64 {
	return p.watermark
}
