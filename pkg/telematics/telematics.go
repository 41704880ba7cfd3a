// Package telematics exposes the detectors as lazy sequences.
//
// Each function consumes a sequence of telemetry records and yields one kind of
// alert. The three sequences are independent: each one runs its own detector
// over the records, so a caller interested in a single alert kind pays only for
// that detector. Records must be ordered per vehicle; vehicles may interleave
// freely.
package telematics

import (
	"iter"

	"github.com/chrissnell/telematics/internal/detectors"
	"github.com/chrissnell/telematics/internal/types"
	"go.uber.org/zap"
)

// sweepEvery is how many records pass between inactivity sweeps
const sweepEvery = 1024

// SpeedAlerts yields a SpeedAlert for every record faster than cfg.SpeedLimit
func SpeedAlerts(records iter.Seq[types.TelemetryRecord], cfg detectors.Config) iter.Seq[types.SpeedAlert] {
	return func(yield func(types.SpeedAlert) bool) {
		d := detectors.NewSpeedDetector(cfg.SpeedLimit)
		for r := range records {
			if a, ok := d.Check(r); ok {
				if !yield(a) {
					return
				}
			}
		}
	}
}

// AccidentAlerts yields an AccidentAlert each time a vehicle reports the same
// position cfg.StopThreshold times in a row
func AccidentAlerts(records iter.Seq[types.TelemetryRecord], cfg detectors.Config) iter.Seq[types.AccidentAlert] {
	return func(yield func(types.AccidentAlert) bool) {
		d := detectors.NewAccidentDetector(cfg.StopThreshold, cfg.IdleTimeout)

		var watermark int64
		n := 0
		for r := range records {
			watermark = max(watermark, r.Timestamp)
			if a, ok := d.Process(r); ok {
				if !yield(a) {
					return
				}
			}
			if n++; n%sweepEvery == 0 {
				d.Sweep(watermark)
			}
		}
	}
}

// AvgSpeedAlerts yields an AvgSpeedAlert for every crossing of the monitored
// segment range whose average speed exceeds cfg.AvgSpeedLimit. Crossings still
// on the exit segment when records ends are finalized before the sequence ends.
func AvgSpeedAlerts(records iter.Seq[types.TelemetryRecord], cfg detectors.Config, logger *zap.SugaredLogger) iter.Seq[types.AvgSpeedAlert] {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return func(yield func(types.AvgSpeedAlert) bool) {
		d := detectors.NewAvgSpeedDetector(cfg, logger)

		var watermark int64
		n := 0
		for r := range records {
			watermark = max(watermark, r.Timestamp)
			if a, ok := d.Process(r); ok {
				if !yield(a) {
					return
				}
			}
			if n++; n%sweepEvery != 0 {
				continue
			}
			for _, a := range d.Expire(watermark) {
				if !yield(a) {
					return
				}
			}
		}

		for _, a := range d.Flush() {
			if !yield(a) {
				return
			}
		}
	}
}
