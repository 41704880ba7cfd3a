package detectors

import (
	"github.com/chrissnell/telematics/internal/statestore"
	"github.com/chrissnell/telematics/internal/types"
)

// runKey identifies the place a vehicle is reporting from. Two records only
// belong to the same run when all four fields match.
type runKey struct {
	highway   int
	lane      int
	direction types.Direction
	position  int64
}

func runKeyOf(r types.TelemetryRecord) runKey {
	return runKey{highway: r.Highway, lane: r.Lane, direction: r.Direction, position: r.Position}
}

// stopRun is the run of consecutive identical positions for one vehicle
type stopRun struct {
	key     runKey
	segment int
	count   int
	start   int64
	last    int64
}

// AccidentDetector tracks, per vehicle, how many consecutive records were
// reported from the same position and flags the vehicle as stopped once the
// threshold is reached
type AccidentDetector struct {
	threshold int
	runs      *statestore.Store[int, stopRun]
}

// NewAccidentDetector creates an AccidentDetector
func NewAccidentDetector(threshold int, idleTimeout int64) *AccidentDetector {
	return &AccidentDetector{
		threshold: threshold,
		runs:      statestore.New[int, stopRun](idleTimeout),
	}
}

// Process folds r into its vehicle's run. It returns an AccidentAlert exactly
// once per run, on the record that brings the count to the threshold.
func (d *AccidentDetector) Process(r types.TelemetryRecord) (types.AccidentAlert, bool) {
	run := d.runs.GetOrCreate(r.VehicleID, r.Timestamp)

	key := runKeyOf(r)
	if run.count == 0 || run.key != key {
		*run = stopRun{
			key:     key,
			segment: r.Segment,
			count:   1,
			start:   r.Timestamp,
			last:    r.Timestamp,
		}
	} else {
		run.count++
		run.last = r.Timestamp
	}

	if run.count != d.threshold {
		return types.AccidentAlert{}, false
	}

	return types.AccidentAlert{
		VehicleID: r.VehicleID,
		Highway:   run.key.highway,
		Lane:      run.key.lane,
		Direction: run.key.direction,
		Segment:   run.segment,
		Position:  run.key.position,
		StartTime: run.start,
		EndTime:   run.last,
	}, true
}

// Sweep evicts runs for vehicles that have been silent for longer than the
// idle timeout
func (d *AccidentDetector) Sweep(watermark int64) int {
	return d.runs.Sweep(watermark)
}

// Reset discards every run
func (d *AccidentDetector) Reset() {
	d.runs.Drain()
}

// ActiveVehicles returns the number of vehicles with a live run
func (d *AccidentDetector) ActiveVehicles() int {
	return d.runs.Len()
}
