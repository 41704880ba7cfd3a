package detectors

import (
	"github.com/chrissnell/telematics/internal/statestore"
	"github.com/chrissnell/telematics/internal/types"
	"go.uber.org/zap"
)

// Phase is the position of a vehicle relative to the monitored segment range
type Phase int

const (
	// Idle means no crossing is in progress
	Idle Phase = iota
	// Entering means the vehicle is reporting from the entry segment
	Entering
	// InRange means the vehicle has left the entry segment and is inside the range
	InRange
	// Exiting means the vehicle is reporting from the exit segment
	Exiting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Entering:
		return "entering"
	case InRange:
		return "in-range"
	case Exiting:
		return "exiting"
	}
	return "unknown"
}

// zone classifies a segment from the point of view of a travel direction
type zone int

const (
	zoneOutside zone = iota
	zoneEntry
	zoneInside
	zoneExit
)

type crossingKey struct {
	vehicle   int
	direction types.Direction
}

// crossing is one vehicle's traversal of the monitored range in one direction
type crossing struct {
	phase  Phase
	entry  types.TelemetryRecord
	latest types.TelemetryRecord
	exit   types.TelemetryRecord
}

// AvgSpeedDetector measures the average speed of vehicles between the first
// and last segment of the monitored range. Each (vehicle, direction) pair has
// its own crossing state machine.
//
// Eastbound vehicles enter at RangeStart and exit at RangeEnd; westbound
// vehicles enter at RangeEnd and exit at RangeStart. When a vehicle reports
// several times from a boundary segment, the record that makes the measured
// distance longer is kept.
type AvgSpeedDetector struct {
	cfg       Config
	crossings *statestore.Store[crossingKey, crossing]
	expired   []types.AvgSpeedAlert
	logger    *zap.SugaredLogger
}

// NewAvgSpeedDetector creates an AvgSpeedDetector
func NewAvgSpeedDetector(cfg Config, logger *zap.SugaredLogger) *AvgSpeedDetector {
	d := &AvgSpeedDetector{
		cfg:    cfg,
		logger: logger,
	}
	d.crossings = statestore.New[crossingKey, crossing](cfg.IdleTimeout, statestore.WithEvictHook[crossingKey, crossing](d.onEvict))
	return d
}

// Process advances the crossing for r's vehicle and direction. It returns an
// AvgSpeedAlert when r finalizes a crossing whose average speed is over the limit.
func (d *AvgSpeedDetector) Process(r types.TelemetryRecord) (types.AvgSpeedAlert, bool) {
	key := crossingKey{vehicle: r.VehicleID, direction: r.Direction}
	z := d.classify(r.Direction, r.Segment)

	// vehicles outside the range don't get a slot until they reach the entry segment
	if _, ok := d.crossings.Get(key); !ok && z != zoneEntry {
		return types.AvgSpeedAlert{}, false
	}
	c := d.crossings.GetOrCreate(key, r.Timestamp)

	if c.phase != Idle && r.Highway != c.entry.Highway {
		d.abort(key, c, r, "highway changed")
	}

	switch c.phase {
	case Idle:
		if z != zoneEntry {
			d.crossings.Remove(key)
			return types.AvgSpeedAlert{}, false
		}
		*c = crossing{phase: Entering, entry: r, latest: r}

	case Entering:
		switch z {
		case zoneEntry:
			if d.progress(r) < d.progress(c.entry) {
				c.entry = r
			}
			c.latest = r
		case zoneInside:
			c.phase = InRange
			c.latest = r
		case zoneExit:
			// a fast vehicle can skip the inner segments between two reports
			c.phase = Exiting
			c.latest = r
			c.exit = r
		default:
			d.abort(key, c, r, "left the range before entering it")
			d.crossings.Remove(key)
		}

	case InRange:
		switch z {
		case zoneInside:
			c.latest = r
		case zoneExit:
			c.phase = Exiting
			c.exit = r
		case zoneEntry:
			// late straggler from the entry segment
		default:
			d.abort(key, c, r, "left the range without reaching the exit segment")
			d.crossings.Remove(key)
		}

	case Exiting:
		switch z {
		case zoneExit:
			if d.progress(r) >= d.progress(c.exit) {
				c.exit = r
			}
		case zoneInside, zoneEntry:
			if d.nextToExit(r.Direction, r.Segment) {
				// late straggler from the last inner segment
				break
			}
			finished := *c
			d.crossings.Remove(key)
			return d.finalize(finished)
		default:
			finished := *c
			d.crossings.Remove(key)
			return d.finalize(finished)
		}
	}

	return types.AvgSpeedAlert{}, false
}

// Expire evicts crossings that have been quiet for longer than the idle
// timeout. Crossings that had already reached the exit segment are finalized
// and any resulting alerts are returned.
func (d *AvgSpeedDetector) Expire(watermark int64) []types.AvgSpeedAlert {
	d.expired = d.expired[:0]
	d.crossings.Sweep(watermark)
	if len(d.expired) == 0 {
		return nil
	}
	alerts := make([]types.AvgSpeedAlert, len(d.expired))
	copy(alerts, d.expired)
	return alerts
}

// Flush ends every tracked crossing. Crossings that had reached the exit
// segment are finalized; the rest are dropped.
func (d *AvgSpeedDetector) Flush() []types.AvgSpeedAlert {
	d.expired = d.expired[:0]
	d.crossings.Drain()
	if len(d.expired) == 0 {
		return nil
	}
	alerts := make([]types.AvgSpeedAlert, len(d.expired))
	copy(alerts, d.expired)
	return alerts
}

// ActiveCrossings returns the number of crossings currently tracked
func (d *AvgSpeedDetector) ActiveCrossings() int {
	return d.crossings.Len()
}

func (d *AvgSpeedDetector) onEvict(key crossingKey, c *crossing) {
	if c.phase != Exiting {
		return
	}
	if a, ok := d.finalize(*c); ok {
		d.expired = append(d.expired, a)
	}
}

// finalize computes the average speed of a completed crossing
func (d *AvgSpeedDetector) finalize(c crossing) (types.AvgSpeedAlert, bool) {
	elapsed := c.exit.Timestamp - c.entry.Timestamp
	if elapsed <= 0 {
		d.logger.Debugw("ignoring crossing with no elapsed time",
			"vehicle", c.entry.VehicleID, "entry_time", c.entry.Timestamp, "exit_time", c.exit.Timestamp)
		return types.AvgSpeedAlert{}, false
	}

	distance := c.exit.Position - c.entry.Position
	if distance < 0 {
		distance = -distance
	}

	mph := float64(distance) / float64(elapsed) * d.cfg.SpeedFactor
	if mph <= d.cfg.AvgSpeedLimit {
		return types.AvgSpeedAlert{}, false
	}

	return types.AvgSpeedAlert{
		VehicleID:    c.entry.VehicleID,
		Highway:      c.entry.Highway,
		Direction:    c.entry.Direction,
		EntryTime:    c.entry.Timestamp,
		ExitTime:     c.exit.Timestamp,
		AverageSpeed: mph,
	}, true
}

// abort discards a crossing that can't be completed and resets it to Idle
func (d *AvgSpeedDetector) abort(key crossingKey, c *crossing, r types.TelemetryRecord, reason string) {
	d.logger.Debugw("aborting crossing",
		"vehicle", key.vehicle, "direction", key.direction, "phase", c.phase,
		"last_segment", c.latest.Segment, "segment", r.Segment, "reason", reason)
	*c = crossing{}
}

func (d *AvgSpeedDetector) classify(dir types.Direction, segment int) zone {
	entry, exit := d.cfg.RangeStart, d.cfg.RangeEnd
	if dir == types.Westbound {
		entry, exit = exit, entry
	}

	switch {
	case segment == entry:
		return zoneEntry
	case segment == exit:
		return zoneExit
	case segment > d.cfg.RangeStart && segment < d.cfg.RangeEnd:
		return zoneInside
	}
	return zoneOutside
}

// nextToExit reports whether segment is the inner segment that borders the
// exit segment for the direction of travel
func (d *AvgSpeedDetector) nextToExit(dir types.Direction, segment int) bool {
	if dir == types.Westbound {
		return segment == d.cfg.RangeStart+1
	}
	return segment == d.cfg.RangeEnd-1
}

// progress maps a position onto the direction of travel so that larger
// values are always further along the road
func (d *AvgSpeedDetector) progress(r types.TelemetryRecord) int64 {
	if r.Direction == types.Westbound {
		return -r.Position
	}
	return r.Position
}
