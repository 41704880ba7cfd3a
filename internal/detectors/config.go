// Package detectors implements the speeding, stopped-vehicle and
// average-speed detectors that run against the telemetry stream.
package detectors

// MetersPerSecondToMPH converts m/s into miles per hour
const MetersPerSecondToMPH = 2.23694

// MilesPerSecondToMPH converts miles/s into miles per hour
const MilesPerSecondToMPH = 3600.0

// Config holds the detector thresholds
type Config struct {
	// SpeedLimit is the instantaneous limit in mph; speeds strictly above it alert
	SpeedLimit int
	// StopThreshold is the number of identical consecutive positions that
	// marks a vehicle as stopped
	StopThreshold int
	// AvgSpeedLimit is the average speed limit in mph over the monitored range
	AvgSpeedLimit float64
	// RangeStart and RangeEnd are the monitored segment range, both included
	RangeStart int
	RangeEnd   int
	// SpeedFactor converts position units per second into mph. Positions are
	// mile markers unless configured otherwise.
	SpeedFactor float64
	// IdleTimeout is the event-time quiet period, in seconds, after which a
	// vehicle's state is evicted. Zero disables eviction.
	IdleTimeout int64
}

// DefaultConfig returns the thresholds used by the highway authority
func DefaultConfig() Config {
	return Config{
		SpeedLimit:    90,
		StopThreshold: 4,
		AvgSpeedLimit: 60,
		RangeStart:    52,
		RangeEnd:      56,
		SpeedFactor:   MilesPerSecondToMPH,
		IdleTimeout:   300,
	}
}
