package detectors

import "github.com/chrissnell/telematics/internal/types"

// SpeedDetector flags records whose reported speed is over the limit
type SpeedDetector struct {
	limit int
}

// NewSpeedDetector creates a SpeedDetector with the given limit in mph
func NewSpeedDetector(limit int) *SpeedDetector {
	return &SpeedDetector{limit: limit}
}

// Check returns a SpeedAlert for r if r.Speed is strictly greater than the limit
func (d *SpeedDetector) Check(r types.TelemetryRecord) (types.SpeedAlert, bool) {
	if r.Speed <= d.limit {
		return types.SpeedAlert{}, false
	}
	return types.SpeedAlert{TelemetryRecord: r}, true
}
