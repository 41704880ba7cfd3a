// Package types holds the telemetry record and the alert shapes derived from it.
package types

import "fmt"

// Direction is the travel direction reported by a vehicle
type Direction int

const (
	// Eastbound vehicles travel toward increasing segment numbers
	Eastbound Direction = 0
	// Westbound vehicles travel toward decreasing segment numbers
	Westbound Direction = 1
)

// Valid reports whether d is one of the known directions
func (d Direction) Valid() bool {
	return d == Eastbound || d == Westbound
}

func (d Direction) String() string {
	switch d {
	case Eastbound:
		return "eastbound"
	case Westbound:
		return "westbound"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// TelemetryRecord is a single position report from a vehicle. Records are
// values and are never mutated once parsed.
type TelemetryRecord struct {
	Timestamp int64     `json:"timestamp" msgpack:"timestamp"`
	VehicleID int       `json:"vehicle_id" msgpack:"vehicle_id"`
	Speed     int       `json:"speed" msgpack:"speed"`
	Highway   int       `json:"highway" msgpack:"highway"`
	Lane      int       `json:"lane" msgpack:"lane"`
	Direction Direction `json:"direction" msgpack:"direction"`
	Segment   int       `json:"segment" msgpack:"segment"`
	Position  int64     `json:"position" msgpack:"position"`
}

// String renders the record in the comma-separated input line format
func (r TelemetryRecord) String() string {
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d,%d,%d",
		r.Timestamp, r.VehicleID, r.Speed, r.Highway, r.Lane, int(r.Direction), r.Segment, r.Position)
}
