package types

import (
	"time"

	"github.com/google/uuid"
)

// AlertKind identifies which detector produced an alert
type AlertKind string

const (
	SpeedAlertKind    AlertKind = "speed"
	AccidentAlertKind AlertKind = "accident"
	AvgSpeedAlertKind AlertKind = "avgspeed"
)

// ParseAlertKind converts a string such as a query parameter into an AlertKind
func ParseAlertKind(s string) (AlertKind, bool) {
	switch AlertKind(s) {
	case SpeedAlertKind, AccidentAlertKind, AvgSpeedAlertKind:
		return AlertKind(s), true
	}
	return "", false
}

// SpeedAlert is a verbatim copy of a record that exceeded the speed limit
type SpeedAlert struct {
	TelemetryRecord
}

// AccidentAlert reports a vehicle that sent the same position repeatedly.
// StartTime is the timestamp of the first record in the run and EndTime the
// timestamp of the record that reached the stop threshold.
type AccidentAlert struct {
	VehicleID int       `json:"vehicle_id" msgpack:"vehicle_id"`
	Highway   int       `json:"highway" msgpack:"highway"`
	Lane      int       `json:"lane" msgpack:"lane"`
	Direction Direction `json:"direction" msgpack:"direction"`
	Segment   int       `json:"segment" msgpack:"segment"`
	Position  int64     `json:"position" msgpack:"position"`
	StartTime int64     `json:"start_time" msgpack:"start_time"`
	EndTime   int64     `json:"end_time" msgpack:"end_time"`
}

// AvgSpeedAlert reports a crossing of the monitored segment range whose
// average speed exceeded the limit
type AvgSpeedAlert struct {
	VehicleID    int       `json:"vehicle_id" msgpack:"vehicle_id"`
	Highway      int       `json:"highway" msgpack:"highway"`
	Direction    Direction `json:"direction" msgpack:"direction"`
	EntryTime    int64     `json:"entry_time" msgpack:"entry_time"`
	ExitTime     int64     `json:"exit_time" msgpack:"exit_time"`
	AverageSpeed float64   `json:"average_speed" msgpack:"average_speed"`
}

// Alert wraps one detector output for delivery to storage engines and API
// clients. Exactly one of Speed, Accident or AvgSpeed is set, matching Kind.
type Alert struct {
	ID         uuid.UUID      `json:"id" msgpack:"id"`
	Kind       AlertKind      `json:"kind" msgpack:"kind"`
	DetectedAt time.Time      `json:"detected_at" msgpack:"detected_at"`
	Speed      *SpeedAlert    `json:"speed,omitempty" msgpack:"speed,omitempty"`
	Accident   *AccidentAlert `json:"accident,omitempty" msgpack:"accident,omitempty"`
	AvgSpeed   *AvgSpeedAlert `json:"avgspeed,omitempty" msgpack:"avgspeed,omitempty"`
}

// NewSpeedAlert wraps a SpeedAlert in an Alert envelope
func NewSpeedAlert(a SpeedAlert) Alert {
	return Alert{ID: uuid.New(), Kind: SpeedAlertKind, DetectedAt: time.Now(), Speed: &a}
}

// NewAccidentAlert wraps an AccidentAlert in an Alert envelope
func NewAccidentAlert(a AccidentAlert) Alert {
	return Alert{ID: uuid.New(), Kind: AccidentAlertKind, DetectedAt: time.Now(), Accident: &a}
}

// NewAvgSpeedAlert wraps an AvgSpeedAlert in an Alert envelope
func NewAvgSpeedAlert(a AvgSpeedAlert) Alert {
	return Alert{ID: uuid.New(), Kind: AvgSpeedAlertKind, DetectedAt: time.Now(), AvgSpeed: &a}
}

// VehicleID returns the vehicle the alert refers to
func (a Alert) VehicleID() int {
	switch {
	case a.Speed != nil:
		return a.Speed.VehicleID
	case a.Accident != nil:
		return a.Accident.VehicleID
	case a.AvgSpeed != nil:
		return a.AvgSpeed.VehicleID
	}
	return 0
}

// EventTime returns the telemetry timestamp that triggered the alert
func (a Alert) EventTime() int64 {
	switch {
	case a.Speed != nil:
		return a.Speed.Timestamp
	case a.Accident != nil:
		return a.Accident.EndTime
	case a.AvgSpeed != nil:
		return a.AvgSpeed.ExitTime
	}
	return 0
}
