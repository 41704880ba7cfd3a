package detectors

import (
	"testing"

	"github.com/chrissnell/telematics/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rec(ts int64, vehicle, speed, segment int, position int64) types.TelemetryRecord {
	return types.TelemetryRecord{
		Timestamp: ts,
		VehicleID: vehicle,
		Speed:     speed,
		Highway:   1,
		Lane:      1,
		Direction: types.Eastbound,
		Segment:   segment,
		Position:  position,
	}
}

func westbound(r types.TelemetryRecord) types.TelemetryRecord {
	r.Direction = types.Westbound
	return r
}

func TestSpeedDetector(t *testing.T) {
	d := NewSpeedDetector(90)

	tests := []struct {
		speed int
		alert bool
	}{
		{speed: 0, alert: false},
		{speed: 89, alert: false},
		{speed: 90, alert: false},
		{speed: 91, alert: true},
		{speed: 140, alert: true},
	}

	for _, tt := range tests {
		r := rec(60, 3, tt.speed, 10, 52800)
		a, ok := d.Check(r)
		assert.Equal(t, tt.alert, ok, "speed %d", tt.speed)
		if ok {
			assert.Equal(t, r, a.TelemetryRecord, "alert must be a verbatim copy of the record")
		}
	}
}

func processAccidents(d *AccidentDetector, records ...types.TelemetryRecord) []types.AccidentAlert {
	var alerts []types.AccidentAlert
	for _, r := range records {
		if a, ok := d.Process(r); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

func TestAccidentDetectorEmitsOncePerRun(t *testing.T) {
	d := NewAccidentDetector(4, 0)

	alerts := processAccidents(d,
		rec(0, 7, 0, 20, 105600),
		rec(30, 7, 0, 20, 105600),
		rec(60, 7, 0, 20, 105600),
		rec(90, 7, 0, 20, 105600),
		rec(120, 7, 0, 20, 105600),
		rec(150, 7, 0, 20, 105600),
	)

	require.Len(t, alerts, 1)
	assert.Equal(t, types.AccidentAlert{
		VehicleID: 7,
		Highway:   1,
		Lane:      1,
		Direction: types.Eastbound,
		Segment:   20,
		Position:  105600,
		StartTime: 0,
		EndTime:   90,
	}, alerts[0])
}

func TestAccidentDetectorNoAlert(t *testing.T) {
	sameLaneChange := rec(60, 7, 0, 20, 10)
	sameLaneChange.Lane = 2

	tests := []struct {
		name    string
		records []types.TelemetryRecord
	}{
		{
			name: "fewer than four reports",
			records: []types.TelemetryRecord{
				rec(0, 7, 0, 20, 10), rec(30, 7, 0, 20, 10), rec(60, 7, 0, 20, 10),
			},
		},
		{
			name: "position change resets the run",
			records: []types.TelemetryRecord{
				rec(0, 7, 0, 20, 10), rec(30, 7, 0, 20, 10), rec(60, 7, 0, 20, 10),
				rec(90, 7, 0, 20, 11), rec(120, 7, 0, 20, 11), rec(150, 7, 0, 20, 11),
			},
		},
		{
			name: "lane is part of the run key",
			records: []types.TelemetryRecord{
				rec(0, 7, 0, 20, 10), rec(30, 7, 0, 20, 10), sameLaneChange, rec(90, 7, 0, 20, 10),
			},
		},
		{
			name: "different vehicles never share a run",
			records: []types.TelemetryRecord{
				rec(0, 7, 0, 20, 10), rec(30, 8, 0, 20, 10), rec(60, 7, 0, 20, 10), rec(90, 8, 0, 20, 10),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewAccidentDetector(4, 0)
			assert.Empty(t, processAccidents(d, tt.records...))
		})
	}
}

func TestAccidentDetectorGapDoesNotReset(t *testing.T) {
	d := NewAccidentDetector(4, 0)

	alerts := processAccidents(d,
		rec(0, 7, 0, 20, 10),
		rec(30, 7, 0, 20, 10),
		rec(3000, 7, 0, 20, 10),
		rec(3030, 7, 0, 20, 10),
	)

	require.Len(t, alerts, 1)
	assert.Equal(t, int64(0), alerts[0].StartTime)
	assert.Equal(t, int64(3030), alerts[0].EndTime)
}

func TestAccidentDetectorNewRunAlertsAgain(t *testing.T) {
	d := NewAccidentDetector(4, 0)

	var records []types.TelemetryRecord
	for i := int64(0); i < 4; i++ {
		records = append(records, rec(i*30, 7, 0, 20, 10))
	}
	for i := int64(4); i < 8; i++ {
		records = append(records, rec(i*30, 7, 0, 20, 11))
	}

	alerts := processAccidents(d, records...)
	require.Len(t, alerts, 2)
	assert.Equal(t, int64(10), alerts[0].Position)
	assert.Equal(t, int64(11), alerts[1].Position)
	assert.Equal(t, int64(120), alerts[1].StartTime)
	assert.Equal(t, int64(210), alerts[1].EndTime)
}

func TestAccidentDetectorSweep(t *testing.T) {
	d := NewAccidentDetector(4, 300)

	processAccidents(d, rec(0, 1, 0, 20, 10), rec(500, 2, 0, 20, 10))
	assert.Equal(t, 2, d.ActiveVehicles())

	assert.Equal(t, 1, d.Sweep(500))
	assert.Equal(t, 1, d.ActiveVehicles())
}

// metersConfig is the default setup for Linear Road style positions in meters
func metersConfig() Config {
	cfg := DefaultConfig()
	cfg.SpeedFactor = MetersPerSecondToMPH
	return cfg
}

func newAvgSpeedDetector(cfg Config) *AvgSpeedDetector {
	return NewAvgSpeedDetector(cfg, zap.NewNop().Sugar())
}

func processAvgSpeed(d *AvgSpeedDetector, records ...types.TelemetryRecord) []types.AvgSpeedAlert {
	var alerts []types.AvgSpeedAlert
	for _, r := range records {
		if a, ok := d.Process(r); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

// 21119 m in 600 s is about 78.7 mph
func eastboundCrossing(vehicle int) []types.TelemetryRecord {
	return []types.TelemetryRecord{
		rec(0, vehicle, 80, 51, 270000),
		rec(30, vehicle, 80, 52, 274560),
		rec(150, vehicle, 80, 53, 280000),
		rec(300, vehicle, 80, 54, 285500),
		rec(450, vehicle, 80, 55, 290500),
		rec(630, vehicle, 80, 56, 295679),
		rec(660, vehicle, 80, 57, 301000),
	}
}

func TestAvgSpeedDetectorEastbound(t *testing.T) {
	d := newAvgSpeedDetector(metersConfig())

	alerts := processAvgSpeed(d, eastboundCrossing(9)...)

	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, 9, a.VehicleID)
	assert.Equal(t, types.Eastbound, a.Direction)
	assert.Equal(t, int64(30), a.EntryTime)
	assert.Equal(t, int64(630), a.ExitTime)
	assert.InDelta(t, 21119.0/600.0*MetersPerSecondToMPH, a.AverageSpeed, 1e-9)
	assert.Equal(t, 0, d.ActiveCrossings())
}

func TestAvgSpeedDetectorUnits(t *testing.T) {
	records := []types.TelemetryRecord{
		rec(1000, 4, 50, 52, 5),
		rec(1050, 4, 50, 54, 7),
		rec(1100, 4, 50, 56, 10),
		rec(1130, 4, 50, 57, 12),
	}

	t.Run("mile markers by default", func(t *testing.T) {
		d := newAvgSpeedDetector(DefaultConfig())

		alerts := processAvgSpeed(d, records...)
		require.Len(t, alerts, 1)
		assert.InDelta(t, 180.0, alerts[0].AverageSpeed, 1e-9)
		assert.Equal(t, int64(1000), alerts[0].EntryTime)
		assert.Equal(t, int64(1100), alerts[0].ExitTime)
	})

	t.Run("meters stay under the limit", func(t *testing.T) {
		d := newAvgSpeedDetector(metersConfig())
		assert.Empty(t, processAvgSpeed(d, records...))
	})
}

func TestAvgSpeedDetectorNoAlert(t *testing.T) {
	tests := []struct {
		name    string
		records []types.TelemetryRecord
	}{
		{
			name: "never reaches the exit segment",
			records: []types.TelemetryRecord{
				rec(0, 9, 80, 52, 274560), rec(150, 9, 80, 53, 280000), rec(300, 9, 80, 54, 285500),
				rec(450, 9, 80, 51, 270000),
			},
		},
		{
			name: "turns around while entering",
			records: []types.TelemetryRecord{
				rec(0, 9, 80, 52, 274560), rec(30, 9, 80, 51, 273000), rec(60, 9, 80, 56, 295679), rec(90, 9, 80, 57, 301000),
			},
		},
		{
			name: "joins inside the range",
			records: []types.TelemetryRecord{
				rec(0, 9, 80, 54, 285500), rec(150, 9, 80, 55, 290500), rec(300, 9, 80, 56, 295679), rec(330, 9, 80, 57, 301000),
			},
		},
		{
			name: "under the average speed limit",
			records: []types.TelemetryRecord{
				rec(0, 9, 40, 52, 274560), rec(600, 9, 40, 54, 285500), rec(1200, 9, 40, 56, 295679), rec(1230, 9, 40, 57, 301000),
			},
		},
		{
			name: "no elapsed time",
			records: []types.TelemetryRecord{
				rec(100, 9, 80, 52, 274560), rec(100, 9, 80, 56, 295679), rec(130, 9, 80, 57, 301000),
			},
		},
		{
			name: "still in the exit segment",
			records: []types.TelemetryRecord{
				rec(0, 9, 80, 52, 274560), rec(300, 9, 80, 54, 285500), rec(600, 9, 80, 56, 295679),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newAvgSpeedDetector(metersConfig())
			assert.Empty(t, processAvgSpeed(d, tt.records...))
		})
	}
}

func TestAvgSpeedDetectorBoundarySelection(t *testing.T) {
	t.Run("entry keeps the farther record", func(t *testing.T) {
		d := newAvgSpeedDetector(metersConfig())
		alerts := processAvgSpeed(d,
			rec(0, 9, 80, 52, 275000),
			rec(30, 9, 80, 52, 274600),
			rec(300, 9, 80, 54, 285500),
			rec(630, 9, 80, 56, 295600),
			rec(660, 9, 80, 57, 301000),
		)
		require.Len(t, alerts, 1)
		assert.Equal(t, int64(30), alerts[0].EntryTime)
		assert.InDelta(t, 21000.0/600.0*MetersPerSecondToMPH, alerts[0].AverageSpeed, 1e-9)
	})

	t.Run("entry ignores a nearer record", func(t *testing.T) {
		d := newAvgSpeedDetector(metersConfig())
		alerts := processAvgSpeed(d,
			rec(0, 9, 80, 52, 274600),
			rec(30, 9, 80, 52, 275500),
			rec(300, 9, 80, 54, 285500),
			rec(600, 9, 80, 56, 295600),
			rec(630, 9, 80, 57, 301000),
		)
		require.Len(t, alerts, 1)
		assert.Equal(t, int64(0), alerts[0].EntryTime)
		assert.InDelta(t, 21000.0/600.0*MetersPerSecondToMPH, alerts[0].AverageSpeed, 1e-9)
	})

	t.Run("exit keeps the farther record", func(t *testing.T) {
		d := newAvgSpeedDetector(metersConfig())
		alerts := processAvgSpeed(d,
			rec(0, 9, 80, 52, 274600),
			rec(300, 9, 80, 54, 285500),
			rec(570, 9, 80, 56, 295000),
			rec(600, 9, 80, 56, 295600),
			rec(615, 9, 80, 56, 295100),
			rec(630, 9, 80, 57, 301000),
		)
		require.Len(t, alerts, 1)
		assert.Equal(t, int64(600), alerts[0].ExitTime)
		assert.InDelta(t, 21000.0/600.0*MetersPerSecondToMPH, alerts[0].AverageSpeed, 1e-9)
	})

	t.Run("equal entry positions keep the earlier record", func(t *testing.T) {
		d := newAvgSpeedDetector(metersConfig())
		alerts := processAvgSpeed(d,
			rec(0, 9, 80, 52, 274600),
			rec(30, 9, 80, 52, 274600),
			rec(300, 9, 80, 54, 285500),
			rec(600, 9, 80, 56, 295600),
			rec(630, 9, 80, 57, 301000),
		)
		require.Len(t, alerts, 1)
		assert.Equal(t, int64(0), alerts[0].EntryTime)
		assert.InDelta(t, 21000.0/600.0*MetersPerSecondToMPH, alerts[0].AverageSpeed, 1e-9)
	})

	t.Run("equal exit positions keep the later record", func(t *testing.T) {
		d := newAvgSpeedDetector(metersConfig())
		alerts := processAvgSpeed(d,
			rec(0, 9, 80, 52, 274600),
			rec(300, 9, 80, 54, 285500),
			rec(570, 9, 80, 56, 295600),
			rec(600, 9, 80, 56, 295600),
			rec(630, 9, 80, 57, 301000),
		)
		require.Len(t, alerts, 1)
		assert.Equal(t, int64(600), alerts[0].ExitTime)
		assert.InDelta(t, 21000.0/600.0*MetersPerSecondToMPH, alerts[0].AverageSpeed, 1e-9)
	})
}

func TestAvgSpeedDetectorExitingStragglers(t *testing.T) {
	tests := []struct {
		name      string
		records   []types.TelemetryRecord
		finalized bool
		exitTime  int64
	}{
		{
			name: "last inner segment is ignored",
			records: []types.TelemetryRecord{
				rec(0, 9, 80, 52, 274600), rec(300, 9, 80, 54, 285500), rec(600, 9, 80, 56, 295600),
				rec(610, 9, 80, 55, 295500),
			},
		},
		{
			name: "earlier inner segment finalizes",
			records: []types.TelemetryRecord{
				rec(0, 9, 80, 52, 274600), rec(300, 9, 80, 54, 285500), rec(600, 9, 80, 56, 295600),
				rec(610, 9, 80, 53, 280000),
			},
			finalized: true,
			exitTime:  600,
		},
		{
			name: "entry segment finalizes",
			records: []types.TelemetryRecord{
				rec(0, 9, 80, 52, 274600), rec(300, 9, 80, 54, 285500), rec(600, 9, 80, 56, 295600),
				rec(610, 9, 80, 52, 274700),
			},
			finalized: true,
			exitTime:  600,
		},
		{
			name: "westbound last inner segment is ignored",
			records: []types.TelemetryRecord{
				westbound(rec(0, 9, 80, 56, 295600)), westbound(rec(300, 9, 80, 54, 285500)),
				westbound(rec(600, 9, 80, 52, 274600)), westbound(rec(610, 9, 80, 53, 274700)),
			},
		},
		{
			name: "westbound earlier inner segment finalizes",
			records: []types.TelemetryRecord{
				westbound(rec(0, 9, 80, 56, 295600)), westbound(rec(300, 9, 80, 54, 285500)),
				westbound(rec(600, 9, 80, 52, 274600)), westbound(rec(610, 9, 80, 55, 290000)),
			},
			finalized: true,
			exitTime:  600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newAvgSpeedDetector(metersConfig())
			alerts := processAvgSpeed(d, tt.records...)

			if !tt.finalized {
				assert.Empty(t, alerts)
				assert.Equal(t, 1, d.ActiveCrossings())
				return
			}
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.exitTime, alerts[0].ExitTime)
			assert.Equal(t, 0, d.ActiveCrossings())
		})
	}
}

func TestAvgSpeedDetectorWestbound(t *testing.T) {
	d := newAvgSpeedDetector(metersConfig())

	alerts := processAvgSpeed(d,
		westbound(rec(0, 5, 80, 57, 301000)),
		westbound(rec(30, 5, 80, 56, 295679)),
		westbound(rec(60, 5, 80, 56, 295000)),
		westbound(rec(300, 5, 80, 54, 285500)),
		westbound(rec(630, 5, 80, 52, 274560)),
		westbound(rec(660, 5, 80, 51, 270000)),
	)

	require.Len(t, alerts, 1)
	assert.Equal(t, types.Westbound, alerts[0].Direction)
	assert.Equal(t, int64(30), alerts[0].EntryTime)
	assert.Equal(t, int64(630), alerts[0].ExitTime)
	assert.InDelta(t, 21119.0/600.0*MetersPerSecondToMPH, alerts[0].AverageSpeed, 1e-9)
}

func TestAvgSpeedDetectorDirectionsAreIndependent(t *testing.T) {
	d := newAvgSpeedDetector(metersConfig())

	// a westbound record for the same vehicle must not disturb the eastbound crossing
	records := eastboundCrossing(9)
	interleaved := append([]types.TelemetryRecord{}, records[:3]...)
	interleaved = append(interleaved, westbound(rec(160, 9, 80, 20, 105600)))
	interleaved = append(interleaved, records[3:]...)

	assert.Len(t, processAvgSpeed(d, interleaved...), 1)
}

func TestAvgSpeedDetectorSkippedSegments(t *testing.T) {
	d := newAvgSpeedDetector(metersConfig())

	alerts := processAvgSpeed(d,
		rec(0, 9, 130, 52, 274560),
		rec(300, 9, 130, 56, 295679),
		rec(330, 9, 130, 57, 301000),
	)
	assert.Len(t, alerts, 1)
}

func TestAvgSpeedDetectorHighwayChangeAborts(t *testing.T) {
	d := newAvgSpeedDetector(metersConfig())

	moved := rec(300, 9, 80, 54, 285500)
	moved.Highway = 2

	alerts := processAvgSpeed(d,
		rec(0, 9, 80, 52, 274560),
		moved,
		rec(600, 9, 80, 56, 295679),
		rec(630, 9, 80, 57, 301000),
	)
	assert.Empty(t, alerts)
}

func TestAvgSpeedDetectorExpire(t *testing.T) {
	d := newAvgSpeedDetector(metersConfig())

	// vehicle 1 reaches the exit segment and goes silent, vehicle 2 stalls mid-range
	processAvgSpeed(d,
		rec(0, 1, 80, 52, 274560),
		rec(300, 1, 80, 54, 285500),
		rec(600, 1, 80, 56, 295679),
		rec(0, 2, 80, 52, 274560),
		rec(300, 2, 80, 54, 285500),
	)
	require.Equal(t, 2, d.ActiveCrossings())

	assert.Empty(t, d.Expire(600), "nothing is idle yet")

	alerts := d.Expire(2000)
	require.Len(t, alerts, 1)
	assert.Equal(t, 1, alerts[0].VehicleID)
	assert.Equal(t, int64(600), alerts[0].ExitTime)
	assert.Equal(t, 0, d.ActiveCrossings())
}
