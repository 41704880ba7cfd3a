package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chrissnell/telematics/internal/detectors"
	"github.com/chrissnell/telematics/internal/dispatcher"
	"github.com/chrissnell/telematics/internal/storage/csvfile"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	"go.uber.org/zap"
)

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "cardata.txt")
	lines := "" +
		"0,8,0,1,0,0,3,17000\n" +
		"10,7,120,1,0,0,20,105600\n" +
		"30,8,0,1,0,0,3,17000\n" +
		"60,8,0,1,0,0,3,17000\n" +
		"90,8,0,1,0,0,3,17000\n" +
		"garbage\n"
	if err := os.WriteFile(input, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	cfgPath := filepath.Join(dir, "telematics.yaml")
	cfgBody := fmt.Sprintf(`
pipeline:
  workers: 2
sources:
  - name: cardata
    type: file
    path: %s
storage:
  csv:
    directory: %s
`, input, out)
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := New(config.NewYAMLProvider(cfgPath), zap.NewNop().Sugar()).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run() did not return when the input was exhausted")
	}

	tests := []struct {
		file string
		want string
	}{
		{file: csvfile.SpeedFile, want: "10,7,1,20,0,120\n"},
		{file: csvfile.AccidentFile, want: "0,90,8,1,3,0,17000\n"},
		{file: csvfile.AvgSpeedFile, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			b, err := os.ReadFile(filepath.Join(out, tt.file))
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != tt.want {
				t.Errorf("%s = %q, want %q", tt.file, b, tt.want)
			}
		})
	}
}

func TestRunBadConfig(t *testing.T) {
	if err := New(config.NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")), zap.NewNop().Sugar()).Run(context.Background()); err == nil {
		t.Error("Run() with a missing config file succeeded")
	}
}

func TestDispatcherConfig(t *testing.T) {
	p := config.PipelineData{SpeedLimit: 70, StopThreshold: 3, AvgSpeedLimit: 55, RangeStart: 10, RangeEnd: 20,
		Workers: 6, BufferSize: 64, IdleTimeout: 120, SweepInterval: 50, PositionUnit: config.UnitMiles}

	got := DispatcherConfig(p)
	want := dispatcher.Config{
		Detectors: detectors.Config{SpeedLimit: 70, StopThreshold: 3, AvgSpeedLimit: 55, RangeStart: 10, RangeEnd: 20,
			SpeedFactor: detectors.MilesPerSecondToMPH, IdleTimeout: 120},
		Workers: 6, BufferSize: 64, SweepInterval: 50,
	}
	if got != want {
		t.Errorf("DispatcherConfig() = %+v, want %+v", got, want)
	}

	p.PositionUnit = config.UnitMeters
	if f := DispatcherConfig(p).Detectors.SpeedFactor; f != detectors.MetersPerSecondToMPH {
		t.Errorf("SpeedFactor for meters = %v", f)
	}
	p.PositionUnit = ""
	if f := DispatcherConfig(p).Detectors.SpeedFactor; f != detectors.MilesPerSecondToMPH {
		t.Errorf("SpeedFactor without a unit = %v, want miles", f)
	}
}

type fakeStreams struct {
	speed    chan types.SpeedAlert
	accident chan types.AccidentAlert
	avgSpeed chan types.AvgSpeedAlert
}

func (f fakeStreams) SpeedAlerts() <-chan types.SpeedAlert       { return f.speed }
func (f fakeStreams) AccidentAlerts() <-chan types.AccidentAlert { return f.accident }
func (f fakeStreams) AvgSpeedAlerts() <-chan types.AvgSpeedAlert { return f.avgSpeed }

func TestMergeAlerts(t *testing.T) {
	s := fakeStreams{
		speed:    make(chan types.SpeedAlert, 2),
		accident: make(chan types.AccidentAlert, 1),
		avgSpeed: make(chan types.AvgSpeedAlert, 1),
	}
	s.speed <- types.SpeedAlert{TelemetryRecord: types.TelemetryRecord{VehicleID: 1}}
	s.speed <- types.SpeedAlert{TelemetryRecord: types.TelemetryRecord{VehicleID: 2}}
	s.accident <- types.AccidentAlert{VehicleID: 3}
	s.avgSpeed <- types.AvgSpeedAlert{VehicleID: 4}
	close(s.speed)
	close(s.accident)
	close(s.avgSpeed)

	out := make(chan types.Alert, 10)
	MergeAlerts(context.Background(), s, out)

	kinds := map[types.AlertKind]int{}
	for a := range out {
		kinds[a.Kind]++
	}
	want := map[types.AlertKind]int{types.SpeedAlertKind: 2, types.AccidentAlertKind: 1, types.AvgSpeedAlertKind: 1}
	for k, n := range want {
		if kinds[k] != n {
			t.Errorf("%s alerts = %d, want %d", k, kinds[k], n)
		}
	}
}
