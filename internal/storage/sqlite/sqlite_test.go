package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/types"
	"go.uber.org/zap"
)

func TestSQLiteStorage(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, filepath.Join(t.TempDir(), "alerts.db"), storage.NewHealthManager(), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	alerts := []types.Alert{
		types.NewSpeedAlert(types.SpeedAlert{TelemetryRecord: types.TelemetryRecord{Timestamp: 10, VehicleID: 1, Speed: 99}}),
		types.NewSpeedAlert(types.SpeedAlert{TelemetryRecord: types.TelemetryRecord{Timestamp: 40, VehicleID: 1, Speed: 101}}),
		types.NewAccidentAlert(types.AccidentAlert{VehicleID: 2, StartTime: 0, EndTime: 90}),
	}
	for _, a := range alerts {
		if err := s.StoreAlert(a); err != nil {
			t.Fatalf("StoreAlert() error = %v", err)
		}
	}

	// ids are primary keys
	if err := s.StoreAlert(alerts[0]); err == nil {
		t.Error("storing the same alert twice succeeded")
	}

	counts, err := s.CountByKind(ctx)
	if err != nil {
		t.Fatalf("CountByKind() error = %v", err)
	}
	if counts[types.SpeedAlertKind] != 2 || counts[types.AccidentAlertKind] != 1 || counts[types.AvgSpeedAlertKind] != 0 {
		t.Errorf("CountByKind() = %v", counts)
	}

	var payload string
	err = s.db.QueryRowContext(ctx, `SELECT payload FROM alerts WHERE id = ?`, alerts[2].ID.String()).Scan(&payload)
	if err != nil {
		t.Fatal(err)
	}
	if payload != `{"vehicle_id":2,"highway":0,"lane":0,"direction":0,"segment":0,"position":0,"start_time":0,"end_time":90}` {
		t.Errorf("payload = %s", payload)
	}

	perVehicle, err := s.VehicleAlerts(ctx, 1)
	if err != nil {
		t.Fatalf("VehicleAlerts() error = %v", err)
	}
	if len(perVehicle) != 1 || perVehicle[types.SpeedAlertKind] != 2 {
		t.Errorf("VehicleAlerts(1) = %v", perVehicle)
	}

	if h := s.CheckHealth(ctx); h.Status != storage.StatusHealthy {
		t.Errorf("CheckHealth() = %+v", h)
	}
}
