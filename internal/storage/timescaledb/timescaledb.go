// Package timescaledb stores alerts in a TimescaleDB hypertable.
package timescaledb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/telematics/internal/database"
	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const engineName = "timescaledb"

// Storage holds the connection for a TimescaleDB storage backend
type Storage struct {
	TimescaleDBConn *gorm.DB
	health          *storage.HealthManager
	logger          *zap.SugaredLogger
}

// AlertRecord is one row of the alerts hypertable. The detector output is
// kept whole in Payload; the other columns exist for indexing.
type AlertRecord struct {
	Time      time.Time    `gorm:"column:time"`
	ID        uuid.UUID    `gorm:"column:id;type:uuid"`
	Kind      string       `gorm:"column:kind"`
	VehicleID int          `gorm:"column:vehicle_id"`
	Highway   int          `gorm:"column:highway"`
	Direction int          `gorm:"column:direction"`
	EventTime int64        `gorm:"column:event_time"`
	Payload   pgtype.JSONB `gorm:"column:payload;type:jsonb"`
}

// TableName sets the table for AlertRecord
func (AlertRecord) TableName() string {
	return "alerts"
}

// New connects to TimescaleDB and creates the schema if needed
func New(ctx context.Context, connectionString string, hm *storage.HealthManager, logger *zap.SugaredLogger) (*Storage, error) {
	db, err := database.CreateConnection(connectionString)
	if err != nil {
		return nil, err
	}

	t := &Storage{TimescaleDBConn: db, health: hm, logger: logger}

	steps := []struct {
		desc string
		sql  string
	}{
		{"creating TimescaleDB extension", createExtensionSQL},
		{"creating alerts table", createTableSQL},
		{"creating hypertable", createHypertableSQL},
		{"creating vehicle index", createVehicleIndexSQL},
		{"creating 1h view", createHourlyViewSQL},
		{"adding 1h aggregation policy", addHourlyPolicySQL},
	}
	for _, step := range steps {
		logger.Infof("%s...", step.desc)
		if err := db.WithContext(ctx).Exec(step.sql).Error; err != nil {
			return nil, fmt.Errorf("error %s: %w", step.desc, err)
		}
	}

	return t, nil
}

// StartStorageEngine creates a goroutine loop to receive alerts and send
// them off to TimescaleDB
func (t *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Alert {
	t.logger.Info("starting TimescaleDB storage engine...")
	storage.StartHealthMonitor(ctx, t.health, engineName, t, time.Minute, t.logger)

	alertChan := make(chan types.Alert, 100)
	wg.Add(1)
	go func() {
		defer wg.Done()
		storage.ProcessAlerts(ctx, alertChan, t.StoreAlert, engineName, t.health, t.logger)
	}()
	return alertChan
}

// StoreAlert inserts one alert
func (t *Storage) StoreAlert(a types.Alert) error {
	rec, err := NewAlertRecord(a)
	if err != nil {
		return err
	}
	if err := t.TimescaleDBConn.Create(&rec).Error; err != nil {
		return fmt.Errorf("could not store alert %s: %w", a.ID, err)
	}
	return nil
}

// NewAlertRecord converts an Alert into a table row
func NewAlertRecord(a types.Alert) (AlertRecord, error) {
	rec := AlertRecord{
		Time:      a.DetectedAt,
		ID:        a.ID,
		Kind:      string(a.Kind),
		VehicleID: a.VehicleID(),
		EventTime: a.EventTime(),
	}

	var payload interface{}
	switch {
	case a.Speed != nil:
		rec.Highway, rec.Direction = a.Speed.Highway, int(a.Speed.Direction)
		payload = a.Speed
	case a.Accident != nil:
		rec.Highway, rec.Direction = a.Accident.Highway, int(a.Accident.Direction)
		payload = a.Accident
	case a.AvgSpeed != nil:
		rec.Highway, rec.Direction = a.AvgSpeed.Highway, int(a.AvgSpeed.Direction)
		payload = a.AvgSpeed
	default:
		return AlertRecord{}, fmt.Errorf("alert %s carries no payload", a.ID)
	}

	if err := rec.Payload.Set(payload); err != nil {
		return AlertRecord{}, fmt.Errorf("could not encode alert payload: %w", err)
	}
	return rec, nil
}

// CheckHealth pings the database
func (t *Storage) CheckHealth(ctx context.Context) storage.HealthData {
	if t.TimescaleDBConn == nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "no database connection", fmt.Errorf("TimescaleDB connection is nil"))
	}

	sqlDB, err := t.TimescaleDBConn.DB()
	if err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "failed to get underlying database connection", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "database ping failed", err)
	}

	return storage.CreateHealthData(storage.StatusHealthy, "TimescaleDB connection active", nil)
}
