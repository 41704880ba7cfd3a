// Package sqlite keeps a local alert log in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/migrate"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const engineName = "sqlite"

//go:embed migrations/*.sql
var migrations embed.FS

const insertAlertSQL = `INSERT INTO alerts (id, kind, detected_at, vehicle_id, event_time, payload) VALUES (?, ?, ?, ?, ?, ?)`

// Storage writes alerts to SQLite
type Storage struct {
	db     *sql.DB
	health *storage.HealthManager
	logger *zap.SugaredLogger
}

// New opens the database at path in WAL mode and ensures the schema exists
func New(ctx context.Context, path string, hm *storage.HealthManager, logger *zap.SugaredLogger) (*Storage, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if err := migrate.NewMigrator(db, migrate.NewFSProvider(migrations, "migrations", ""), logger).MigrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate SQLite database: %w", err)
	}

	logger.Infof("connected to SQLite alert log %s", path)
	return &Storage{db: db, health: hm, logger: logger}, nil
}

// StartStorageEngine creates a goroutine loop to receive alerts and insert
// them into SQLite
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Alert {
	s.logger.Info("starting SQLite storage engine...")
	storage.StartHealthMonitor(ctx, s.health, engineName, s, time.Minute, s.logger)

	alertChan := make(chan types.Alert, 100)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.db.Close()
		storage.ProcessAlerts(ctx, alertChan, s.StoreAlert, engineName, s.health, s.logger)
	}()
	return alertChan
}

// StoreAlert inserts one alert
func (s *Storage) StoreAlert(a types.Alert) error {
	var payload interface{}
	switch {
	case a.Speed != nil:
		payload = a.Speed
	case a.Accident != nil:
		payload = a.Accident
	case a.AvgSpeed != nil:
		payload = a.AvgSpeed
	default:
		return fmt.Errorf("alert %s carries no payload", a.ID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not encode alert payload: %w", err)
	}

	_, err = s.db.Exec(insertAlertSQL,
		a.ID.String(), string(a.Kind), a.DetectedAt.UTC().Format(time.RFC3339Nano),
		a.VehicleID(), a.EventTime(), string(body))
	if err != nil {
		return fmt.Errorf("could not store alert %s: %w", a.ID, err)
	}
	return nil
}

// CountByKind returns how many alerts of each kind are stored
func (s *Storage) CountByKind(ctx context.Context) (map[types.AlertKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, count(*) FROM alerts GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.AlertKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[types.AlertKind(kind)] = n
	}
	return counts, rows.Err()
}

// VehicleAlerts returns alert counts per kind for one vehicle
func (s *Storage) VehicleAlerts(ctx context.Context, vehicleID int) (map[types.AlertKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, alerts FROM vehicle_alert_counts WHERE vehicle_id = ?`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.AlertKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[types.AlertKind(kind)] = n
	}
	return counts, rows.Err()
}

// CheckHealth pings the database
func (s *Storage) CheckHealth(ctx context.Context) storage.HealthData {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "database ping failed", err)
	}
	return storage.CreateHealthData(storage.StatusHealthy, "SQLite alert log open", nil)
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}
