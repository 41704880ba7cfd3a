// Package csvfile writes alerts to the three fine files used by the traffic
// authority: speedfines.csv, accidents.csv and avgspeedfines.csv.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/types"
	"go.uber.org/zap"
)

const (
	SpeedFile    = "speedfines.csv"
	AccidentFile = "accidents.csv"
	AvgSpeedFile = "avgspeedfines.csv"
)

// Storage appends alerts to CSV files in one directory
type Storage struct {
	dir    string
	health *storage.HealthManager
	logger *zap.SugaredLogger

	files    []*os.File
	speed    *csv.Writer
	accident *csv.Writer
	avgSpeed *csv.Writer
}

// New opens (or creates) the three output files in dir
func New(dir string, hm *storage.HealthManager, logger *zap.SugaredLogger) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create CSV output directory %s: %w", dir, err)
	}

	s := &Storage{dir: dir, health: hm, logger: logger}

	open := func(name string) (*csv.Writer, error) {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", name, err)
		}
		s.files = append(s.files, f)
		return csv.NewWriter(f), nil
	}

	var err error
	if s.speed, err = open(SpeedFile); err != nil {
		s.Close()
		return nil, err
	}
	if s.accident, err = open(AccidentFile); err != nil {
		s.Close()
		return nil, err
	}
	if s.avgSpeed, err = open(AvgSpeedFile); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// StartStorageEngine creates a goroutine loop to receive alerts and append
// them to the CSV files
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Alert {
	s.logger.Infof("starting CSV storage engine in %s...", s.dir)
	s.health.UpdateHealth("csv", storage.CreateHealthData(storage.StatusHealthy, "writing to "+s.dir, nil))

	alertChan := make(chan types.Alert, 100)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.Close()
		storage.ProcessAlerts(ctx, alertChan, s.StoreAlert, "csv", s.health, s.logger)
	}()
	return alertChan
}

// StoreAlert appends one alert to the file for its kind
func (s *Storage) StoreAlert(a types.Alert) error {
	var w *csv.Writer
	var row []string

	switch {
	case a.Speed != nil:
		w, row = s.speed, SpeedRow(*a.Speed)
	case a.Accident != nil:
		w, row = s.accident, AccidentRow(*a.Accident)
	case a.AvgSpeed != nil:
		w, row = s.avgSpeed, AvgSpeedRow(*a.AvgSpeed)
	default:
		return fmt.Errorf("alert %s carries no payload", a.ID)
	}

	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Close flushes and closes the output files
func (s *Storage) Close() error {
	var firstErr error
	for _, w := range []*csv.Writer{s.speed, s.accident, s.avgSpeed} {
		if w != nil {
			w.Flush()
		}
	}
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = nil
	return firstErr
}

// SpeedRow renders Time, VID, XWay, Seg, Dir, Spd
func SpeedRow(a types.SpeedAlert) []string {
	return []string{
		itoa64(a.Timestamp),
		strconv.Itoa(a.VehicleID),
		strconv.Itoa(a.Highway),
		strconv.Itoa(a.Segment),
		strconv.Itoa(int(a.Direction)),
		strconv.Itoa(a.Speed),
	}
}

// AccidentRow renders Time1, Time2, VID, XWay, Seg, Dir, Pos
func AccidentRow(a types.AccidentAlert) []string {
	return []string{
		itoa64(a.StartTime),
		itoa64(a.EndTime),
		strconv.Itoa(a.VehicleID),
		strconv.Itoa(a.Highway),
		strconv.Itoa(a.Segment),
		strconv.Itoa(int(a.Direction)),
		itoa64(a.Position),
	}
}

// AvgSpeedRow renders Time1, Time2, VID, XWay, Dir, AvgSpd
func AvgSpeedRow(a types.AvgSpeedAlert) []string {
	return []string{
		itoa64(a.EntryTime),
		itoa64(a.ExitTime),
		strconv.Itoa(a.VehicleID),
		strconv.Itoa(a.Highway),
		strconv.Itoa(int(a.Direction)),
		strconv.FormatFloat(a.AverageSpeed, 'f', -1, 64),
	}
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
