package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/storage/csvfile"
	"github.com/chrissnell/telematics/internal/storage/grpcstream"
	"github.com/chrissnell/telematics/internal/storage/sqlite"
	"github.com/chrissnell/telematics/internal/storage/timescaledb"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	"go.uber.org/zap"
)

// StorageManager holds our active storage backends
type StorageManager struct {
	Engines []StorageEngine
	Health  *storage.HealthManager

	stream *grpcstream.Storage
	logger *zap.SugaredLogger
}

// StorageEngine holds a backend storage engine's interface as well as
// a channel for passing alerts to the engine
type StorageEngine struct {
	Name   string
	Engine storage.StorageEngineInterface
	C      chan<- types.Alert
}

// NewStorageManager creates a StorageManager object, populated with all
// configured StorageEngines
func NewStorageManager(ctx context.Context, wg *sync.WaitGroup, c config.StorageData, hm *storage.HealthManager, logger *zap.SugaredLogger) (*StorageManager, error) {
	s := &StorageManager{Health: hm, logger: logger}

	if c.CSV != nil {
		e, err := csvfile.New(c.CSV.Directory, hm, logger.Named("csv"))
		if err != nil {
			return s, fmt.Errorf("could not add CSV storage backend: %w", err)
		}
		s.AddEngine(ctx, wg, "csv", e)
	}

	if c.TimescaleDB != nil && c.TimescaleDB.ConnectionString != "" {
		e, err := timescaledb.New(ctx, c.TimescaleDB.ConnectionString, hm, logger.Named("timescaledb"))
		if err != nil {
			return s, fmt.Errorf("could not add TimescaleDB storage backend: %w", err)
		}
		s.AddEngine(ctx, wg, "timescaledb", e)
	}

	if c.SQLite != nil {
		e, err := sqlite.New(ctx, c.SQLite.Path, hm, logger.Named("sqlite"))
		if err != nil {
			return s, fmt.Errorf("could not add SQLite storage backend: %w", err)
		}
		s.AddEngine(ctx, wg, "sqlite", e)
	}

	if c.GRPC != nil && c.GRPC.Enabled {
		s.stream = grpcstream.New(hm, logger.Named("grpc"))
		s.AddEngine(ctx, wg, "grpc", s.stream)
	}

	return s, nil
}

// AddEngine starts engine and adds it to the fan-out
func (s *StorageManager) AddEngine(ctx context.Context, wg *sync.WaitGroup, name string, engine storage.StorageEngineInterface) {
	s.Engines = append(s.Engines, StorageEngine{
		Name:   name,
		Engine: engine,
		C:      engine.StartStorageEngine(ctx, wg),
	})
	s.logger.Infof("added %s storage engine", name)
}

// GRPCStream returns the alert stream engine, or nil if it is not enabled
func (s *StorageManager) GRPCStream() *grpcstream.Storage {
	return s.stream
}

// Distribute fans alerts from in out to every engine until in is closed or
// ctx is cancelled. When in closes, every engine channel is closed so the
// engines can flush and exit.
func (s *StorageManager) Distribute(ctx context.Context, in <-chan types.Alert) {
	alertCount := 0
	defer func() {
		s.logger.Infof("alert distributor stopped after %d alerts", alertCount)
	}()

	for {
		select {
		case a, ok := <-in:
			if !ok {
				for _, e := range s.Engines {
					close(e.C)
				}
				return
			}
			alertCount++

			for _, e := range s.Engines {
				select {
				case e.C <- a:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
