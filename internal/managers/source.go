package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/chrissnell/telematics/internal/sources"
	"github.com/chrissnell/telematics/internal/sources/file"
	"github.com/chrissnell/telematics/internal/sources/serial"
	"github.com/chrissnell/telematics/internal/sources/tcp"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	"go.uber.org/zap"
)

// SourceManager owns the telemetry sources and the record channel they share
type SourceManager struct {
	sources []sources.Source
	records chan types.TelemetryRecord
	wg      sync.WaitGroup
	logger  *zap.SugaredLogger
}

// NewSourceManager creates a source for every entry in cfgs
func NewSourceManager(ctx context.Context, cfgs []config.SourceData, bufferSize int, logger *zap.SugaredLogger) (*SourceManager, error) {
	m := &SourceManager{
		records: make(chan types.TelemetryRecord, bufferSize),
		logger:  logger,
	}

	for _, sc := range cfgs {
		src, err := m.createSource(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("error creating source [%s]: %w", sc.Name, err)
		}
		m.sources = append(m.sources, src)
	}

	return m, nil
}

func (m *SourceManager) createSource(ctx context.Context, sc config.SourceData) (sources.Source, error) {
	logger := m.logger.Named(sc.Name)
	switch sc.Type {
	case config.SourceFile:
		return file.NewSource(ctx, &m.wg, sc, m.records, logger)
	case config.SourceTCP:
		return tcp.NewSource(ctx, &m.wg, sc, m.records, logger)
	case config.SourceSerial:
		return serial.NewSource(ctx, &m.wg, sc, m.records, logger)
	default:
		return nil, fmt.Errorf("unknown source type: %s", sc.Type)
	}
}

// Sources returns the managed sources
func (m *SourceManager) Sources() []sources.Source {
	return m.sources
}

// Records returns the channel every source writes to. It is closed once all
// sources have finished.
func (m *SourceManager) Records() <-chan types.TelemetryRecord {
	return m.records
}

// StartSources starts every source. The record channel is closed when the
// sources that did start have all stopped, even if a later one failed.
func (m *SourceManager) StartSources() error {
	defer func() {
		go func() {
			m.wg.Wait()
			close(m.records)
			m.logger.Info("all telemetry sources finished")
		}()
	}()

	for _, s := range m.sources {
		m.logger.Infof("Starting source [%s]...", s.SourceName())
		if err := s.StartSource(); err != nil {
			return fmt.Errorf("failed to start source [%s]: %w", s.SourceName(), err)
		}
	}

	m.logger.Infof("Started %d sources successfully", len(m.sources))
	return nil
}
