// Package file replays telemetry from a text file, one record per line.
package file

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/chrissnell/telematics/internal/sources"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	"go.uber.org/zap"
)

// Source reads a telemetry file once, from start to end
type Source struct {
	ctx     context.Context
	wg      *sync.WaitGroup
	config  config.SourceData
	emitter *sources.Emitter
	logger  *zap.SugaredLogger
}

// NewSource creates a file Source
func NewSource(ctx context.Context, wg *sync.WaitGroup, cfg config.SourceData, out chan<- types.TelemetryRecord, logger *zap.SugaredLogger) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file source [%s] must define a path", cfg.Name)
	}

	return &Source{
		ctx:     ctx,
		wg:      wg,
		config:  cfg,
		emitter: sources.NewEmitter(cfg.Name, out, logger),
		logger:  logger,
	}, nil
}

func (s *Source) SourceName() string {
	return s.config.Name
}

func (s *Source) Stats() sources.StatsSnapshot {
	return s.emitter.Stats()
}

// StartSource opens the file and launches the reader goroutine
func (s *Source) StartSource() error {
	f, err := os.Open(s.config.Path)
	if err != nil {
		return fmt.Errorf("could not open telemetry file %s: %w", s.config.Path, err)
	}

	s.logger.Infof("Starting file source [%s] from %s", s.config.Name, s.config.Path)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer f.Close()

		if err := s.emitter.Scan(s.ctx, f); err != nil {
			if s.ctx.Err() != nil {
				s.logger.Infof("cancellation request received. Stopping file source [%s]", s.config.Name)
				return
			}
			s.logger.Errorf("error reading %s: %v", s.config.Path, err)
			return
		}

		stats := s.emitter.Stats()
		s.logger.Infow("file source finished", "source", s.config.Name,
			"records", stats.Records, "malformed", stats.Malformed)
	}()

	return nil
}
