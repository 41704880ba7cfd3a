// Package serial reads telemetry from a unit attached to a serial port.
package serial

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/chrissnell/telematics/internal/sources"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	serial "github.com/tarm/goserial"
	"go.uber.org/zap"
)

const retryInterval = 30 * time.Second

// OpenFunc opens the port described by cfg
type OpenFunc func(cfg *serial.Config) (io.ReadWriteCloser, error)

// Source reads newline-terminated records from a serial port, reopening the
// port whenever it drops out
type Source struct {
	ctx     context.Context
	wg      *sync.WaitGroup
	config  config.SourceData
	emitter *sources.Emitter
	logger  *zap.SugaredLogger
	open    OpenFunc
}

// NewSource creates a serial Source
func NewSource(ctx context.Context, wg *sync.WaitGroup, cfg config.SourceData, out chan<- types.TelemetryRecord, logger *zap.SugaredLogger) (*Source, error) {
	if cfg.SerialDevice == "" {
		return nil, fmt.Errorf("serial source [%s] must define a serial device", cfg.Name)
	}
	if cfg.Baud == 0 {
		cfg.Baud = config.DefaultBaud
	}

	return &Source{
		ctx:     ctx,
		wg:      wg,
		config:  cfg,
		emitter: sources.NewEmitter(cfg.Name, out, logger),
		logger:  logger,
		open:    serial.OpenPort,
	}, nil
}

func (s *Source) SourceName() string {
	return s.config.Name
}

func (s *Source) Stats() sources.StatsSnapshot {
	return s.emitter.Stats()
}

// StartSource launches the port-reading goroutine
func (s *Source) StartSource() error {
	s.logger.Infof("Starting serial source [%s] on %s at %d baud", s.config.Name, s.config.SerialDevice, s.config.Baud)

	s.wg.Add(1)
	go s.readLoop()

	return nil
}

func (s *Source) readLoop() {
	defer s.wg.Done()

	for {
		rwc, err := s.open(&serial.Config{Name: s.config.SerialDevice, Baud: s.config.Baud})
		if err != nil {
			s.logger.Errorf("failed to open serial port %s: %v", s.config.SerialDevice, err)
		} else {
			// Scan only notices cancellation between lines, so close the port to
			// unblock a pending read
			stop := context.AfterFunc(s.ctx, func() { rwc.Close() })
			err = s.emitter.Scan(s.ctx, rwc)
			stop()
			rwc.Close()

			if err != nil && s.ctx.Err() == nil {
				s.logger.Errorf("error reading serial port %s: %v", s.config.SerialDevice, err)
			}
		}

		if s.ctx.Err() != nil {
			s.logger.Infof("cancellation request received. Stopping serial source [%s]", s.config.Name)
			return
		}

		s.logger.Infof("reopening %s in %v", s.config.SerialDevice, retryInterval)
		select {
		case <-s.ctx.Done():
			s.logger.Infof("cancellation request received. Stopping serial source [%s]", s.config.Name)
			return
		case <-time.After(retryInterval):
		}
	}
}
