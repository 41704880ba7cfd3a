// Package tcp accepts telemetry from roadside units over plain TCP.
//
// Every connection streams newline-terminated records. The listener runs on a
// gnet event loop; each connection keeps its own partial-line buffer so records
// split across reads are reassembled before parsing.
package tcp

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chrissnell/telematics/internal/sources"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"
)

const maxPendingBytes = 64 * 1024

// Source is a TCP telemetry listener
type Source struct {
	gnet.BuiltinEventEngine

	ctx     context.Context
	wg      *sync.WaitGroup
	config  config.SourceData
	emitter *sources.Emitter
	logger  *zap.SugaredLogger

	engine      gnet.Engine
	booted      chan struct{}
	done        chan struct{}
	connections atomic.Int64
}

type connState struct {
	pending []byte
}

// NewSource creates a TCP Source
func NewSource(ctx context.Context, wg *sync.WaitGroup, cfg config.SourceData, out chan<- types.TelemetryRecord, logger *zap.SugaredLogger) (*Source, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("tcp source [%s] must define a listen address", cfg.Name)
	}

	return &Source{
		ctx:     ctx,
		wg:      wg,
		config:  cfg,
		emitter: sources.NewEmitter(cfg.Name, out, logger),
		logger:  logger,
		booted:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

func (s *Source) SourceName() string {
	return s.config.Name
}

func (s *Source) Stats() sources.StatsSnapshot {
	return s.emitter.Stats()
}

// Connections returns the number of currently connected clients
func (s *Source) Connections() int64 {
	return s.connections.Load()
}

// StartSource launches the event loop and a goroutine that stops it on cancellation
func (s *Source) StartSource() error {
	addr := s.config.ListenAddr
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}

	s.logger.Infof("Starting TCP source [%s] on %s", s.config.Name, addr)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		err := gnet.Run(s, addr,
			gnet.WithMulticore(true),
			gnet.WithReusePort(true),
			gnet.WithLogger(s.logger))
		if err != nil {
			s.logger.Errorf("TCP source [%s] stopped: %v", s.config.Name, err)
		}
	}()

	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		select {
		case <-s.done:
		case <-s.booted:
			s.logger.Infof("cancellation request received. Stopping TCP source [%s]", s.config.Name)
			if err := s.engine.Stop(context.Background()); err != nil {
				s.logger.Warnf("error stopping TCP source [%s]: %v", s.config.Name, err)
			}
		}
	}()

	return nil
}

func (s *Source) OnBoot(eng gnet.Engine) gnet.Action {
	s.engine = eng
	close(s.booted)
	return gnet.None
}

func (s *Source) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	s.connections.Add(1)
	c.SetContext(&connState{})
	s.logger.Debugw("telemetry client connected", "source", s.config.Name, "remote", c.RemoteAddr())
	return nil, gnet.None
}

func (s *Source) OnClose(c gnet.Conn, err error) gnet.Action {
	s.connections.Add(-1)

	// a final record without a trailing newline is still a record
	if st, ok := c.Context().(*connState); ok && len(st.pending) > 0 {
		s.emitter.Emit(s.ctx, string(st.pending))
		st.pending = nil
	}

	if err != nil {
		s.logger.Debugw("telemetry client disconnected", "source", s.config.Name, "remote", c.RemoteAddr(), "error", err)
	}
	return gnet.None
}

func (s *Source) OnTraffic(c gnet.Conn) gnet.Action {
	st := c.Context().(*connState)

	buf, err := c.Next(-1)
	if err != nil {
		return gnet.Close
	}
	st.pending = append(st.pending, buf...)

	rest := st.pending
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		if !s.emitter.Emit(s.ctx, string(rest[:i])) {
			return gnet.Close
		}
		rest = rest[i+1:]
	}

	if len(rest) > maxPendingBytes {
		s.logger.Warnw("dropping client that sent an oversized line", "source", s.config.Name, "remote", c.RemoteAddr())
		return gnet.Close
	}
	st.pending = append(st.pending[:0], rest...)

	return gnet.None
}
