package sources

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/chrissnell/telematics/internal/parser"
	"github.com/chrissnell/telematics/internal/types"
	"go.uber.org/zap"
)

// maxLineLength bounds a single telemetry line
const maxLineLength = 64 * 1024

// StatsSnapshot counts what a source has read so far
type StatsSnapshot struct {
	Lines     uint64 `json:"lines"`
	Records   uint64 `json:"records"`
	Malformed uint64 `json:"malformed"`
}

// Emitter parses lines for one source and pushes the records onto the shared
// record channel. Malformed lines are logged and skipped.
type Emitter struct {
	name   string
	out    chan<- types.TelemetryRecord
	logger *zap.SugaredLogger

	lines     atomic.Uint64
	records   atomic.Uint64
	malformed atomic.Uint64
}

// NewEmitter creates an Emitter for the named source
func NewEmitter(name string, out chan<- types.TelemetryRecord, logger *zap.SugaredLogger) *Emitter {
	return &Emitter{name: name, out: out, logger: logger}
}

// Emit parses line and sends the record. Blank lines are ignored. It returns
// false only when ctx was cancelled while waiting to send.
func (e *Emitter) Emit(ctx context.Context, line string) bool {
	if len(line) == 0 || line == "\r" {
		return true
	}
	e.lines.Add(1)

	r, err := parser.ParseLine(line)
	if err != nil {
		e.malformed.Add(1)
		e.logger.Warnw("skipping malformed telemetry line", "source", e.name, "error", err)
		return true
	}

	select {
	case e.out <- r:
		e.records.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

// Scan reads newline-delimited records from r until EOF or cancellation
func (e *Emitter) Scan(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for scanner.Scan() {
		if !e.Emit(ctx, scanner.Text()) {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Stats returns the emitter's counters
func (e *Emitter) Stats() StatsSnapshot {
	return StatsSnapshot{
		Lines:     e.lines.Load(),
		Records:   e.records.Load(),
		Malformed: e.malformed.Load(),
	}
}
