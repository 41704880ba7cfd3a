// Package parser converts telemetry lines into TelemetryRecords.
//
// A line carries exactly eight integer fields in the order
// timestamp, vehicleId, speed, highway, lane, direction, segment, position,
// separated by commas or semicolons with optional whitespace after the
// separator. Anything else is rejected with ErrMalformedRecord so the detectors
// never see partially parsed records.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chrissnell/telematics/internal/types"
)

// FieldCount is the number of fields in a telemetry line
const FieldCount = 8

// ErrMalformedRecord is returned for any line that can't be turned into a record
var ErrMalformedRecord = errors.New("malformed telemetry record")

// ParseLine parses a single telemetry line
func ParseLine(line string) (types.TelemetryRecord, error) {
	var r types.TelemetryRecord

	line = strings.TrimSpace(line)
	if line == "" {
		return r, fmt.Errorf("%w: empty line", ErrMalformedRecord)
	}

	tokens := split(line)
	if len(tokens) != FieldCount {
		return r, fmt.Errorf("%w: expected %d fields, got %d: %q", ErrMalformedRecord, FieldCount, len(tokens), line)
	}

	ints := make([]int, FieldCount-1)
	for i := 0; i < FieldCount-1; i++ {
		v, err := strconv.Atoi(tokens[i])
		if err != nil {
			return r, fmt.Errorf("%w: invalid field %d in %q: %v", ErrMalformedRecord, i+1, line, err)
		}
		if v < 0 {
			return r, fmt.Errorf("%w: negative field %d in %q", ErrMalformedRecord, i+1, line)
		}
		ints[i] = v
	}

	position, err := strconv.ParseInt(tokens[FieldCount-1], 10, 64)
	if err != nil {
		return r, fmt.Errorf("%w: invalid position in %q: %v", ErrMalformedRecord, line, err)
	}
	if position < 0 {
		return r, fmt.Errorf("%w: negative position in %q", ErrMalformedRecord, line)
	}

	r = types.TelemetryRecord{
		Timestamp: int64(ints[0]),
		VehicleID: ints[1],
		Speed:     ints[2],
		Highway:   ints[3],
		Lane:      ints[4],
		Direction: types.Direction(ints[5]),
		Segment:   ints[6],
		Position:  position,
	}

	if !r.Direction.Valid() {
		return types.TelemetryRecord{}, fmt.Errorf("%w: unknown direction %d in %q", ErrMalformedRecord, ints[5], line)
	}

	return r, nil
}

// split breaks a line on ',' or ';' and drops whitespace that follows a separator
func split(line string) []string {
	tokens := strings.FieldsFunc(line, func(c rune) bool {
		return c == ',' || c == ';'
	})
	// FieldsFunc collapses empty fields, which would hide "1,,2" style errors
	if strings.Count(line, ",")+strings.Count(line, ";") != len(tokens)-1 {
		return nil
	}
	for i, t := range tokens {
		tokens[i] = strings.TrimSpace(t)
	}
	return tokens
}

// FormatRecord renders a record back into the comma-separated line format
func FormatRecord(r types.TelemetryRecord) string {
	return r.String()
}
