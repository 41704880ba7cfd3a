// Package main generates synthetic vehicle telemetry and sends it to a TCP
// source or writes it to a file. Positions are in meters, so the receiving
// pipeline needs position-unit: meters.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrissnell/telematics/internal/parser"
	"github.com/chrissnell/telematics/internal/types"
)

const (
	segmentLength = 1609 // meters
	segments      = 100
	reportEvery   = 30 // seconds of simulated time
	mphToMS       = 0.44704
)

type vehicle struct {
	id        int
	highway   int
	lane      int
	direction int
	position  float64
	speed     float64 // mph
	stopped   bool
}

func (v *vehicle) segment() int {
	return int(v.position) / segmentLength
}

func (v *vehicle) record(ts int64) types.TelemetryRecord {
	return types.TelemetryRecord{
		Timestamp: ts,
		VehicleID: v.id,
		Speed:     int(v.speed),
		Highway:   v.highway,
		Lane:      v.lane,
		Direction: types.Direction(v.direction),
		Segment:   v.segment(),
		Position:  int64(v.position),
	}
}

// advance moves the vehicle forward by dt seconds and reports whether it is
// still on the highway
func (v *vehicle) advance(dt float64, r *rand.Rand) bool {
	if v.stopped {
		return true
	}

	v.speed += (r.Float64() - 0.5) * 6
	v.speed = max(25, min(v.speed, 130))

	delta := v.speed * mphToMS * dt
	if v.direction == 1 {
		delta = -delta
	}
	v.position += delta
	return v.position >= 0 && v.position < segments*segmentLength
}

func newVehicle(id int, r *rand.Rand, highways int, stopRate float64) *vehicle {
	v := &vehicle{
		id:        id,
		highway:   r.Intn(highways),
		lane:      1 + r.Intn(3),
		direction: r.Intn(2),
		speed:     45 + r.Float64()*60,
		stopped:   r.Float64() < stopRate,
	}
	if v.direction == 0 {
		v.position = r.Float64() * segmentLength * 10
	} else {
		v.position = segments*segmentLength - 1 - r.Float64()*segmentLength*10
	}
	if v.stopped {
		v.position = r.Float64() * segments * segmentLength
		v.speed = 0
		v.lane = 0
	}
	return v
}

func main() {
	addr := flag.String("addr", "localhost:5555", "TCP address of the telematics source")
	out := flag.String("out", "", "Write lines to this file instead of the network ('-' for stdout)")
	vehicles := flag.Int("vehicles", 200, "Number of vehicles on the road at once")
	highways := flag.Int("highways", 2, "Number of highways")
	duration := flag.Int("duration", 3600, "Seconds of simulated time to generate")
	stopRate := flag.Float64("stop-rate", 0.01, "Fraction of vehicles that are stopped")
	rate := flag.Int("rate", 0, "Lines per second of wall time, 0 for as fast as possible")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if *highways < 1 || *vehicles < 1 {
		log.Fatal("-highways and -vehicles must be at least 1")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w, closer, err := openOutput(*out, *addr)
	if err != nil {
		log.Fatalf("could not open output: %v", err)
	}
	defer closer.Close()

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	r := rand.New(rand.NewSource(*seed))
	n, err := simulate(ctx, bw, r, *vehicles, *highways, *duration, *stopRate, *rate)
	if err != nil {
		log.Printf("simulation stopped after %d lines: %v", n, err)
		return
	}
	log.Printf("wrote %d lines", n)
}

func openOutput(path, addr string) (io.Writer, io.Closer, error) {
	switch path {
	case "":
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, nil, err
		}
		return conn, conn, nil
	case "-":
		return os.Stdout, io.NopCloser(nil), nil
	default:
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
}

// simulate emits one report per vehicle every reportEvery seconds. Vehicles
// that leave the highway are replaced by new ones.
func simulate(ctx context.Context, w *bufio.Writer, r *rand.Rand, count, highways, duration int, stopRate float64, rate int) (int, error) {
	fleet := make([]*vehicle, count)
	nextID := 0
	for i := range fleet {
		fleet[i] = newVehicle(nextID, r, highways, stopRate)
		nextID++
	}

	var tick <-chan time.Time
	if rate > 0 {
		t := time.NewTicker(time.Second / time.Duration(rate))
		defer t.Stop()
		tick = t.C
	}

	lines := 0
	for ts := 0; ts <= duration; ts += reportEvery {
		for i, v := range fleet {
			if ts > 0 && !v.advance(reportEvery, r) {
				fleet[i] = newVehicle(nextID, r, highways, stopRate)
				nextID++
				v = fleet[i]
			}

			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return lines, ctx.Err()
				}
			} else if ctx.Err() != nil {
				return lines, ctx.Err()
			}

			if _, err := fmt.Fprintln(w, parser.FormatRecord(v.record(int64(ts)))); err != nil {
				return lines, err
			}
			lines++
		}
		if tick != nil {
			if err := w.Flush(); err != nil {
				return lines, err
			}
		}
	}
	return lines, nil
}
