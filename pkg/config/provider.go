package config

import (
	"errors"
	"fmt"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetPipelineConfig() (*PipelineData, error)
	GetSources() ([]SourceData, error)
	GetStorageConfig() (*StorageData, error)
	GetAPIConfig() (*APIData, error)

	IsReadOnly() bool
	Close() error
}

// Source types
const (
	SourceFile   = "file"
	SourceTCP    = "tcp"
	SourceSerial = "serial"
)

// Position units
const (
	UnitMeters = "meters"
	UnitMiles  = "miles"
)

// Defaults applied by ApplyDefaults
const (
	DefaultSpeedLimit     = 90
	DefaultStopThreshold  = 4
	DefaultAvgSpeedLimit  = 60.0
	DefaultRangeStart     = 52
	DefaultRangeEnd       = 56
	DefaultWorkers        = 4
	DefaultBufferSize     = 1024
	DefaultIdleTimeout    = 300
	DefaultSweepInterval  = 1000
	DefaultBaud           = 19200
	DefaultAPIListenAddr  = ":8080"
	DefaultRecentAlerts   = 500
	DefaultCSVDirectory   = "."
	DefaultSQLiteFilename = "telematics.db"
)

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Pipeline PipelineData `json:"pipeline"`
	Sources  []SourceData `json:"sources"`
	Storage  StorageData  `json:"storage,omitempty"`
	API      *APIData     `json:"api,omitempty"`
}

// PipelineData configures the detectors and the dispatcher
type PipelineData struct {
	SpeedLimit    int     `json:"speed_limit"`
	StopThreshold int     `json:"stop_threshold"`
	AvgSpeedLimit float64 `json:"avg_speed_limit"`
	RangeStart    int     `json:"range_start"`
	RangeEnd      int     `json:"range_end"`
	Workers       int     `json:"workers"`
	BufferSize    int     `json:"buffer_size"`
	IdleTimeout   int64   `json:"idle_timeout"`
	SweepInterval int     `json:"sweep_interval"`
	PositionUnit  string  `json:"position_unit"`
}

// SourceData describes one telemetry feed
type SourceData struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Path         string `json:"path,omitempty"`
	ListenAddr   string `json:"listen_addr,omitempty"`
	SerialDevice string `json:"serial_device,omitempty"`
	Baud         int    `json:"baud,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// StorageData holds the configuration for the alert sinks. A nil section
// disables that sink.
type StorageData struct {
	CSV         *CSVData         `json:"csv,omitempty"`
	TimescaleDB *TimescaleDBData `json:"timescaledb,omitempty"`
	SQLite      *SQLiteData      `json:"sqlite,omitempty"`
	GRPC        *GRPCData        `json:"grpc,omitempty"`
}

type CSVData struct {
	Directory string `json:"directory"`
}

type TimescaleDBData struct {
	ConnectionString string `json:"connection_string"`
}

type SQLiteData struct {
	Path string `json:"path"`
}

// GRPCData enables the alert stream served on the API listener
type GRPCData struct {
	Enabled bool `json:"enabled"`
}

// APIData configures the REST/gRPC API server
type APIData struct {
	ListenAddr   string `json:"listen_addr"`
	RecentAlerts int    `json:"recent_alerts"`
}

// ApplyDefaults fills in every unset value
func (c *ConfigData) ApplyDefaults() {
	p := &c.Pipeline
	if p.SpeedLimit == 0 {
		p.SpeedLimit = DefaultSpeedLimit
	}
	if p.StopThreshold == 0 {
		p.StopThreshold = DefaultStopThreshold
	}
	if p.AvgSpeedLimit == 0 {
		p.AvgSpeedLimit = DefaultAvgSpeedLimit
	}
	if p.RangeStart == 0 && p.RangeEnd == 0 {
		p.RangeStart, p.RangeEnd = DefaultRangeStart, DefaultRangeEnd
	}
	if p.Workers == 0 {
		p.Workers = DefaultWorkers
	}
	if p.BufferSize == 0 {
		p.BufferSize = DefaultBufferSize
	}
	if p.IdleTimeout == 0 {
		p.IdleTimeout = DefaultIdleTimeout
	}
	if p.SweepInterval == 0 {
		p.SweepInterval = DefaultSweepInterval
	}
	if p.PositionUnit == "" {
		p.PositionUnit = UnitMiles
	}

	for i := range c.Sources {
		if c.Sources[i].Type == SourceSerial && c.Sources[i].Baud == 0 {
			c.Sources[i].Baud = DefaultBaud
		}
	}

	if c.Storage.CSV != nil && c.Storage.CSV.Directory == "" {
		c.Storage.CSV.Directory = DefaultCSVDirectory
	}
	if c.Storage.SQLite != nil && c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = DefaultSQLiteFilename
	}

	if c.API != nil {
		if c.API.ListenAddr == "" {
			c.API.ListenAddr = DefaultAPIListenAddr
		}
		if c.API.RecentAlerts == 0 {
			c.API.RecentAlerts = DefaultRecentAlerts
		}
	}
}

// Validate checks the configuration for values the service can't run with
func (c *ConfigData) Validate() error {
	var errs []error

	p := c.Pipeline
	if p.SpeedLimit < 0 {
		errs = append(errs, fmt.Errorf("pipeline.speed-limit must not be negative"))
	}
	if p.StopThreshold < 1 {
		errs = append(errs, fmt.Errorf("pipeline.stop-threshold must be at least 1"))
	}
	if p.RangeStart >= p.RangeEnd {
		errs = append(errs, fmt.Errorf("pipeline.range-start (%d) must be below pipeline.range-end (%d)", p.RangeStart, p.RangeEnd))
	}
	if p.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be at least 1"))
	}
	if p.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.buffer-size must not be negative"))
	}
	if p.PositionUnit != UnitMeters && p.PositionUnit != UnitMiles {
		errs = append(errs, fmt.Errorf("pipeline.position-unit must be %q or %q, got %q", UnitMeters, UnitMiles, p.PositionUnit))
	}

	names := make(map[string]bool)
	for _, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("every source needs a name"))
			continue
		}
		if names[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate source name %q", s.Name))
		}
		names[s.Name] = true

		switch s.Type {
		case SourceFile:
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("source %q: file sources need a path", s.Name))
			}
		case SourceTCP:
			if s.ListenAddr == "" {
				errs = append(errs, fmt.Errorf("source %q: tcp sources need a listen-addr", s.Name))
			}
		case SourceSerial:
			if s.SerialDevice == "" {
				errs = append(errs, fmt.Errorf("source %q: serial sources need a serial-device", s.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown type %q", s.Name, s.Type))
		}
	}

	if c.Storage.GRPC != nil && c.Storage.GRPC.Enabled && c.API == nil {
		errs = append(errs, fmt.Errorf("storage.grpc is served on the API listener and needs an api section"))
	}

	return errors.Join(errs...)
}

// EnabledSources returns the sources that are switched on
func (c *ConfigData) EnabledSources() []SourceData {
	var enabled []SourceData
	for _, s := range c.Sources {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	return enabled
}
