package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig reads the YAML file, applies defaults and validates the result
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %s: %w", y.filename, err)
	}

	config, err := parseYAML(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", y.filename, err)
	}

	y.config = config
	return config, nil
}

func parseYAML(data []byte) (*ConfigData, error) {
	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Pipeline PipelineYAML `yaml:"pipeline,omitempty"`
		Sources  []SourceYAML `yaml:"sources"`
		Storage  StorageYAML  `yaml:"storage,omitempty"`
		API      *APIYAML     `yaml:"api,omitempty"`
	}

	if err := yaml.UnmarshalStrict(data, &yamlConfig); err != nil {
		return nil, err
	}

	// Convert to our internal format
	config := &ConfigData{
		Pipeline: PipelineData{
			SpeedLimit:    yamlConfig.Pipeline.SpeedLimit,
			StopThreshold: yamlConfig.Pipeline.StopThreshold,
			AvgSpeedLimit: yamlConfig.Pipeline.AvgSpeedLimit,
			RangeStart:    yamlConfig.Pipeline.RangeStart,
			RangeEnd:      yamlConfig.Pipeline.RangeEnd,
			Workers:       yamlConfig.Pipeline.Workers,
			BufferSize:    yamlConfig.Pipeline.BufferSize,
			IdleTimeout:   yamlConfig.Pipeline.IdleTimeout,
			SweepInterval: yamlConfig.Pipeline.SweepInterval,
			PositionUnit:  yamlConfig.Pipeline.PositionUnit,
		},
		Sources: make([]SourceData, len(yamlConfig.Sources)),
	}

	for i, s := range yamlConfig.Sources {
		config.Sources[i] = SourceData{
			Name:         s.Name,
			Type:         s.Type,
			Path:         s.Path,
			ListenAddr:   s.ListenAddr,
			SerialDevice: s.SerialDevice,
			Baud:         s.Baud,
			// sources are on unless switched off explicitly
			Enabled: s.Enabled == nil || *s.Enabled,
		}
	}

	if yamlConfig.Storage.CSV != nil {
		config.Storage.CSV = &CSVData{Directory: yamlConfig.Storage.CSV.Directory}
	}
	if yamlConfig.Storage.TimescaleDB != nil {
		config.Storage.TimescaleDB = &TimescaleDBData{
			ConnectionString: yamlConfig.Storage.TimescaleDB.ConnectionString,
		}
	}
	if yamlConfig.Storage.SQLite != nil {
		config.Storage.SQLite = &SQLiteData{Path: yamlConfig.Storage.SQLite.Path}
	}
	if yamlConfig.Storage.GRPC != nil {
		config.Storage.GRPC = &GRPCData{Enabled: yamlConfig.Storage.GRPC.Enabled}
	}

	if yamlConfig.API != nil {
		config.API = &APIData{
			ListenAddr:   yamlConfig.API.ListenAddr,
			RecentAlerts: yamlConfig.API.RecentAlerts,
		}
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (y *YAMLProvider) loaded() (*ConfigData, error) {
	if y.config == nil {
		if _, err := y.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return y.config, nil
}

// GetPipelineConfig returns the pipeline section
func (y *YAMLProvider) GetPipelineConfig() (*PipelineData, error) {
	cfg, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &cfg.Pipeline, nil
}

// GetSources returns source configurations
func (y *YAMLProvider) GetSources() ([]SourceData, error) {
	cfg, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return cfg.Sources, nil
}

// GetStorageConfig returns storage configuration
func (y *YAMLProvider) GetStorageConfig() (*StorageData, error) {
	cfg, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &cfg.Storage, nil
}

// GetAPIConfig returns the API section, or nil when the API is disabled
func (y *YAMLProvider) GetAPIConfig() (*APIData, error) {
	cfg, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return cfg.API, nil
}

// IsReadOnly returns true since YAML files are read-only in this context
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with YAML tags
type PipelineYAML struct {
	SpeedLimit    int     `yaml:"speed-limit,omitempty"`
	StopThreshold int     `yaml:"stop-threshold,omitempty"`
	AvgSpeedLimit float64 `yaml:"avg-speed-limit,omitempty"`
	RangeStart    int     `yaml:"range-start,omitempty"`
	RangeEnd      int     `yaml:"range-end,omitempty"`
	Workers       int     `yaml:"workers,omitempty"`
	BufferSize    int     `yaml:"buffer-size,omitempty"`
	IdleTimeout   int64   `yaml:"idle-timeout,omitempty"`
	SweepInterval int     `yaml:"sweep-interval,omitempty"`
	PositionUnit  string  `yaml:"position-unit,omitempty"`
}

type SourceYAML struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	Path         string `yaml:"path,omitempty"`
	ListenAddr   string `yaml:"listen-addr,omitempty"`
	SerialDevice string `yaml:"serial-device,omitempty"`
	Baud         int    `yaml:"baud,omitempty"`
	Enabled      *bool  `yaml:"enabled,omitempty"`
}

type StorageYAML struct {
	CSV         *CSVYAML         `yaml:"csv,omitempty"`
	TimescaleDB *TimescaleDBYAML `yaml:"timescaledb,omitempty"`
	SQLite      *SQLiteYAML      `yaml:"sqlite,omitempty"`
	GRPC        *GRPCYAML        `yaml:"grpc,omitempty"`
}

type CSVYAML struct {
	Directory string `yaml:"directory,omitempty"`
}

type TimescaleDBYAML struct {
	ConnectionString string `yaml:"connection-string"`
}

type SQLiteYAML struct {
	Path string `yaml:"path,omitempty"`
}

type GRPCYAML struct {
	Enabled bool `yaml:"enabled"`
}

type APIYAML struct {
	ListenAddr   string `yaml:"listen-addr,omitempty"`
	RecentAlerts int    `yaml:"recent-alerts,omitempty"`
}
