package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Ingress     IngressConfig     `yaml:"ingress"`
	Bus         BusConfig         `yaml:"bus"`
	Run         RunConfig         `yaml:"run"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Spawn       SpawnConfig       `yaml:"spawn"`
	Storage     StorageConfig     `yaml:"storage"`
}

// ServerConfig covers the HTTP server UI clients talk to.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// IngressConfig covers the WebSocket server agent processes connect to.
type IngressConfig struct {
	Listen string `yaml:"listen"`
	// Per-connection outbound write deadline in milliseconds.
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
}

type BusConfig struct {
	// Per-subscriber backlog; oldest events are dropped on overflow.
	Capacity int `yaml:"capacity"`
}

// RunConfig bounds how long a run request waits for an agent to connect.
type RunConfig struct {
	WaitAttempts   int `yaml:"wait_attempts"`
	WaitIntervalMs int `yaml:"wait_interval_ms"`
}

type PermissionsConfig struct {
	// Mode applied to sessions the bridge spawns.
	DefaultMode string `yaml:"default_mode"`
	// Extra tool names auto-approved under acceptEdits.
	EditAllowTools []string `yaml:"edit_allow_tools"`
}

// SpawnConfig describes how to launch an agent CLI. Args are passed through
// verbatim; the bridge only appends its own --sdk-url.
type SpawnConfig struct {
	Bin        string   `yaml:"bin"`
	Args       []string `yaml:"args"`
	WorkingDir string   `yaml:"working_dir"`
}

// StorageConfig covers on-disk state.
type StorageConfig struct {
	StateDir          string `yaml:"state_dir"`
	HistoryMaxEntries int    `yaml:"history_max_entries"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	// Optional environment overrides.
	if listen := os.Getenv("BRIDGED_SERVER_LISTEN"); listen != "" {
		cfg.Server.Listen = listen
	}
	if listen := os.Getenv("BRIDGED_INGRESS_LISTEN"); listen != "" {
		cfg.Ingress.Listen = listen
	}

	return &cfg, nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:8750"
	}
	if cfg.Ingress.Listen == "" {
		cfg.Ingress.Listen = "127.0.0.1:8751"
	}
	if cfg.Ingress.WriteTimeoutMs == 0 {
		cfg.Ingress.WriteTimeoutMs = 10000
	}
	if cfg.Bus.Capacity == 0 {
		cfg.Bus.Capacity = 256
	}
	if cfg.Run.WaitAttempts == 0 {
		cfg.Run.WaitAttempts = 30
	}
	if cfg.Run.WaitIntervalMs == 0 {
		cfg.Run.WaitIntervalMs = 500
	}
	if cfg.Permissions.DefaultMode == "" {
		cfg.Permissions.DefaultMode = "default"
	}
	if cfg.Spawn.Bin == "" {
		cfg.Spawn.Bin = "claude"
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = "/var/lib/bridged"
	}
	if cfg.Storage.HistoryMaxEntries == 0 {
		cfg.Storage.HistoryMaxEntries = 1000
	}
}
