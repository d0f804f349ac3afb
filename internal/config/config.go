package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Simulation modes
const (
	ModeStatic    = ""
	ModeWorking   = "working"
	ModeTraining  = "training"
	ModeGenerator = "generator"
)

// MaxGeneratedClients is the number of distinct client MACs the generator can
// build from one prefix and scenario byte.
const MaxGeneratedClients = 256

// Config represents the complete configuration for the simple Wi-Fi module
type Config struct {
	MyMAC      string           `yaml:"myMAC"`
	Clients    []string         `yaml:"clients"`
	Neighbors  [][]string       `yaml:"neighbors"`
	Simulation SimulationConfig `yaml:"simulation"`
	Network    NetworkConfig    `yaml:"network"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Audit      AuditConfig      `yaml:"audit"`
}

// SimulationConfig holds the traffic simulator settings
type SimulationConfig struct {
	NumsClients              []int     `yaml:"numsClients"`
	ChannelSwitchingTime     float64   `yaml:"channelSwitchingTime"`     // ms
	ChannelThroughputDefault float64   `yaml:"channelThroughputDefault"` // bit/s
	ChannelThroughput        []float64 `yaml:"channelThroughput"`        // bit/s, indexed by channel number
	TxBytesRandom            float64   `yaml:"txBytesRandom"`
	ClientNum                int       `yaml:"clientnum"`
	ClientConf               string    `yaml:"clientconf"`
	Mode                     string    `yaml:"mode"`
	ScenariosPerAPSetting    int       `yaml:"scenariosPerAPSetting"`
	MaxNumClients            int       `yaml:"maxNumClients"`
	ClientPrefix             string    `yaml:"clientPrefix"`
	ScenarioBackup           string    `yaml:"scenarioBackup"`
	Seed                     uint64    `yaml:"seed"`
}

// NetworkConfig holds network-related settings
type NetworkConfig struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Controller ControllerConfig `yaml:"controller"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port    int  `yaml:"port"`
	DevMode bool `yaml:"devMode"`
}

// ControllerConfig holds the controller link TCP server settings
type ControllerConfig struct {
	Port         int      `yaml:"port"`
	AllowedCIDRs []string `yaml:"allowedCidrs"`
}

// TelemetryConfig holds event hub settings
type TelemetryConfig struct {
	EventBufferSize      int `yaml:"eventBufferSize"`
	HeartbeatIntervalSec int `yaml:"heartbeatIntervalSec"`
}

// AuthConfig holds bearer token verification settings
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretKey string `yaml:"secretKey"`
}

// LoggingConfig holds application log settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"` // empty logs to stdout
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	File       string `yaml:"file"` // empty disables the audit trail
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	cfg := GetDefaultConfig()

	if err := LoadFromFile(cfg, "config/default.yaml"); err != nil {
		// If default config doesn't exist, continue with defaults
		fmt.Printf("Warning: Could not load default config: %v\n", err)
	}

	if path := os.Getenv("SIMPLE_MODULE_CONFIG"); path != "" {
		if err := LoadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// GetDefaultConfig returns the default configuration
func GetDefaultConfig() *Config {
	return &Config{
		MyMAC:     "00:11:22:33:44:55",
		Clients:   []string{},
		Neighbors: [][]string{{}},
		Simulation: SimulationConfig{
			ChannelSwitchingTime:     100,
			ChannelThroughputDefault: 54000000,
			ScenariosPerAPSetting:    1,
			MaxNumClients:            10,
			ClientPrefix:             "aa:bb:cc:dd",
		},
		Network: NetworkConfig{
			HTTP: HTTPConfig{
				Port: 8000,
			},
			Controller: ControllerConfig{
				Port:         50000,
				AllowedCIDRs: []string{"127.0.0.0/8", "::1/128"},
			},
		},
		Telemetry: TelemetryConfig{
			EventBufferSize:      50,
			HeartbeatIntervalSec: 15,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// LoadFromFile merges a YAML file into cfg
func LoadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if mode := os.Getenv("SIMPLE_MODULE_MODE"); mode != "" {
		cfg.Simulation.Mode = mode
	}

	if port := os.Getenv("SIMPLE_MODULE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Network.HTTP.Port = p
		}
	}

	if level := os.Getenv("SIMPLE_MODULE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate validates the configuration
func Validate(cfg *Config) error {
	if cfg.MyMAC == "" {
		return fmt.Errorf("myMAC must be configured")
	}

	sim := cfg.Simulation
	validModes := []string{ModeStatic, ModeWorking, ModeTraining, ModeGenerator}
	if !contains(validModes, sim.Mode) {
		return fmt.Errorf("invalid simulation mode %q, must be one of: %q", sim.Mode, validModes)
	}

	if sim.TxBytesRandom < 0 || sim.TxBytesRandom >= 1 {
		return fmt.Errorf("txBytesRandom %v is outside range [0, 1)", sim.TxBytesRandom)
	}

	if sim.ChannelThroughputDefault <= 0 {
		return fmt.Errorf("channelThroughputDefault must be positive, got %v", sim.ChannelThroughputDefault)
	}

	for i, tp := range sim.ChannelThroughput {
		if tp < 0 {
			return fmt.Errorf("channelThroughput[%d] is negative: %v", i, tp)
		}
	}

	if sim.ChannelSwitchingTime < 0 {
		return fmt.Errorf("channelSwitchingTime must not be negative, got %v", sim.ChannelSwitchingTime)
	}

	if sim.Mode == ModeWorking && sim.ClientConf == "" {
		return fmt.Errorf("working mode requires simulation.clientconf")
	}

	if sim.Mode == ModeGenerator {
		if sim.ScenariosPerAPSetting < 1 {
			return fmt.Errorf("scenariosPerAPSetting must be at least 1 in generator mode, got %d", sim.ScenariosPerAPSetting)
		}
		if sim.MaxNumClients < 1 || sim.MaxNumClients > MaxGeneratedClients {
			return fmt.Errorf("maxNumClients must be in [1, %d] in generator mode, got %d", MaxGeneratedClients, sim.MaxNumClients)
		}
	}

	if cfg.Auth.Enabled && cfg.Auth.SecretKey == "" {
		return fmt.Errorf("auth enabled without secretKey")
	}

	if cfg.Network.HTTP.Port < 0 || cfg.Network.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port %d", cfg.Network.HTTP.Port)
	}

	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
