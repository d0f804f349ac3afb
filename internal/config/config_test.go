package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Network.HTTP.Port != 8000 {
		t.Errorf("Expected HTTP port 8000, got %d", cfg.Network.HTTP.Port)
	}
	if cfg.Network.Controller.Port != 50000 {
		t.Errorf("Expected controller port 50000, got %d", cfg.Network.Controller.Port)
	}

	if cfg.Simulation.ChannelSwitchingTime != 100 {
		t.Errorf("Expected channel switching time 100ms, got %v", cfg.Simulation.ChannelSwitchingTime)
	}
	if cfg.Simulation.ChannelThroughputDefault != 54000000 {
		t.Errorf("Expected default throughput 54000000, got %v", cfg.Simulation.ChannelThroughputDefault)
	}
	if cfg.Simulation.Mode != ModeStatic {
		t.Errorf("Expected static mode, got %q", cfg.Simulation.Mode)
	}

	if len(cfg.Neighbors) != 1 {
		t.Errorf("Expected one neighbor set, got %d", len(cfg.Neighbors))
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module.yaml")
	content := `
myMAC: "02:00:00:00:00:01"
clients: ["aa:aa:aa:aa:aa:01", "aa:aa:aa:aa:aa:02"]
neighbors: [["bb:bb:bb:bb:bb:01"], []]
simulation:
  mode: training
  numsClients: [2, 1]
  channelThroughput: [0, 10000000, 20000000]
  txBytesRandom: 0.2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg := GetDefaultConfig()
	if err := LoadFromFile(cfg, path); err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.MyMAC != "02:00:00:00:00:01" {
		t.Errorf("Expected myMAC 02:00:00:00:00:01, got %s", cfg.MyMAC)
	}
	if len(cfg.Clients) != 2 {
		t.Errorf("Expected 2 clients, got %d", len(cfg.Clients))
	}
	if len(cfg.Neighbors) != 2 || len(cfg.Neighbors[0]) != 1 {
		t.Errorf("Unexpected neighbors: %v", cfg.Neighbors)
	}
	if cfg.Simulation.Mode != ModeTraining {
		t.Errorf("Expected training mode, got %q", cfg.Simulation.Mode)
	}
	if len(cfg.Simulation.NumsClients) != 2 || cfg.Simulation.NumsClients[0] != 2 {
		t.Errorf("Unexpected numsClients: %v", cfg.Simulation.NumsClients)
	}
	if cfg.Simulation.TxBytesRandom != 0.2 {
		t.Errorf("Expected txBytesRandom 0.2, got %v", cfg.Simulation.TxBytesRandom)
	}
	// Keys absent from the file keep their defaults
	if cfg.Simulation.ChannelSwitchingTime != 100 {
		t.Errorf("Expected default channel switching time, got %v", cfg.Simulation.ChannelSwitchingTime)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfigFromNonExistentFile(t *testing.T) {
	cfg := &Config{}
	err := LoadFromFile(cfg, "non-existent-file.yaml")
	if err == nil {
		t.Error("Expected error when loading non-existent file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := GetDefaultConfig()

	t.Setenv("SIMPLE_MODULE_MODE", "generator")
	t.Setenv("SIMPLE_MODULE_HTTP_PORT", "9001")
	t.Setenv("SIMPLE_MODULE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Simulation.Mode != "generator" {
		t.Errorf("Expected mode 'generator', got '%s'", cfg.Simulation.Mode)
	}
	if cfg.Network.HTTP.Port != 9001 {
		t.Errorf("Expected port 9001, got %d", cfg.Network.HTTP.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestApplyInvalidPortOverride(t *testing.T) {
	cfg := GetDefaultConfig()
	original := cfg.Network.HTTP.Port

	t.Setenv("SIMPLE_MODULE_HTTP_PORT", "invalid")
	applyEnvOverrides(cfg)

	if cfg.Network.HTTP.Port != original {
		t.Errorf("Expected original port %d for invalid env var, got %d", original, cfg.Network.HTTP.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: func() *Config {
				return GetDefaultConfig()
			},
			wantErr: false,
		},
		{
			name: "missing myMAC",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.MyMAC = ""
				return cfg
			},
			wantErr: true,
		},
		{
			name: "invalid mode",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.Mode = "invalid"
				return cfg
			},
			wantErr: true,
		},
		{
			name: "tx bytes random out of range",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.TxBytesRandom = 1
				return cfg
			},
			wantErr: true,
		},
		{
			name: "non-positive default throughput",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.ChannelThroughputDefault = 0
				return cfg
			},
			wantErr: true,
		},
		{
			name: "negative channel throughput",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.ChannelThroughput = []float64{1, -1}
				return cfg
			},
			wantErr: true,
		},
		{
			name: "working mode without clientconf",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.Mode = ModeWorking
				return cfg
			},
			wantErr: true,
		},
		{
			name: "generator mode with more clients than MACs",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.Mode = ModeGenerator
				cfg.Simulation.ScenariosPerAPSetting = 1
				cfg.Simulation.MaxNumClients = MaxGeneratedClients + 1
				return cfg
			},
			wantErr: true,
		},
		{
			name: "generator mode at the MAC limit",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.Mode = ModeGenerator
				cfg.Simulation.ScenariosPerAPSetting = 1
				cfg.Simulation.MaxNumClients = MaxGeneratedClients
				return cfg
			},
			wantErr: false,
		},
		{
			name: "generator mode without scenarios",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.Mode = ModeGenerator
				cfg.Simulation.ScenariosPerAPSetting = 0
				return cfg
			},
			wantErr: true,
		},
		{
			name: "auth without secret",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Auth.Enabled = true
				return cfg
			},
			wantErr: true,
		},
		{
			name: "working mode with clientconf",
			config: func() *Config {
				cfg := GetDefaultConfig()
				cfg.Simulation.Mode = ModeWorking
				cfg.Simulation.ClientConf = "clients.conf"
				return cfg
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.config())
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		slice []string
		item  string
		want  bool
	}{
		{[]string{"working", "training", "generator"}, "working", true},
		{[]string{"working", "training", "generator"}, "invalid", false},
		{[]string{}, "test", false},
		{[]string{""}, "", true},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			if got := contains(tt.slice, tt.item); got != tt.want {
				t.Errorf("contains() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadWithConfigFileEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module.yaml")
	if err := os.WriteFile(path, []byte("myMAC: \"02:00:00:00:00:09\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("SIMPLE_MODULE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.MyMAC != "02:00:00:00:00:09" {
		t.Errorf("Expected myMAC from file, got %s", cfg.MyMAC)
	}
}

func TestLoadWithInvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "module.yaml")
	if err := os.WriteFile(path, []byte("simulation:\n  mode: nonsense\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("SIMPLE_MODULE_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Error("Expected validation error for invalid mode")
	}
}
