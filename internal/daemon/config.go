// Package daemon manages the marketplace node lifecycle and
// configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all node configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Market    MarketConfig    `toml:"market"`
	Worker    WorkerConfig    `toml:"worker"`
	Channel   ChannelConfig   `toml:"channel"`
	Dispute   DisputeConfig   `toml:"dispute"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	// ID overrides the keypair-derived address. Leave empty in
	// production; useful for fixed addresses in local clusters.
	ID string `toml:"id"`
}

// APIConfig controls the HTTP status API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// MarketConfig controls the task marketplace.
type MarketConfig struct {
	ClaimWindow   string  `toml:"claim_window"`
	AuditRate     float64 `toml:"audit_rate"`
	MinStake      int64   `toml:"min_stake"` // Milli-credits
	BanPeriod     string  `toml:"ban_period"`
	RegistryTTL   string  `toml:"registry_ttl"`
	SweepInterval string  `toml:"sweep_interval"`
}

// WorkerConfig controls the node's worker agent. Disabled nodes only
// post and verify; enabled nodes claim and execute work.
type WorkerConfig struct {
	Enabled       bool               `toml:"enabled"`
	MaxConcurrent int                `toml:"max_concurrent"`
	PollInterval  string             `toml:"poll_interval"`
	Stake         int64              `toml:"stake"` // Milli-credits; 0 means the market minimum
	Capabilities  []CapabilityConfig `toml:"capabilities"`
}

// CapabilityConfig is one advertised capability.
type CapabilityConfig struct {
	Type            string  `toml:"type"`
	SpeedMultiplier float64 `toml:"speed_multiplier"`
	CostPerUnit     int64   `toml:"cost_per_unit"`
}

// ChannelConfig controls payment channels.
type ChannelConfig struct {
	CosignTimeout string `toml:"cosign_timeout"`
}

// DisputeConfig controls dispute resolution.
type DisputeConfig struct {
	Verifiers      int    `toml:"verifiers"`
	MinVerifierRep int64  `toml:"min_verifier_reputation"`
	VoteTimeout    string `toml:"vote_timeout"`
	VerifierFeePct int64  `toml:"verifier_fee_pct"`
}

// TelemetryConfig controls observability endpoints.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 9480,
		},
		Market: MarketConfig{
			ClaimWindow:   "5m",
			AuditRate:     0.10,
			MinStake:      10_000, // 10 credits
			BanPeriod:     "168h", // 7 days
			RegistryTTL:   "10m",
			SweepInterval: "30s",
		},
		Worker: WorkerConfig{
			Enabled:       false,
			MaxConcurrent: 4,
			PollInterval:  "5s",
			Stake:         10_000, // 10 credits
		},
		Channel: ChannelConfig{
			CosignTimeout: "10s",
		},
		Dispute: DisputeConfig{
			Verifiers:      3,
			MinVerifierRep: 10,
			VoteTimeout:    "2m",
			VerifierFeePct: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(taskmeshHome(), "taskmesh.log"),
		},
	}
}

// LoadConfig reads config from ~/.taskmesh/config.toml, falling back
// to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(taskmeshHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.taskmesh/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(taskmeshHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// taskmeshHome returns the node data directory.
func taskmeshHome() string {
	if env := os.Getenv("TASKMESH_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".taskmesh")
}

// TaskmeshHome is exported for use by other packages.
func TaskmeshHome() string {
	return taskmeshHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
