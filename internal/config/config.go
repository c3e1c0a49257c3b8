// Package config handles configuration loading and validation for the
// entropy-qa daemon.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"entropyqad/internal/entropyqa"
)

// ToleranceConfig mirrors entropyqa.Tolerance in a TOML-friendly shape.
// MeanExpected is deliberately not configurable: it is a property of the
// symbol width (127.5 for Ent8, 32767.5 for Ent16), not a policy choice.
type ToleranceConfig struct {
	ChiProbMin    float64 `toml:"chi_prob_min"`
	ChiProbMax    float64 `toml:"chi_prob_max"`
	MeanTolerance float64 `toml:"mean_tolerance"`
	PiTolerance   float64 `toml:"pi_tolerance"`
	SerialCorrMax float64 `toml:"serial_corr_max"`
}

// toEntTolerance builds an entropyqa.Tolerance for the given analyzer's
// fixed mean expectation.
func (t ToleranceConfig) toEntTolerance(meanExpected float64) entropyqa.Tolerance {
	return entropyqa.Tolerance{
		ChiProbMin:    t.ChiProbMin,
		ChiProbMax:    t.ChiProbMax,
		MeanExpected:  meanExpected,
		MeanTolerance: t.MeanTolerance,
		PiTolerance:   t.PiTolerance,
		SerialCorrMax: t.SerialCorrMax,
	}
}

func fromEntTolerance(tol entropyqa.Tolerance) ToleranceConfig {
	return ToleranceConfig{
		ChiProbMin:    tol.ChiProbMin,
		ChiProbMax:    tol.ChiProbMax,
		MeanTolerance: tol.MeanTolerance,
		PiTolerance:   tol.PiTolerance,
		SerialCorrMax: tol.SerialCorrMax,
	}
}

// Config holds the daemon configuration.
type Config struct {
	// SocketPath is the Unix control-socket path the daemon listens on.
	SocketPath string `toml:"socket_path"`

	// LogPath is the path to the daemon log file.
	LogPath string `toml:"log_path"`

	// HistoryDBPath is the SQLite database recording analyzer history.
	HistoryDBPath string `toml:"history_db_path"`

	// ControlListenAddr is the HTTP control-plane listen address.
	ControlListenAddr string `toml:"control_listen_addr"`

	// RecoveryMargin is the FIPS hysteresis recovery margin, 2..8.
	RecoveryMargin int `toml:"recovery_margin"`

	// AssumeEnt8OK seeds HealthMonitor's initial ent8_ok verdict.
	AssumeEnt8OK bool `toml:"assume_ent8_ok"`

	// Ent8RecoveryWindows / Ent16RecoveryWindows are the consecutive
	// passing windows required to leave FAIL for each analyzer.
	Ent8RecoveryWindows  int `toml:"ent8_recovery_windows"`
	Ent16RecoveryWindows int `toml:"ent16_recovery_windows"`

	// BlockDelayMS paces characterisation-only reads (SecretSink); it is
	// never applied to the UDP responder path.
	BlockDelayMS int `toml:"block_delay_ms"`

	// TracingEnabled turns on span recording/export for the control
	// plane's request middleware. Off by default: the control plane is a
	// low-volume read-only API, so tracing is opt-in diagnostic tooling
	// rather than something every deployment needs running.
	TracingEnabled bool `toml:"tracing_enabled"`

	Ent8Tolerance  ToleranceConfig `toml:"ent8_tolerance"`
	Ent16Tolerance ToleranceConfig `toml:"ent16_tolerance"`
}

// Ent8Tol converts the configured Ent8 tolerance into entropyqa's type.
func (c *Config) Ent8Tol() entropyqa.Tolerance {
	return c.Ent8Tolerance.toEntTolerance(127.5)
}

// Ent16Tol converts the configured Ent16 tolerance into entropyqa's type.
func (c *Config) Ent16Tol() entropyqa.Tolerance {
	return c.Ent16Tolerance.toEntTolerance(32767.5)
}

// DefaultConfig returns a configuration with sensible defaults, matching
// the Open Questions decisions recorded in DESIGN.md.
func DefaultConfig() *Config {
	dir := EntropyQADir()

	return &Config{
		SocketPath:           filepath.Join(dir, "entropyqa.sock"),
		LogPath:              filepath.Join(dir, "entropyqa.log"),
		HistoryDBPath:        filepath.Join(dir, "history.db"),
		ControlListenAddr:    "127.0.0.1:9454",
		RecoveryMargin:       entropyqa.FIPSRecoveryMargin,
		AssumeEnt8OK:         false,
		Ent8RecoveryWindows:  entropyqa.EntRecoveryWindows,
		Ent16RecoveryWindows: entropyqa.EntRecoveryWindows,
		BlockDelayMS:         0,
		TracingEnabled:       false,
		Ent8Tolerance:        fromEntTolerance(entropyqa.DefaultEnt8Tolerance()),
		Ent16Tolerance:       fromEntTolerance(entropyqa.DefaultEnt16Tolerance()),
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(EntropyQADir(), "config.toml")
}

// EntropyQADir returns the base configuration/state directory.
func EntropyQADir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".entropyqa")
}

// Load reads configuration from the specified path. If the file doesn't
// exist, returns default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for errors, returning the first fatal
// one. Callers that want the complete list (e.g. a config-reload API) should
// call ValidateConfig directly.
func (c *Config) Validate() error {
	errs := ValidateConfig(c).Errors()
	if len(errs) == 0 {
		return nil
	}
	return errors.New(errs[0].Error())
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.SocketPath),
		filepath.Dir(c.LogPath),
		filepath.Dir(c.HistoryDBPath),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	return nil
}
