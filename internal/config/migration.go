// Package config handles configuration loading and validation for the
// entropy-qa daemon.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current on-disk configuration schema version. The daemon
// has shipped only one schema so far; this exists so a future breaking
// change to Config has somewhere to hook a migration without having to
// invent the version-tracking machinery at that point.
const Version = 1

// MigrationResult describes what a config migration did.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig is a no-op at schema version 1: there is nothing to
// migrate from yet. It still takes the config file path so that the day a
// v2 schema lands, callers don't need to change.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	_ = cfg
	_ = configPath
	return nil, nil
}

// backupConfig creates a timestamped backup of the config file. Nothing
// calls it yet: neither MigrateConfig nor SaveConfig makes a backup.
func backupConfig(configPath string) (string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return "", nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	backupPath := configPath + ".backup-" + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	return backupPath, nil
}

// SaveConfig writes the configuration to path, choosing the encoding from
// the file extension and defaulting to TOML.
func SaveConfig(cfg *Config, path string) error {
	var data []byte
	var err error

	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		if encErr := enc.Encode(cfg); encErr != nil {
			return fmt.Errorf("encode config: %w", encErr)
		}
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
