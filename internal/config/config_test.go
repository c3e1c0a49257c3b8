package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.RecoveryMargin != 2 {
		t.Errorf("expected recovery margin 2, got %d", cfg.RecoveryMargin)
	}
	if cfg.Ent8RecoveryWindows != 2 {
		t.Errorf("expected ent8 recovery windows 2, got %d", cfg.Ent8RecoveryWindows)
	}
	if !strings.Contains(cfg.SocketPath, ".entropyqa") {
		t.Errorf("socket path should contain .entropyqa: %s", cfg.SocketPath)
	}
	if !strings.Contains(cfg.LogPath, ".entropyqa") {
		t.Errorf("log path should contain .entropyqa: %s", cfg.LogPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if path == "" {
		t.Error("ConfigPath returned empty string")
	}
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
}

func TestLoadNonexistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RecoveryMargin != 2 {
		t.Errorf("expected recovery margin 2, got %d", cfg.RecoveryMargin)
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
socket_path = "/tmp/entropyqa.sock"
recovery_margin = 4
assume_ent8_ok = true
ent8_recovery_windows = 3
block_delay_ms = 50
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.SocketPath != "/tmp/entropyqa.sock" {
		t.Errorf("expected socket path /tmp/entropyqa.sock, got %s", cfg.SocketPath)
	}
	if cfg.RecoveryMargin != 4 {
		t.Errorf("expected recovery margin 4, got %d", cfg.RecoveryMargin)
	}
	if !cfg.AssumeEnt8OK {
		t.Error("expected assume_ent8_ok true")
	}
	if cfg.Ent8RecoveryWindows != 3 {
		t.Errorf("expected ent8 recovery windows 3, got %d", cfg.Ent8RecoveryWindows)
	}
	if cfg.BlockDelayMS != 50 {
		t.Errorf("expected block_delay_ms 50, got %d", cfg.BlockDelayMS)
	}
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `
recovery_margin = 5
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RecoveryMargin != 5 {
		t.Errorf("expected recovery margin 5, got %d", cfg.RecoveryMargin)
	}
	if !strings.Contains(cfg.SocketPath, ".entropyqa") {
		t.Error("socket path should keep its default value")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	content := `this is not valid toml {{{`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidateRejectsOutOfRangeRecoveryMargin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecoveryMargin = 1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for recovery_margin below 2")
	}

	cfg.RecoveryMargin = 9
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for recovery_margin above 8")
	}
}

func TestValidateRejectsMissingSocketPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SocketPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing socket_path")
	}
}

func TestValidateRejectsBadTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ent8Tolerance.ChiProbMin = 0.9
	cfg.Ent8Tolerance.ChiProbMax = 0.1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for inverted chi-probability band")
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &Config{
		SocketPath:    filepath.Join(tmpDir, "subdir1", "entropyqa.sock"),
		LogPath:       filepath.Join(tmpDir, "subdir2", "entropyqa.log"),
		HistoryDBPath: filepath.Join(tmpDir, "subdir3", "history.db"),
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, sub := range []string{"subdir1", "subdir2", "subdir3"} {
		if _, err := os.Stat(filepath.Join(tmpDir, sub)); os.IsNotExist(err) {
			t.Errorf("%s was not created", sub)
		}
	}
}

func TestEnt8TolConversion(t *testing.T) {
	cfg := DefaultConfig()
	tol := cfg.Ent8Tol()
	if tol.MeanExpected != 127.5 {
		t.Errorf("expected mean expected 127.5, got %v", tol.MeanExpected)
	}
}

func TestEnt16TolConversion(t *testing.T) {
	cfg := DefaultConfig()
	tol := cfg.Ent16Tol()
	if tol.MeanExpected != 32767.5 {
		t.Errorf("expected mean expected 32767.5, got %v", tol.MeanExpected)
	}
}
