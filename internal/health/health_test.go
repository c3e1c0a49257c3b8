package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileExistsCheckPresent(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "history.db")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	result := FileExistsCheck(path)(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("expected StatusHealthy, got %v (%s)", result.Status, result.Message)
	}
}

func TestFileExistsCheckMissing(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "does-not-exist.db")

	result := FileExistsCheck(path)(context.Background())
	if result.Status != StatusUnhealthy {
		t.Errorf("expected StatusUnhealthy, got %v", result.Status)
	}
	if result.Error == "" {
		t.Error("expected a non-empty Error field")
	}
}

func TestMemoryCheckWithinThreshold(t *testing.T) {
	result := MemoryCheck(^uint64(0))(context.Background())
	if result.Status != StatusHealthy {
		t.Errorf("expected StatusHealthy with an unreachable threshold, got %v", result.Status)
	}
}

func TestMemoryCheckOverThreshold(t *testing.T) {
	result := MemoryCheck(0)(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("expected StatusDegraded with a zero threshold, got %v", result.Status)
	}
}

func TestCheckerRunsRegisteredChecks(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("always-healthy", true, CustomCheck(func() error { return nil }))
	c.RegisterFunc("always-unhealthy", false, CustomCheck(func() error { return context.DeadlineExceeded }))

	results := c.Check(context.Background())
	if results["always-healthy"].Status != StatusHealthy {
		t.Errorf("expected always-healthy to be StatusHealthy, got %v", results["always-healthy"].Status)
	}
	if results["always-unhealthy"].Status != StatusUnhealthy {
		t.Errorf("expected always-unhealthy to be StatusUnhealthy, got %v", results["always-unhealthy"].Status)
	}

	// always-unhealthy is non-critical, so overall status should only be degraded.
	if c.OverallStatus() != StatusDegraded {
		t.Errorf("expected OverallStatus StatusDegraded, got %v", c.OverallStatus())
	}
}
