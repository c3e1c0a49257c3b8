package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entropyqad/internal/entropyqa"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecorderCaptureWritesSnapshot(t *testing.T) {
	s := openTestStore(t)
	reg := entropyqa.NewMonitorRegistry()
	monitor, err := entropyqa.NewHealthMonitor("dev0", true, reg)
	require.NoError(t, err)
	defer monitor.Close()

	monitor.Check(make([]byte, entropyqa.FIPSBlockSize))

	rec := NewRecorder(s, monitor, time.Minute, 10)
	require.NoError(t, rec.Capture(42))

	rows, err := s.Latest("dev0", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "dev0", rows[0].MonitorID)
	assert.Equal(t, int64(42), rows[0].CapturedAtNs)
	assert.Equal(t, uint64(entropyqa.FIPSBlockSize), rows[0].BytesAnalysed)
	assert.False(t, rows[0].OverallOK, "an all-zero block should fail FIPS")

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rows[0].ReportJSON, &decoded))
	assert.Contains(t, decoded, "QA")
	assert.Contains(t, decoded, "FIPS")
}

func TestRecorderRunStopsOnContextCancel(t *testing.T) {
	s := openTestStore(t)
	reg := entropyqa.NewMonitorRegistry()
	monitor, err := entropyqa.NewHealthMonitor("dev0", true, reg)
	require.NoError(t, err)
	defer monitor.Close()

	rec := NewRecorder(s, monitor, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	rows, err := s.Latest("dev0", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, rows, "expected at least one periodic capture")
}
