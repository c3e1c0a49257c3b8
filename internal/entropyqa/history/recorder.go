package history

import (
	"context"
	"fmt"
	"time"

	"entropyqad/internal/entropyqa"
)

// Recorder periodically captures a HealthMonitor's ReportJSON into a Store,
// trimming each monitor's history back to Keep rows per capture.
type Recorder struct {
	Store    *Store
	Monitor  *entropyqa.HealthMonitor
	Interval time.Duration
	Keep     int
}

// NewRecorder builds a Recorder with the given capture interval and
// per-monitor retention window.
func NewRecorder(store *Store, monitor *entropyqa.HealthMonitor, interval time.Duration, keep int) *Recorder {
	return &Recorder{
		Store:    store,
		Monitor:  monitor,
		Interval: interval,
		Keep:     keep,
	}
}

// Capture records a single snapshot of the monitor's current state.
func (r *Recorder) Capture(capturedAtNs int64) error {
	reportJSON, err := r.Monitor.ReportJSON()
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	analysed, passed := r.Monitor.Counters()

	snap := &Snapshot{
		MonitorID:     r.Monitor.ID(),
		CapturedAtNs:  capturedAtNs,
		BytesAnalysed: analysed,
		BytesPassed:   passed,
		OverallOK:     r.Monitor.OK(),
		ReportJSON:    reportJSON,
	}

	_, err = r.Store.Insert(snap, r.Keep)
	return err
}

// Run captures a snapshot every Interval until ctx is cancelled. It is
// meant to be started in its own goroutine by the daemon entrypoint.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := r.Capture(t.UnixNano()); err != nil {
				continue
			}
		}
	}
}
