package entropyqa

import (
	"encoding/json"
	"sync"
)

// MonitorRegistry is a process-wide, thread-safe directory of named
// HealthMonitors. A single mutex guards both list structure and every
// snapshot operation, so stats/raw_data aggregation never observes a
// monitor appearing or disappearing mid-report.
//
// Locking discipline: Register/Deregister touch only the registry's own
// state. Stats and RawData hold the registry mutex for the whole
// aggregation and then briefly acquire each monitor's own mutex (inside
// ReportJSON/RawDataJSON) - that order (registry, then monitor) must
// never be inverted.
type MonitorRegistry struct {
	mu       sync.Mutex
	monitors []*HealthMonitor
	closed   bool
}

// NewMonitorRegistry creates an empty registry.
func NewMonitorRegistry() *MonitorRegistry {
	return &MonitorRegistry{}
}

// DefaultRegistry is a process-wide registry for callers that have no
// registry of their own. The monitor constructors do not fall back to it:
// a monitor constructed with a nil registry is not registered anywhere.
var DefaultRegistry = NewMonitorRegistry()

// Register appends m to the registry in insertion order. It returns
// ErrRegistryClosed if the registry has already been torn down.
func (r *MonitorRegistry) Register(m *HealthMonitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	r.monitors = append(r.monitors, m)
	return nil
}

// Deregister removes m by identity (pointer equality), not by id string,
// so two monitors sharing an id string never interfere with each other's
// lifecycle.
func (r *MonitorRegistry) Deregister(m *HealthMonitor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, mon := range r.monitors {
		if mon == m {
			r.monitors = append(r.monitors[:i], r.monitors[i+1:]...)
			return
		}
	}
}

// Close marks the registry as torn down; subsequent Register calls fail
// with ErrRegistryClosed. It does not touch already-registered monitors.
func (r *MonitorRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Ids returns a JSON array of all registered ids, in insertion order.
func (r *MonitorRegistry) Ids() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.monitors))
	for _, m := range r.monitors {
		ids = append(ids, m.ID())
	}
	return json.Marshal(ids)
}

// Stats returns a JSON object mapping id to report_json. An empty filter
// selects every monitor; otherwise only the monitor whose id equals
// filter is included (and the result may be an empty object).
func (r *MonitorRegistry) Stats(filter string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]json.RawMessage{}
	for _, m := range r.monitors {
		if filter != "" && m.ID() != filter {
			continue
		}
		rep, err := m.ReportJSON()
		if err != nil {
			return nil, err
		}
		out[m.ID()] = rep
	}
	return json.Marshal(out)
}

// RawData is Stats's counterpart over each monitor's raw_data_json.
func (r *MonitorRegistry) RawData(filter string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]json.RawMessage{}
	for _, m := range r.monitors {
		if filter != "" && m.ID() != filter {
			continue
		}
		raw, err := m.RawDataJSON()
		if err != nil {
			return nil, err
		}
		out[m.ID()] = raw
	}
	return json.Marshal(out)
}

// Len reports the current number of registered monitors, mainly useful
// in tests asserting registration/deregistration symmetry.
func (r *MonitorRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}
