package entropyqa

import (
	"encoding/json"
	"sync"
	"time"
)

// HealthMonitor owns one Fips, one Ent8 and one Ent16 analyzer for a named
// entropy source, combines their verdicts with hysteresis, and publishes
// JSON reports. It registers itself with a MonitorRegistry on construction
// and must be deregistered via Close.
type HealthMonitor struct {
	mu sync.Mutex

	id       string
	registry *MonitorRegistry

	bytesAnalysed uint64
	bytesPassed   uint64

	carry    [FIPSBlockSize]byte
	carryLen int

	fips  *Fips
	ent8  *Ent
	ent16 *Ent

	fipsOK  bool
	ent8OK  bool
	ent16OK bool

	checkHook func(CheckOutcome)
}

// NewHealthMonitor creates a monitor for the named source and registers it
// with reg. assumeEnt8OK seeds the initial Ent8 verdict: Ent16 needs 100M
// samples for its first result (tens of minutes at typical rates), so
// gating on it pessimistically would deny service from the first byte;
// Ent8 is the caller's choice of middle ground. fips_ok always starts
// false (the stricter, "no opinion yet" default), ent16_ok always starts
// true for the same reason.
func NewHealthMonitor(id string, assumeEnt8OK bool, reg *MonitorRegistry) (*HealthMonitor, error) {
	m := &HealthMonitor{
		id:      id,
		registry: reg,
		fips:    NewFips(),
		ent8:    NewEnt8(),
		ent16:   NewEnt16(),
		fipsOK:  false,
		ent8OK:  assumeEnt8OK,
		ent16OK: true,
	}
	if reg != nil {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MonitorOptions overrides the defaults NewHealthMonitor otherwise applies,
// for daemons that load recovery margins and tolerances from config.
type MonitorOptions struct {
	AssumeEnt8OK         bool
	FIPSRecoveryMargin   int
	Ent8RecoveryMargin   int
	Ent16RecoveryMargin  int
	Ent8Tolerance        Tolerance
	Ent16Tolerance       Tolerance
}

// NewHealthMonitorWithOptions is NewHealthMonitor with every analyzer's
// recovery margin and tolerance configurable instead of fixed at the
// package defaults.
func NewHealthMonitorWithOptions(id string, opts MonitorOptions, reg *MonitorRegistry) (*HealthMonitor, error) {
	m := &HealthMonitor{
		id:       id,
		registry: reg,
		fips:     NewFipsWithRecoveryMargin(opts.FIPSRecoveryMargin),
		ent8:     NewEnt8WithOptions(opts.Ent8Tolerance, opts.Ent8RecoveryMargin),
		ent16:    NewEnt16WithOptions(opts.Ent16Tolerance, opts.Ent16RecoveryMargin),
		fipsOK:   false,
		ent8OK:   opts.AssumeEnt8OK,
		ent16OK:  true,
	}
	if reg != nil {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ID returns the monitor's owner id.
func (m *HealthMonitor) ID() string {
	return m.id
}

// Close deregisters the monitor. It is the Go-idiomatic replacement for
// the source's destructor-time deregistration: callers must not call
// Check after Close.
func (m *HealthMonitor) Close() error {
	if m.registry != nil {
		m.registry.Deregister(m)
	}
	return nil
}

// CheckOutcome summarizes one Check call's per-analyzer verdicts. It is
// handed to an optional CheckHook so callers outside this package
// (metrics, audit logging) can observe Check activity without
// entropyqa depending on them.
type CheckOutcome struct {
	N              int
	Duration       time.Duration
	FipsOK         bool
	Ent8OK         bool
	Ent16OK        bool
	OverallOK      bool
	OverallFlipped bool
}

// SetCheckHook installs a callback invoked after every Check call with a
// summary of that call's verdicts. Passing nil disables the hook. The
// hook runs with the monitor unlocked, so it may safely call back into
// Counters/OK/ReportJSON.
func (m *HealthMonitor) SetCheckHook(hook func(CheckOutcome)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkHook = hook
}

// Check feeds buf through all three analyzers and returns true iff the
// combined verdict is currently OK. It updates bytes_analysed always and
// bytes_passed only when the returned verdict is true. An empty buf is a
// no-op: no counter changes and the current verdict is returned unchanged.
//
// The FIPS verdict is recomputed after every individual block - the
// carry-completion block and each full block in the loop below - rather
// than once at the end, so that a bad block occurring mid-call resets
// the hysteresis state before a later good block in the same call is
// evaluated against it. Folding the update into a single trailing
// IsOK call would let a stale "OK" from before this Check started
// mask a bad block that both started and ended the recovery count
// within one call.
func (m *HealthMonitor) Check(buf []byte) bool {
	start := time.Now()
	m.mu.Lock()

	prevOverall := m.fipsOK && m.ent8OK && m.ent16OK

	m.ent8.Analyse(buf)
	m.ent16.Analyse(buf)

	remaining := buf
	if m.carryLen > 0 {
		need := FIPSBlockSize - m.carryLen
		n := need
		if len(remaining) < n {
			n = len(remaining)
		}
		copy(m.carry[m.carryLen:], remaining[:n])
		m.carryLen += n
		remaining = remaining[n:]
		if m.carryLen == FIPSBlockSize {
			m.fips.Analyse(m.carry[:])
			m.fipsOK = m.fips.IsOK(m.fipsOK)
			m.carryLen = 0
		}
	}

	for len(remaining) >= FIPSBlockSize {
		m.fips.Analyse(remaining[:FIPSBlockSize])
		m.fipsOK = m.fips.IsOK(m.fipsOK)
		remaining = remaining[FIPSBlockSize:]
	}

	if len(remaining) > 0 {
		copy(m.carry[m.carryLen:], remaining)
		m.carryLen += len(remaining)
	}

	m.ent8OK = m.ent8.IsOK(m.ent8OK)
	m.ent16OK = m.ent16.IsOK(m.ent16OK)

	overall := m.fipsOK && m.ent8OK && m.ent16OK

	m.bytesAnalysed += uint64(len(buf))
	if overall {
		m.bytesPassed += uint64(len(buf))
	}

	hook := m.checkHook
	fipsOK, ent8OK, ent16OK := m.fipsOK, m.ent8OK, m.ent16OK
	m.mu.Unlock()

	if hook != nil {
		hook(CheckOutcome{
			N:              len(buf),
			Duration:       time.Since(start),
			FipsOK:         fipsOK,
			Ent8OK:         ent8OK,
			Ent16OK:        ent16OK,
			OverallOK:      overall,
			OverallFlipped: overall != prevOverall,
		})
	}

	return overall
}

// Counters returns the monitor's running byte totals, for callers (such as
// the history package) that need them without parsing ReportJSON.
func (m *HealthMonitor) Counters() (analysed, passed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesAnalysed, m.bytesPassed
}

// OK reports the current combined verdict without feeding new data.
func (m *HealthMonitor) OK() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fipsOK && m.ent8OK && m.ent16OK
}

// ReportJSON returns the monitor's aggregate counters plus each
// analyzer's latest results, in the shape documented in spec.md §6.
func (m *HealthMonitor) ReportJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qaJSON, err := json.Marshal(struct {
		BytesAnalysed uint64 `json:"BytesAnalysed"`
		BytesPassed   uint64 `json:"BytesPassed"`
	}{m.bytesAnalysed, m.bytesPassed})
	if err != nil {
		return nil, err
	}

	out := map[string]json.RawMessage{"QA": qaJSON}

	if fipsJSON, err := m.fips.ResultsAsJSON(); err == nil {
		out["FIPS"] = fipsJSON
	}
	if ent8JSON, err := m.ent8.ResultsAsJSON(); err == nil {
		out["Ent8"] = ent8JSON
	}
	if m.ent16.HaveResults() {
		if ent16JSON, err := m.ent16.ResultsAsJSON(); err == nil {
			out["Ent16"] = ent16JSON
		}
	}

	return json.Marshal(out)
}

// RawDataJSON returns the full symbol histograms for Ent8 and Ent16.
func (m *HealthMonitor) RawDataJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent8Raw, err := m.ent8.RawDataJSON()
	if err != nil {
		return nil, err
	}
	ent16Raw, err := m.ent16.RawDataJSON()
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]json.RawMessage{
		"Ent8":  ent8Raw,
		"Ent16": ent16Raw,
	})
}
