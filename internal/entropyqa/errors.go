// Package entropyqa implements the statistical quality-assurance pipeline
// that sits between a raw entropy source and its downstream consumers.
//
// Three independent batteries analyse every byte that passes through a
// HealthMonitor: a FIPS 140-2 style block test, an 8-bit symbol entropy
// test ("Ent8") and a 16-bit symbol entropy test ("Ent16"). The monitor
// combines their verdicts with hysteresis and publishes JSON reports
// through a process-wide MonitorRegistry. A QaGate wires the monitor to a
// blocking byte source and a downstream peer, discarding and re-reading
// any block that fails the current verdict.
package entropyqa

import "errors"

// Sentinel errors. Analyzers never return an error for an ordinary
// statistical failure - that is expressed as a false verdict. These are
// reserved for invariant violations and caller misuse.
var (
	// ErrInsufficientData is returned by a result accessor when the
	// analyzer's window has not yet closed. Callers must treat it as "no
	// opinion" and never as a passing verdict.
	ErrInsufficientData = errors.New("entropyqa: insufficient data for a verdict")

	// ErrBadBlockSize is returned when a caller hands the low-level FIPS
	// entry point a slice that is not exactly FIPSBlockSize bytes.
	ErrBadBlockSize = errors.New("entropyqa: fips block must be exactly 2500 bytes")

	// ErrRegistryClosed is returned by Register after the registry has
	// been torn down at process exit. It is treated as fatal by callers.
	ErrRegistryClosed = errors.New("entropyqa: registry is closed")

	// ErrNumericEdge documents the numeric-edge-case contract: analyzers
	// treat empty histogram bins as contributing zero entropy and never
	// produce NaN or Inf. No code path currently returns this error; it
	// is kept so the Err* table stays complete if a future analyzer needs
	// to surface a genuine numeric fault instead of silently clamping.
	ErrNumericEdge = errors.New("entropyqa: numeric edge case in analyzer")
)
