package entropyqa

import (
	"encoding/json"
	"math"
	"sync"
)

// Window sizes, named after the spec's ENT8_WINDOW / ENT16_WINDOW.
const (
	Ent8Window  = 500_000
	Ent16Window = 100_000_000
)

// EntRecoveryWindows is the default number of consecutive passing windows
// required to leave FAIL and re-enter OK, for both Ent8 and Ent16.
const EntRecoveryWindows = 2

// Tolerance bounds the pass criteria for one symbol-entropy analyzer.
type Tolerance struct {
	ChiProbMin     float64
	ChiProbMax     float64
	MeanExpected   float64
	MeanTolerance  float64
	PiTolerance    float64
	SerialCorrMax  float64
}

// DefaultEnt8Tolerance matches spec.md §4.3.
func DefaultEnt8Tolerance() Tolerance {
	return Tolerance{
		ChiProbMin:    0.01,
		ChiProbMax:    0.99,
		MeanExpected:  127.5,
		MeanTolerance: 0.5,
		PiTolerance:   0.01,
		SerialCorrMax: 0.02,
	}
}

// DefaultEnt16Tolerance matches spec.md §4.4: same chi-probability band
// and mean/pi tolerance geometry, scaled mean target, tighter serial
// correlation bound (the 100M-sample window averages out far more noise).
func DefaultEnt16Tolerance() Tolerance {
	return Tolerance{
		ChiProbMin:    0.01,
		ChiProbMax:    0.99,
		MeanExpected:  32767.5,
		MeanTolerance: 0.5,
		PiTolerance:   0.01,
		SerialCorrMax: 0.005,
	}
}

// EntResult is the output of one closed analysis window.
type EntResult struct {
	ChiSquared           float64 `json:"ChiSquared"`
	ChiProbability       float64 `json:"ChiProbability"`
	EntropyBitsPerSymbol float64 `json:"Entropy"`
	ArithmeticMean       float64 `json:"ArithmeticMean"`
	MonteCarloPi         float64 `json:"MonteCarloPi"`
	SerialCorrelation    float64 `json:"SerialCorrelation"`
	Samples              uint64  `json:"Samples"`
}

func (r EntResult) pass(tol Tolerance) bool {
	if r.ChiProbability < tol.ChiProbMin || r.ChiProbability > tol.ChiProbMax {
		return false
	}
	if math.Abs(r.ArithmeticMean-tol.MeanExpected) > tol.MeanTolerance {
		return false
	}
	if math.Abs(r.MonteCarloPi-math.Pi) > tol.PiTolerance {
		return false
	}
	if math.Abs(r.SerialCorrelation) >= tol.SerialCorrMax {
		return false
	}
	return true
}

// Ent implements the Ent8/Ent16 symbol-entropy battery: a chi-squared
// uniformity test, Shannon entropy, arithmetic mean, Monte-Carlo pi and
// serial correlation, evaluated once per closed window with OK/FAIL
// hysteresis across windows. Bit width (8 or 16) is a construction-time
// parameter; the two differ only in window size, bin count and
// tolerances.
type Ent struct {
	mu sync.Mutex

	bits           int
	window         uint64
	bins           int
	tolerance      Tolerance
	recoveryMargin int

	hist    []uint64
	samples uint64
	sum     float64
	sumSq   float64
	sumProd float64
	first   float64
	last    float64
	haveAny bool

	mcThrows  uint64
	mcInside  uint64
	pendingX  float64
	havePendX bool

	// Ent16 only: pending high byte of the current 16-bit symbol.
	highByte    byte
	haveHighByte bool

	lastResult      EntResult
	haveResult      bool
	consecutivePass int
}

// NewEnt8 creates an Ent analyzer over 8-bit symbols.
func NewEnt8() *Ent {
	return newEntCore(8, Ent8Window, DefaultEnt8Tolerance(), EntRecoveryWindows)
}

// NewEnt16 creates an Ent analyzer over 16-bit symbols.
func NewEnt16() *Ent {
	return newEntCore(16, Ent16Window, DefaultEnt16Tolerance(), EntRecoveryWindows)
}

// NewEnt8WithOptions creates an Ent8 analyzer with an operator-configured
// tolerance and recovery margin, for daemons that load these from config
// instead of accepting spec.md's defaults.
func NewEnt8WithOptions(tol Tolerance, recoveryMargin int) *Ent {
	return newEntCore(8, Ent8Window, tol, recoveryMargin)
}

// NewEnt16WithOptions is NewEnt8WithOptions's Ent16 counterpart.
func NewEnt16WithOptions(tol Tolerance, recoveryMargin int) *Ent {
	return newEntCore(16, Ent16Window, tol, recoveryMargin)
}

// newEntCore is the shared constructor; exposed unexported so tests can
// exercise the flush/hysteresis logic with a small window instead of
// waiting for a real Ent8/Ent16 window to close.
func newEntCore(bits int, window uint64, tol Tolerance, recoveryMargin int) *Ent {
	if recoveryMargin < 1 {
		recoveryMargin = EntRecoveryWindows
	}
	return &Ent{
		bits:           bits,
		window:         window,
		bins:           1 << uint(bits),
		tolerance:      tol,
		recoveryMargin: recoveryMargin,
		hist:           make([]uint64, 1<<uint(bits)),
	}
}

// Analyse ingests bytes incrementally. It may close zero or more windows
// in a single call (a large buffer can span several windows); only the
// last closed result is retained for reporting, matching the "most
// recent complete window" semantics of ResultsAsJSON.
func (e *Ent) Analyse(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bits == 8 {
		for _, b := range data {
			e.observe(float64(b))
			e.feedMonteCarlo8(b)
		}
		return
	}

	for _, b := range data {
		if !e.haveHighByte {
			e.highByte = b
			e.haveHighByte = true
			continue
		}
		hi, lo := e.highByte, b
		e.haveHighByte = false
		sym := float64(hi)*256 + float64(lo)
		e.observe(sym)
		e.feedMonteCarlo16(hi, lo)
	}
}

func (e *Ent) feedMonteCarlo8(b byte) {
	x := float64(b) / 255.0
	if !e.havePendX {
		e.pendingX = x
		e.havePendX = true
		return
	}
	e.monteCarloPoint(e.pendingX, x)
	e.havePendX = false
}

func (e *Ent) feedMonteCarlo16(hi, lo byte) {
	e.monteCarloPoint(float64(hi)/255.0, float64(lo)/255.0)
}

func (e *Ent) monteCarloPoint(x, y float64) {
	e.mcThrows++
	if x*x+y*y <= 1.0 {
		e.mcInside++
	}
}

// observe folds one symbol value into the running window and, if the
// window just closed, computes and stores the result.
func (e *Ent) observe(val float64) {
	sym := int(val)
	if sym >= 0 && sym < len(e.hist) {
		e.hist[sym]++
	}

	if !e.haveAny {
		e.first = val
		e.haveAny = true
	} else {
		e.sumProd += e.last * val
	}
	e.last = val
	e.sum += val
	e.sumSq += val * val
	e.samples++

	if e.samples >= e.window {
		e.closeWindow()
	}
}

func (e *Ent) closeWindow() {
	n := float64(e.samples)

	// Close the serial-correlation wraparound.
	e.sumProd += e.last * e.first

	var entropy float64
	for _, h := range e.hist {
		if h == 0 {
			continue
		}
		p := float64(h) / n
		entropy -= p * math.Log2(p)
	}

	expected := n / float64(e.bins)
	var chiSq float64
	for _, h := range e.hist {
		d := float64(h) - expected
		chiSq += d * d / expected
	}
	df := e.bins - 1
	chiProb := pochisq(chiSq, df)

	mean := e.sum / n

	var mcPi float64
	if e.mcThrows > 0 {
		mcPi = 4.0 * float64(e.mcInside) / float64(e.mcThrows)
	}

	denom := n*e.sumSq - e.sum*e.sum
	var serial float64
	if denom != 0 {
		serial = (n*e.sumProd - e.sum*e.sum) / denom
	}

	result := EntResult{
		ChiSquared:           chiSq,
		ChiProbability:       chiProb,
		EntropyBitsPerSymbol: entropy,
		ArithmeticMean:       mean,
		MonteCarloPi:         mcPi,
		SerialCorrelation:    serial,
		Samples:              e.samples,
	}

	if result.pass(e.tolerance) {
		e.consecutivePass++
	} else {
		e.consecutivePass = 0
	}
	e.lastResult = result
	e.haveResult = true

	for i := range e.hist {
		e.hist[i] = 0
	}
	e.samples = 0
	e.sum, e.sumSq, e.sumProd = 0, 0, 0
	e.haveAny = false
	e.mcThrows, e.mcInside = 0, 0
	e.havePendX = false
	e.haveHighByte = false
}

// HaveResults reports whether at least one window has closed.
func (e *Ent) HaveResults() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haveResult
}

// IsOK applies hysteresis across windows: one failing window flips OK to
// FAIL; recovery needs recoveryMargin consecutive passing windows. With
// no closed window yet, prev is returned unchanged.
func (e *Ent) IsOK(prev bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.haveResult {
		return prev
	}
	if !e.lastResult.pass(e.tolerance) {
		return false
	}
	if prev {
		return true
	}
	return e.consecutivePass >= e.recoveryMargin
}

// ResultsAsJSON returns the latest closed-window result.
func (e *Ent) ResultsAsJSON() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveResult {
		return nil, ErrInsufficientData
	}
	return json.Marshal(e.lastResult)
}

// RawDataJSON returns the full symbol histogram as a JSON array. It
// reflects the in-progress window, not only closed windows, since a raw
// dump is meant to show what the analyzer is currently seeing.
func (e *Ent) RawDataJSON() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return json.Marshal(e.hist)
}
