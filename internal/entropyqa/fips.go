package entropyqa

import (
	"encoding/json"
	"sync"
)

// FIPSBlockSize is the fixed block size the FIPS 140-2 battery evaluates:
// 20 000 bits, 2 500 bytes.
const FIPSBlockSize = 2500

// FIPSRecoveryMargin is the default number of consecutive fully-passing
// blocks required to leave the FAIL state and re-enter OK. The source
// material leaves the exact value to the implementation; the literature
// treats 2..8 as the reasonable range and this package's minimum is 2.
const FIPSRecoveryMargin = 2

const fipsBlockBits = FIPSBlockSize * 8
const fipsNibbles = FIPSBlockSize * 2

var (
	monobitMin = 9725
	monobitMax = 10275

	pokerMin = 2.16
	pokerMax = 46.17

	longRunFailAt = 26

	// runBands[i] is the [min,max] inclusive band for a run of length i+1,
	// where index 5 covers runs of length 6 or more. The same bands apply
	// to runs of 0s and runs of 1s.
	runBands = [6][2]int{
		{2315, 2685},
		{1114, 1386},
		{527, 723},
		{240, 384},
		{103, 209},
		{103, 209},
	}
)

// FipsResult is the verdict for a single 2 500-byte block.
type FipsResult struct {
	Monobit bool `json:"monobit"`
	Poker   bool `json:"poker"`
	Runs    bool `json:"runs"`
	LongRun bool `json:"long_run"`

	Ones       int       `json:"ones"`
	PokerX     float64   `json:"poker_x"`
	RunsZero   [6]uint64 `json:"runs_zero"`
	RunsOne    [6]uint64 `json:"runs_one"`
	LongestRun int       `json:"longest_run"`
}

// Pass reports whether every sub-test in the result passed.
func (r FipsResult) Pass() bool {
	return r.Monobit && r.Poker && r.Runs && r.LongRun
}

// Fips implements the FIPS 140-2 monobit/poker/runs/long-run battery over
// a stream of fixed-size blocks, with OK/FAIL hysteresis across blocks.
type Fips struct {
	mu sync.Mutex

	recoveryMargin   int
	blocksAnalysed   uint64
	blocksPassed     uint64
	consecutivePass  int
	last             FipsResult
	haveResult       bool
}

// NewFips creates a Fips analyzer with the default recovery margin.
func NewFips() *Fips {
	return NewFipsWithRecoveryMargin(FIPSRecoveryMargin)
}

// NewFipsWithRecoveryMargin creates a Fips analyzer requiring margin
// consecutive passing blocks to recover from FAIL. margin is clamped to
// at least 2.
func NewFipsWithRecoveryMargin(margin int) *Fips {
	if margin < 2 {
		margin = 2
	}
	return &Fips{recoveryMargin: margin}
}

// Analyse evaluates one 2 500-byte block and folds it into the analyzer's
// pass/fail history.
func (f *Fips) Analyse(block []byte) (FipsResult, error) {
	if len(block) != FIPSBlockSize {
		return FipsResult{}, ErrBadBlockSize
	}

	result := evaluateFipsBlock(block)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.blocksAnalysed++
	if result.Pass() {
		f.blocksPassed++
		f.consecutivePass++
	} else {
		f.consecutivePass = 0
	}
	f.last = result
	f.haveResult = true

	return result, nil
}

// HaveResults reports whether at least one block has been analysed.
func (f *Fips) HaveResults() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.haveResult
}

// IsOK applies the hysteresis rule: a single failing block flips OK to
// FAIL immediately; recovering from FAIL requires recoveryMargin
// consecutive fully-passing blocks. If no block has been analysed yet,
// prev is returned unchanged (no opinion).
func (f *Fips) IsOK(prev bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.haveResult {
		return prev
	}
	if !f.last.Pass() {
		return false
	}
	if prev {
		return true
	}
	return f.consecutivePass >= f.recoveryMargin
}

// ResultsAsJSON returns the aggregate counters and latest block result as
// a JSON object, matching the "FIPS" section of HealthMonitor.ReportJSON.
func (f *Fips) ResultsAsJSON() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return json.Marshal(struct {
		BlocksAnalysed uint64 `json:"BlocksAnalysed"`
		BlocksPassed   uint64 `json:"BlocksPassed"`
		Monobit        bool   `json:"Monobit"`
		Poker          bool   `json:"Poker"`
		Runs           bool   `json:"Runs"`
		LongRun        bool   `json:"LongRun"`
	}{
		BlocksAnalysed: f.blocksAnalysed,
		BlocksPassed:   f.blocksPassed,
		Monobit:        f.last.Monobit,
		Poker:          f.last.Poker,
		Runs:           f.last.Runs,
		LongRun:        f.last.LongRun,
	})
}

func evaluateFipsBlock(block []byte) FipsResult {
	var (
		ones       int
		nibbleHist [16]uint64
		zeroRuns   [6]uint64
		oneRuns    [6]uint64
		longestRun int
	)

	record := func(polarity byte, length int) {
		bucket := length
		if bucket > 6 {
			bucket = 6
		}
		if polarity == 1 {
			oneRuns[bucket-1]++
		} else {
			zeroRuns[bucket-1]++
		}
	}

	var prevBit byte
	runLen := 0
	curLongest := 0

	for i, b := range block {
		nibbleHist[b>>4]++
		nibbleHist[b&0x0f]++

		for shift := 7; shift >= 0; shift-- {
			bit := (b >> uint(shift)) & 1
			if bit == 1 {
				ones++
			}

			if i == 0 && shift == 7 {
				prevBit = bit
				runLen = 1
				continue
			}

			if bit == prevBit {
				runLen++
			} else {
				record(prevBit, runLen)
				if runLen > curLongest {
					curLongest = runLen
				}
				prevBit = bit
				runLen = 1
			}
		}
	}
	record(prevBit, runLen)
	if runLen > curLongest {
		curLongest = runLen
	}
	longestRun = curLongest

	var pokerSumSq float64
	for _, h := range nibbleHist {
		pokerSumSq += float64(h) * float64(h)
	}
	pokerX := (16.0/float64(fipsNibbles))*pokerSumSq - float64(fipsNibbles)

	runsOK := true
	for i := 0; i < 6; i++ {
		band := runBands[i]
		if int(zeroRuns[i]) < band[0] || int(zeroRuns[i]) > band[1] {
			runsOK = false
		}
		if int(oneRuns[i]) < band[0] || int(oneRuns[i]) > band[1] {
			runsOK = false
		}
	}

	return FipsResult{
		Monobit:    ones > monobitMin && ones < monobitMax,
		Poker:      pokerX > pokerMin && pokerX < pokerMax,
		Runs:       runsOK,
		LongRun:    longestRun < longRunFailAt,
		Ones:       ones,
		PokerX:     pokerX,
		RunsZero:   zeroRuns,
		RunsOne:    oneRuns,
		LongestRun: longestRun,
	}
}
