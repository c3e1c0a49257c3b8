package entropyqa

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnt8AllZeroWindowFails(t *testing.T) {
	e := newEntCore(8, 1000, DefaultEnt8Tolerance(), 2)
	e.Analyse(make([]byte, 1000))

	require.True(t, e.HaveResults())
	raw, err := e.ResultsAsJSON()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"ChiProbability"`)

	assert.False(t, e.IsOK(true), "an all-zero window has zero entropy and must fail")
}

func TestEnt8UniformDistinctBytesTooGoodFails(t *testing.T) {
	const window = 2560 // multiple of 256 so every symbol appears equally often
	e := newEntCore(8, window, DefaultEnt8Tolerance(), 2)

	data := make([]byte, window)
	for i := range data {
		data[i] = byte(i % 256)
	}
	e.Analyse(data)

	require.True(t, e.HaveResults())
	// Perfectly uniform data pushes chi-probability toward 1.0, which is
	// outside the [0.01, 0.99] two-sided band: "too good" also fails.
	assert.False(t, e.IsOK(true))
}

func TestEnt8HistogramSumsToSamples(t *testing.T) {
	e := newEntCore(8, 1000, DefaultEnt8Tolerance(), 2)
	e.Analyse(pseudoRandomBlock(7)[:500])

	raw, err := e.RawDataJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	var hist []uint64
	require.NoError(t, json.Unmarshal(raw, &hist))
	require.Len(t, hist, 256)
	var sum uint64
	for _, h := range hist {
		sum += h
	}
	assert.Equal(t, uint64(500), sum)
}

func TestEnt16SymbolAssembly(t *testing.T) {
	e := newEntCore(16, 4, DefaultEnt16Tolerance(), 2)

	// Four 16-bit symbols: (0x00,0x01) (0x02,0x03) ... assembled big-endian
	// from consecutive byte pairs.
	e.Analyse([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})

	require.True(t, e.HaveResults())
	assert.Equal(t, uint64(4), e.lastResult.Samples)
}

func TestEntSplitFeedMatchesSingleFeed(t *testing.T) {
	data := pseudoRandomBlock(42)[:2000]

	whole := newEntCore(8, 2000, DefaultEnt8Tolerance(), 2)
	whole.Analyse(data)

	split := newEntCore(8, 2000, DefaultEnt8Tolerance(), 2)
	split.Analyse(data[:700])
	split.Analyse(data[700:1300])
	split.Analyse(data[1300:])

	require.True(t, whole.HaveResults())
	require.True(t, split.HaveResults())
	assert.Equal(t, whole.lastResult, split.lastResult)
}

func TestEntHysteresisNoResultReturnsPrev(t *testing.T) {
	e := newEntCore(8, 10_000, DefaultEnt8Tolerance(), 2)
	assert.True(t, e.IsOK(true), "no closed window yet: prev is returned unchanged")
	assert.False(t, e.IsOK(false))
}

func TestEntEntropyNeverExceedsBitWidth(t *testing.T) {
	e := newEntCore(8, 256, DefaultEnt8Tolerance(), 2)
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	e.Analyse(data)

	require.True(t, e.HaveResults())
	assert.LessOrEqual(t, e.lastResult.EntropyBitsPerSymbol, 8.0+1e-9)
	assert.GreaterOrEqual(t, e.lastResult.ChiProbability, 0.0)
	assert.LessOrEqual(t, e.lastResult.ChiProbability, 1.0)
}
