package entropyqa

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func allZeroBlock() []byte {
	return make([]byte, FIPSBlockSize)
}

func repeatedByteBlock(b byte) []byte {
	block := make([]byte, FIPSBlockSize)
	for i := range block {
		block[i] = b
	}
	return block
}

func TestFipsAllZeroBlockFails(t *testing.T) {
	f := NewFips()
	result, err := f.Analyse(allZeroBlock())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Ones)
	assert.False(t, result.Monobit, "monobit must fail on an all-zero block")
	assert.False(t, result.LongRun, "longrun must fail on an all-zero block")
	assert.False(t, result.Pass())

	assert.False(t, f.IsOK(true), "a single failing block must flip OK to FAIL")
}

func TestFipsRepeatedAABlock(t *testing.T) {
	f := NewFips()
	result, err := f.Analyse(repeatedByteBlock(0xAA))
	require.NoError(t, err)

	assert.Equal(t, 10000, result.Ones, "0xAA repeated has exactly 10000 one bits")
	assert.True(t, result.Monobit, "monobit passes at exactly 10000 ones")
	assert.True(t, result.LongRun, "0xAA alternates every bit, longest run is 1")
	assert.False(t, result.Poker, "every nibble is 0xA, poker must fail")
	assert.False(t, result.Pass())
}

func TestFipsBadBlockSize(t *testing.T) {
	f := NewFips()
	_, err := f.Analyse(make([]byte, 100))
	assert.ErrorIs(t, err, ErrBadBlockSize)
}

// pseudoRandomBlock fills a FIPS-sized block by hashing seed||counter with
// BLAKE2b in successive chunks, giving a reproducible stand-in for "a good
// entropy source" without depending on math/rand's global state.
func pseudoRandomBlock(seed uint64) []byte {
	block := make([]byte, FIPSBlockSize)

	seedBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(seedBytes, seed)

	var counter uint64
	for offset := 0; offset < len(block); offset += blake2b.Size256 {
		h, err := blake2b.New256(nil)
		if err != nil {
			panic(err)
		}
		h.Write(seedBytes)
		ctrBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(ctrBytes, counter)
		h.Write(ctrBytes)

		copy(block[offset:], h.Sum(nil))
		counter++
	}
	return block
}

func TestFipsHysteresisRecovery(t *testing.T) {
	f := NewFipsWithRecoveryMargin(2)

	// One all-zero block inside an otherwise good run must flip OK to
	// FAIL immediately, and recovery must wait for the margin.
	ok := true
	for i := uint64(0); i < 4; i++ {
		_, err := f.Analyse(pseudoRandomBlock(i + 1))
		require.NoError(t, err)
		ok = f.IsOK(ok)
	}
	require.True(t, ok, "warmup blocks expected to pass; adjust seed if this ever flakes")

	_, err := f.Analyse(allZeroBlock())
	require.NoError(t, err)
	ok = f.IsOK(ok)
	assert.False(t, ok, "a single bad block must flip OK to FAIL immediately")

	_, err = f.Analyse(pseudoRandomBlock(100))
	require.NoError(t, err)
	ok = f.IsOK(ok)
	assert.False(t, ok, "one good block is not enough to satisfy a margin of 2")

	_, err = f.Analyse(pseudoRandomBlock(101))
	require.NoError(t, err)
	ok = f.IsOK(ok)
	assert.True(t, ok, "two consecutive good blocks satisfy a margin of 2")
}

func TestFipsRecoveryMarginClampedToMinimum(t *testing.T) {
	f := NewFipsWithRecoveryMargin(0)
	assert.Equal(t, 2, f.recoveryMargin)
	f2 := NewFipsWithRecoveryMargin(1)
	assert.Equal(t, 2, f2.recoveryMargin)
}

func TestFipsResultsAsJSONBeforeAnalyse(t *testing.T) {
	f := NewFips()
	raw, err := f.ResultsAsJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(0), decoded["BlocksAnalysed"])
}

func TestFipsConcatenationSplitIdempotence(t *testing.T) {
	// Feeding identical content through two independently-constructed
	// analyzers must produce the same per-block verdict regardless of
	// how the caller assembled the block.
	block := repeatedByteBlock(0x3C)

	a := NewFips()
	b := NewFips()

	ra, err := a.Analyse(block)
	require.NoError(t, err)
	rb, err := b.Analyse(append([]byte{}, block...))
	require.NoError(t, err)

	assert.Equal(t, ra, rb)
}
