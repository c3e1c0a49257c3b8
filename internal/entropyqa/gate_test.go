package entropyqa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource replays a fixed slice of blocks, then returns errStreamEnd.
type fixedSource struct {
	blocks [][]byte
	next   int
}

var errStreamEnd = errors.New("fixedSource: stream exhausted")

func (s *fixedSource) Read(buf []byte) (int, error) {
	if s.next >= len(s.blocks) {
		return 0, errStreamEnd
	}
	n := copy(buf, s.blocks[s.next])
	s.next++
	return n, nil
}

// recordingPeer captures every block it is sent.
type recordingPeer struct {
	sent [][]byte
}

func (p *recordingPeer) Send(data []byte) error {
	cp := append([]byte{}, data...)
	p.sent = append(p.sent, cp)
	return nil
}

func TestQaGateRetriesRejectedBlocks(t *testing.T) {
	reg := NewMonitorRegistry()
	m, err := NewHealthMonitor("gate", true, reg)
	require.NoError(t, err)
	defer m.Close()

	bad := make([]byte, FIPSBlockSize)
	good := pseudoRandomBlock(21)

	src := &fixedSource{blocks: [][]byte{bad, bad, good, good}}
	peer := &recordingPeer{}

	gate := &QaGate{Monitor: m, Source: src, Peer: peer}
	buf := make([]byte, FIPSBlockSize)
	require.NoError(t, gate.Serve(buf))

	require.Len(t, peer.sent, 1)
	assert.Equal(t, good, peer.sent[0], "only the first block to pass QA is forwarded")
	assert.Equal(t, 4, src.next, "two bad blocks and the first good one (FIPS still recovering) must be silently retried")
}

func TestQaGateNoErrorDatagramOnRejection(t *testing.T) {
	reg := NewMonitorRegistry()
	m, err := NewHealthMonitor("gate", true, reg)
	require.NoError(t, err)
	defer m.Close()

	bad := make([]byte, FIPSBlockSize)
	src := &fixedSource{blocks: [][]byte{bad}}
	peer := &recordingPeer{}

	gate := &QaGate{Monitor: m, Source: src, Peer: peer}
	buf := make([]byte, FIPSBlockSize)

	err = gate.Serve(buf)
	assert.ErrorIs(t, err, errStreamEnd, "exhausting the source while still rejecting propagates the source error, never a synthetic datagram")
	assert.Empty(t, peer.sent)
}

func TestSecretSinkHasNoPeer(t *testing.T) {
	reg := NewMonitorRegistry()
	m, err := NewHealthMonitor("sink", true, reg)
	require.NoError(t, err)
	defer m.Close()

	src := &fixedSource{blocks: [][]byte{pseudoRandomBlock(1), pseudoRandomBlock(2)}}
	sink := NewSecretSink(src, m, FIPSBlockSize, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Nil(t, sink.gate.Peer, "a characterisation sink never forwards bytes")

	err = sink.Run(ctx)
	assert.ErrorIs(t, err, errStreamEnd, "characterisation runs until the source errors or ctx is cancelled")
}

func TestUDPResponderForwardsOnlyQualifiedBytes(t *testing.T) {
	reg := NewMonitorRegistry()
	m, err := NewHealthMonitor("udp", true, reg)
	require.NoError(t, err)
	defer m.Close()

	good := pseudoRandomBlock(9)
	src := &fixedSource{blocks: [][]byte{good, good}}
	peer := &recordingPeer{}

	responder := NewUDPResponder(src, peer, m)
	buf := make([]byte, FIPSBlockSize)
	require.NoError(t, responder.Respond(buf))

	require.Len(t, peer.sent, 1)
	assert.Equal(t, good, peer.sent[0])
}
