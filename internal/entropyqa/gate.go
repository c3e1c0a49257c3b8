package entropyqa

import (
	"context"
	"time"
)

// Source is a blocking byte source: a device file, a pool, anything that
// can fill a buffer and say how much it filled. Transport details (what
// backs Read) are deliberately outside this package's scope.
type Source interface {
	Read(buf []byte) (int, error)
}

// Peer is a downstream consumer of already-qualified bytes.
type Peer interface {
	Send(data []byte) error
}

// QaGate is the worker-loop contract of spec.md §4.7: read a block from
// a Source, submit it to a HealthMonitor, discard and retry on
// rejection, forward on acceptance. It guarantees that no byte handed to
// Peer is part of a block that failed the monitor's current verdict.
type QaGate struct {
	Monitor *HealthMonitor
	Source  Source
	Peer    Peer // nil for characterisation-only use (the SecretSink shape)

	// BlockDelay paces characterisation reads only; it is never applied
	// between a rejected block and its retry, and never applied by Serve.
	BlockDelay time.Duration
}

// readQualified blocks until a block read from Source passes the
// monitor's current verdict, retrying silently on rejection.
func (g *QaGate) readQualified(buf []byte) (int, error) {
	for {
		n, err := g.Source.Read(buf)
		if err != nil {
			return 0, err
		}
		if g.Monitor.Check(buf[:n]) {
			return n, nil
		}
	}
}

// RunCharacterisation runs the gate with no downstream Peer: it reads
// and discards blockSize blocks purely to drive the monitor's
// statistics, used to characterise a device (the SecretSink shape). It
// returns when ctx is cancelled or the Source returns an error (e.g.
// EOF or a device failure).
func (g *QaGate) RunCharacterisation(ctx context.Context, blockSize int) error {
	buf := make([]byte, blockSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := g.readQualified(buf); err != nil {
			return err
		}

		if g.BlockDelay > 0 {
			select {
			case <-time.After(g.BlockDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Serve handles one gated request/response cycle: it blocks until a
// block read into buf passes QA, then forwards exactly that slice to
// Peer. A rejected block is retried silently - per the source's
// socket responder, no error is ever sent back for a QA rejection.
func (g *QaGate) Serve(buf []byte) error {
	n, err := g.readQualified(buf)
	if err != nil {
		return err
	}
	return g.Peer.Send(buf[:n])
}

// SecretSink characterises a device's entropy quality with no
// downstream consumer, mirroring the original's SecretSink: a thread
// that does nothing but read and Check, forever, to build up the
// monitor's statistics.
type SecretSink struct {
	gate      *QaGate
	blockSize int
}

// NewSecretSink builds a SecretSink reading blockSize-byte blocks from
// source through monitor, pacing reads by blockDelay (0 disables
// pacing).
func NewSecretSink(source Source, monitor *HealthMonitor, blockSize int, blockDelay time.Duration) *SecretSink {
	return &SecretSink{
		gate: &QaGate{
			Monitor:    monitor,
			Source:     source,
			BlockDelay: blockDelay,
		},
		blockSize: blockSize,
	}
}

// Run blocks until ctx is cancelled or the underlying source errors.
func (s *SecretSink) Run(ctx context.Context) error {
	return s.gate.RunCharacterisation(ctx, s.blockSize)
}

// UDPResponder replies to a request with only bytes that passed QA,
// mirroring the original's SocketSource: it never sends an error
// datagram for a QA rejection, it simply keeps reading until a block
// passes.
type UDPResponder struct {
	gate *QaGate
}

// NewUDPResponder builds a responder reading from source and replying
// through peer, gated by monitor.
func NewUDPResponder(source Source, peer Peer, monitor *HealthMonitor) *UDPResponder {
	return &UDPResponder{
		gate: &QaGate{
			Monitor: monitor,
			Source:  source,
			Peer:    peer,
		},
	}
}

// Respond services one request: buf must already be sized to the amount
// of qualified data requested by the peer (request-size negotiation is a
// transport detail outside this package's scope).
func (u *UDPResponder) Respond(buf []byte) error {
	return u.gate.Serve(buf)
}
