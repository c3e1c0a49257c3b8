// Package hardware adapts physical entropy devices to entropyqa.Source so
// their output can be run through the FIPS/Ent health battery before any
// downstream consumer sees a byte.
package hardware

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

// ErrTPMUnavailable is returned by Read when no TPM device could be opened.
var ErrTPMUnavailable = errors.New("hardware: tpm entropy source unavailable")

// tpmMaxRandomBytes is the largest single TPM2_GetRandom request this
// source will issue; callers asking for more are served by looping.
const tpmMaxRandomBytes = 48

// TPMCharacterisationSource characterises a TPM's hardware RNG as an
// entropyqa.Source, satisfying the DOMAIN STACK's TPM entropy
// characterisation requirement without taking on any of the witness
// device-identity/attestation responsibilities internal/tpm carries.
type TPMCharacterisationSource struct {
	mu        sync.Mutex
	transport transport.TPM

	bytesGenerated uint64
	errors         uint64
}

// OpenTPMCharacterisationSource opens the first available TPM device (platform
// specific: a character device on Unix, TBS on Windows) and returns a
// Source that reads from its hardware RNG via TPM2_GetRandom.
func OpenTPMCharacterisationSource() (*TPMCharacterisationSource, error) {
	t, err := openPlatformTPM()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTPMUnavailable, err)
	}
	return &TPMCharacterisationSource{transport: t}, nil
}

// Close releases the underlying TPM transport.
func (s *TPMCharacterisationSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if closer, ok := s.transport.(transport.TPMCloser); ok {
		return closer.Close()
	}
	return nil
}

// BytesGenerated reports the running total of bytes this source has
// produced, for internal/metrics to expose alongside the software sources.
func (s *TPMCharacterisationSource) BytesGenerated() uint64 {
	return atomic.LoadUint64(&s.bytesGenerated)
}

// Errors reports the running total of failed TPM2_GetRandom calls.
func (s *TPMCharacterisationSource) Errors() uint64 {
	return atomic.LoadUint64(&s.errors)
}

// Read implements entropyqa.Source, filling buf with TPM2_GetRandom
// output in chunks of at most tpmMaxRandomBytes, the largest single
// request most TPM 2.0 implementations will satisfy in one command.
func (s *TPMCharacterisationSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for total < len(buf) {
		want := len(buf) - total
		if want > tpmMaxRandomBytes {
			want = tpmMaxRandomBytes
		}

		cmd := tpm2.GetRandom{BytesRequested: uint16(want)}
		rsp, err := cmd.Execute(s.transport)
		if err != nil {
			atomic.AddUint64(&s.errors, 1)
			return total, fmt.Errorf("tpm2 GetRandom: %w", err)
		}

		got := copy(buf[total:], rsp.RandomBytes.Buffer)
		total += got
		atomic.AddUint64(&s.bytesGenerated, uint64(got))

		if got == 0 {
			return total, fmt.Errorf("tpm2 GetRandom: returned zero bytes")
		}
	}

	return total, nil
}
