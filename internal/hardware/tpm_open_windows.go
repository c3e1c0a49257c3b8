//go:build windows

package hardware

import (
	"github.com/google/go-tpm/tpm2/transport"
)

func openPlatformTPM() (transport.TPM, error) {
	return transport.OpenTPM()
}
