//go:build !windows

package hardware

import (
	"fmt"
	"os"

	"github.com/google/go-tpm/tpm2/transport"
)

// tpmDevicePaths mirrors internal/tpm's device preference order: the
// resource manager device first, falling back to direct access.
var tpmDevicePaths = []string{
	"/dev/tpmrm0",
	"/dev/tpm0",
}

func openPlatformTPM() (transport.TPM, error) {
	for _, path := range tpmDevicePaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		t, err := transport.OpenTPM(path)
		if err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("no accessible TPM device among %v", tpmDevicePaths)
}
