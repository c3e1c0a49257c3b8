//go:build !windows

package main

import "os"

// osRandomSource reads raw OS-supplied entropy straight from /dev/urandom,
// bypassing any TPM. It exists purely as a fallback entropyqa.Source when
// no TPM is available to characterise - the bytes it produces are never
// treated as "already qualified", only as grist for the HealthMonitor.
type osRandomSource struct{}

func (osRandomSource) Read(p []byte) (int, error) {
	f, err := os.Open("/dev/urandom")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Read(p)
}
