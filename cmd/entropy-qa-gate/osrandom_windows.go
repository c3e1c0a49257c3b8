//go:build windows

package main

import "crypto/rand"

// osRandomSource is osRandomSource's Windows counterpart, drawing from
// CryptGenRandom via crypto/rand instead of a /dev node.
type osRandomSource struct{}

func (osRandomSource) Read(p []byte) (int, error) {
	return rand.Read(p)
}
