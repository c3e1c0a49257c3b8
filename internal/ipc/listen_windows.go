//go:build windows

package ipc

import "net"

// Listen creates a named pipe at a path derived from socketPath and returns
// a net.Listener for it. Peer verification on Windows relies on the pipe's
// security descriptor rather than a post-accept check (see
// VerifyPeerIsCurrentUser), so no peerCheckedListener wrapping is needed.
func Listen(socketPath string) (net.Listener, error) {
	return NewWindowsPipeListener(socketPath)
}
