//go:build !linux

package ipc

import "net"

// GetPeerCredentials always fails off Linux; the server then admits by
// socket permissions alone.
func GetPeerCredentials(net.Conn) (*PeerCredentials, error) {
	return nil, ErrPeerCredentialsUnsupported
}
