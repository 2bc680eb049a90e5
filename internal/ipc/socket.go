package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ErrPeerCredentialsUnsupported is returned where the kernel cannot report
// who is on the other end of a socket.
var ErrPeerCredentialsUnsupported = errors.New("ipc: peer credentials not supported on this platform")

// PeerCredentials identifies the process behind a control connection.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// claimSocket prepares path for a new listener. A live daemon behind the
// socket yields ErrAlreadyRunning; a dead socket file is removed.
func claimSocket(path string) error {
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		conn.Close()
		return ErrAlreadyRunning
	}
	return removeStaleSocket(path)
}

// removeStaleSocket deletes a leftover socket file. Anything else at path is
// left alone and reported.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return err
	case info.Mode()&os.ModeSocket == 0:
		return fmt.Errorf("ipc: %s exists and is not a socket", path)
	}
	return os.Remove(path)
}
