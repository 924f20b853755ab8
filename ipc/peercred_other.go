//go:build !linux

package ipc

import (
	"errors"
	"net"
)

// peerCredentials is unavailable off Linux; the service falls back to the
// REGISTER payload's parent-pid check alone.
func peerCredentials(conn net.Conn) (pid int32, uid uint32, err error) {
	return -1, 0, errors.New("peer credentials not supported on this platform")
}
