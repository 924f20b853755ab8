//go:build linux

package ipc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials extracts the connecting process's pid and uid via
// SO_PEERCRED.
func peerCredentials(conn net.Conn) (pid int32, uid uint32, err error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return -1, 0, fmt.Errorf("not a unix connection")
	}

	file, err := unixConn.File()
	if err != nil {
		return -1, 0, fmt.Errorf("get file descriptor: %w", err)
	}
	defer file.Close()

	cred, err := unix.GetsockoptUcred(int(file.Fd()), unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return -1, 0, fmt.Errorf("get peer credentials: %w", err)
	}
	return cred.Pid, cred.Uid, nil
}
