// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials returns the pid and uid of the process on the other
// end of a Unix socket connection.
func peerCredentials(conn net.Conn) (pid int32, uid uint32, err error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, 0, errors.New("not a unix socket connection")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return 0, 0, err
	}
	var credentials *unix.Ucred
	var sockoptErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, sockoptErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, 0, err
	}
	if sockoptErr != nil {
		return 0, 0, sockoptErr
	}
	return credentials.Pid, credentials.Uid, nil
}
