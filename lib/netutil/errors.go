// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies errors from socket reads and writes.
package netutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// connection: EOF, use of a closed connection, a broken pipe, or a
// reset from the peer. Console sessions end this way whenever either
// side disconnects, so these are logged at debug rather than as
// failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
