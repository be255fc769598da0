// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read frame: %w", io.EOF), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"closed", net.ErrClosed, true},
		{"epipe", &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}, true},
		{"econnreset", os.NewSyscallError("read", syscall.ECONNRESET), true},
		{"econnrefused", os.NewSyscallError("connect", syscall.ECONNREFUSED), false},
		{"other", errors.New("frame too large"), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsExpectedCloseError(test.err); got != test.want {
				t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("handshake: %w", os.ErrDeadlineExceeded)) {
		t.Error("deadline exceeded should be a timeout")
	}
	if IsTimeout(io.EOF) {
		t.Error("EOF should not be a timeout")
	}
}
