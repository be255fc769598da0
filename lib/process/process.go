// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the console
// binaries for reporting errors before or after the structured logger
// exists.
package process

import (
	"errors"
	"fmt"
	"os"
)

// ExitError carries a specific process exit status out of run().
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// Exit terminates the process for the result of run(): nil exits 0, an
// *ExitError exits with its code silently, any other error is printed
// as "binary: err" and exits 1.
func Exit(binary string, err error) {
	os.Exit(report(binary, err))
}

func report(binary string, err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", binary, err)
	return 1
}
