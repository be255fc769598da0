// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"testing"
)

func TestReportExitCodes(t *testing.T) {
	if code := report("test", nil); code != 0 {
		t.Errorf("nil error exited %d, want 0", code)
	}
	if code := report("test", fmt.Errorf("wrapped: %w", &ExitError{Code: 3})); code != 3 {
		t.Errorf("ExitError exited %d, want 3", code)
	}
	if code := report("test", fmt.Errorf("listen failed")); code != 1 {
		t.Errorf("plain error exited %d, want 1", code)
	}
}
