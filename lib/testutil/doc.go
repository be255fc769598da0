// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the console packages'
// tests: short socket paths, bounded channel waits, polling
// conditions, and loggers that write through the test's log.
package testutil
