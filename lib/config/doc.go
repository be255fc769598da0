// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration of a console host process.
//
// The file is named explicitly with --config or the
// BUREAU_CONSOLE_CONFIG environment variable; there is no discovery.
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas permitted; everything else is YAML. Values absent
// from the file keep the defaults from [Default].
package config
