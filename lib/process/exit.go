// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Roost
// binaries. These functions centralize the raw I/O that happens before
// or after the structured logger exists: fatal error reporting to
// stderr and process exit after an unrecoverable error in main().
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. This is
// the standard Roost binary entrypoint error handler. Use it in main()
// for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
