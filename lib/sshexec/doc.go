// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package sshexec runs single commands on tenant VMs over SSH. Each
// call opens one connection, runs exactly one command, and closes the
// connection; there is no pooling or session reuse.
//
// Failure modes are kept distinct: ErrConnect covers dial and
// handshake failures, ErrCommandTimeout covers a command overrunning
// its deadline, and a command that merely exits non-zero is not an
// error at all — the exit code is reported in the Result.
//
// Key exports:
//
//   - Executor: the interface the provisioner and health monitor
//     depend on.
//   - Client: the golang.org/x/crypto/ssh implementation.
//   - Target: host, login, and timeout parameters for one call.
package sshexec
