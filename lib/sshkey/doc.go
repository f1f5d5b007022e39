// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package sshkey generates the per-VM SSH key pairs used to reach
// tenant VMs. Generation is one-shot: every provisioning attempt gets
// a fresh pair, and keys are never shared across tenants.
//
// The public half is encoded in OpenSSH authorized_keys wire format
// via golang.org/x/crypto/ssh. The private half is PKCS#1 PEM held in
// a secret.Buffer so it stays out of swap and core dumps until the
// caller encrypts it for storage.
package sshkey
