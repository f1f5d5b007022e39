// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Roostctl is the operator CLI for the Roost control plane. It drives
// provisioning, deprovisioning, and status queries for individual
// tenants over the control plane's HTTP API, and generates the age
// identity roostd uses to seal tenant credentials at rest.
package main
