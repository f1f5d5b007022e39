// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package bootconfig

import (
	"strings"
	"testing"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	builder, err := NewBuilder(Config{
		CallbackBaseURL: "https://control.roost.example",
		WorkloadRepo:    "https://github.com/roost-sh/workload.git",
		WorkloadPackage: "@roost/assistant-cli",
	})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return builder
}

func testInstance() Instance {
	return Instance{
		TenantID:      "tenant-a1b2c3",
		Hostname:      "roost-tenant-a1b2c3",
		AuthorizedKey: "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAAB roost",
	}
}

func TestBuildRendersCompleteDocument(t *testing.T) {
	builder := testBuilder(t)
	rendered, err := builder.Build(testInstance())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !strings.HasPrefix(rendered, "#cloud-config\n") {
		t.Error("rendered document is not a cloud-config header")
	}
	for _, want := range []string{
		"hostname: roost-tenant-a1b2c3",
		"- ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAAB roost",
		"name: roost",
		`"@roost/assistant-cli"`,
		"https://github.com/roost-sh/workload.git",
		"https://control.roost.example/v1/tenants/tenant-a1b2c3/boot-callback",
		"post: [instance_id, hostname]",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered document missing %q", want)
		}
	}
}

func TestBuildTrimsTrailingSlashInCallbackURL(t *testing.T) {
	builder, err := NewBuilder(Config{
		CallbackBaseURL: "https://control.roost.example/",
		WorkloadRepo:    "https://github.com/roost-sh/workload.git",
		WorkloadPackage: "@roost/assistant-cli",
	})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	rendered, err := builder.Build(testInstance())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(rendered, "example//v1") {
		t.Error("callback URL has a doubled slash")
	}
}

func TestBuildRejectsOversizedDocument(t *testing.T) {
	builder, err := NewBuilder(Config{
		CallbackBaseURL: "https://control.roost.example",
		WorkloadRepo:    "https://github.com/roost-sh/workload.git",
		WorkloadPackage: "@roost/assistant-cli",
		WorkDir:         "/srv/" + strings.Repeat("x", MaxUserDataBytes),
	})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	rendered, err := builder.Build(testInstance())
	if err == nil {
		t.Fatal("expected size ceiling error")
	}
	if rendered != "" {
		t.Error("oversized render returned a truncated document")
	}
	if !strings.Contains(err.Error(), "ceiling") {
		t.Errorf("error %q does not mention the ceiling", err)
	}
}

func TestBuildRejectsMultiLineAuthorizedKey(t *testing.T) {
	builder := testBuilder(t)
	instance := testInstance()
	instance.AuthorizedKey = "ssh-rsa AAAA\nruncmd:\n  - [rm, -rf, /]"
	if _, err := builder.Build(instance); err == nil {
		t.Fatal("expected error for multi-line authorized key")
	}
}

func TestBuildRequiresInstanceFields(t *testing.T) {
	builder := testBuilder(t)
	for name, mutate := range map[string]func(*Instance){
		"tenant id": func(i *Instance) { i.TenantID = "" },
		"hostname":  func(i *Instance) { i.Hostname = "" },
		"key":       func(i *Instance) { i.AuthorizedKey = "" },
	} {
		instance := testInstance()
		mutate(&instance)
		if _, err := builder.Build(instance); err == nil {
			t.Errorf("missing %s: expected error", name)
		}
	}
}

func TestNewBuilderValidatesConfig(t *testing.T) {
	cases := []Config{
		{WorkloadRepo: "r", WorkloadPackage: "p"},
		{CallbackBaseURL: "ftp://x", WorkloadRepo: "r", WorkloadPackage: "p"},
		{CallbackBaseURL: "https://x", WorkloadPackage: "p"},
		{CallbackBaseURL: "https://x", WorkloadRepo: "r"},
	}
	for i, config := range cases {
		if _, err := NewBuilder(config); err == nil {
			t.Errorf("case %d: expected config validation error", i)
		}
	}
}
