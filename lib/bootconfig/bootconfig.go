// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package bootconfig

import (
	"fmt"
	"strings"
	"text/template"
)

// MaxUserDataBytes is the hard ceiling on rendered user data. The
// provider documents a 32 KiB limit on the user_data field; we stop
// well short of it and fail the render rather than truncate, because a
// silently truncated cloud-init document boots a half-configured VM.
const MaxUserDataBytes = 28 * 1024

// Config carries the deployment-wide inputs shared by every rendered
// boot configuration. None of these are tenant secrets.
type Config struct {
	// CallbackBaseURL is the externally reachable control-plane base
	// URL. The rendered payload phones home to
	// <CallbackBaseURL>/v1/tenants/<tenant>/boot-callback.
	CallbackBaseURL string

	// WorkloadRepo is the git URL of the workload repository cloned
	// onto every VM.
	WorkloadRepo string

	// WorkloadPackage is the npm package providing the workload CLI,
	// installed globally during first boot.
	WorkloadPackage string

	// Username is the unprivileged login created for the workload.
	// Defaults to "roost".
	Username string

	// WorkDir is the shared working directory created for the
	// workload. Defaults to "/srv/roost/work".
	WorkDir string
}

// Instance carries the per-VM render inputs. By construction there is
// nowhere to put a credential: secret injection happens over SSH after
// boot, never through this payload.
type Instance struct {
	// TenantID names the tenant the VM belongs to; it is embedded in
	// the phone-home URL.
	TenantID string

	// Hostname is the hostname assigned to the VM.
	Hostname string

	// AuthorizedKey is the OpenSSH authorized_keys line for the
	// freshly generated per-VM key pair, the sole login credential.
	AuthorizedKey string
}

// userDataTemplate is the cloud-init document skeleton. The phone_home
// module POSTs instance_id and hostname to the control plane once
// every other module has finished, which is the signal the
// provisioning orchestrator waits on.
const userDataTemplate = `#cloud-config
hostname: {{.Hostname}}
users:
  - name: {{.Username}}
    groups: [sudo]
    shell: /bin/bash
    sudo: ["ALL=(ALL) NOPASSWD:ALL"]
    lock_passwd: true
    ssh_authorized_keys:
      - {{.AuthorizedKey}}
package_update: true
packages:
  - git
  - curl
  - ca-certificates
  - jq
runcmd:
  - [sh, -c, "curl -fsSL https://deb.nodesource.com/setup_22.x | bash -"]
  - [apt-get, install, -y, nodejs]
  - [npm, install, -g, "{{.WorkloadPackage}}"]
  - [git, clone, "{{.WorkloadRepo}}", "{{.RepoDir}}"]
  - [mkdir, -p, "{{.WorkDir}}"]
  - [chown, -R, "{{.Username}}:{{.Username}}", "{{.RepoDir}}", "{{.WorkDir}}"]
phone_home:
  url: "{{.CallbackURL}}"
  post: [instance_id, hostname]
  tries: 10
`

// Builder renders boot configurations for one deployment.
type Builder struct {
	config   Config
	template *template.Template
}

// NewBuilder validates the deployment config and compiles the
// template.
func NewBuilder(config Config) (*Builder, error) {
	if config.CallbackBaseURL == "" {
		return nil, fmt.Errorf("bootconfig: callback base URL is required")
	}
	if !strings.HasPrefix(config.CallbackBaseURL, "http://") && !strings.HasPrefix(config.CallbackBaseURL, "https://") {
		return nil, fmt.Errorf("bootconfig: callback base URL %q is not an HTTP URL", config.CallbackBaseURL)
	}
	if config.WorkloadRepo == "" {
		return nil, fmt.Errorf("bootconfig: workload repository URL is required")
	}
	if config.WorkloadPackage == "" {
		return nil, fmt.Errorf("bootconfig: workload package is required")
	}
	if config.Username == "" {
		config.Username = "roost"
	}
	if config.WorkDir == "" {
		config.WorkDir = "/srv/roost/work"
	}

	compiled, err := template.New("user-data").Parse(userDataTemplate)
	if err != nil {
		return nil, fmt.Errorf("compiling user data template: %w", err)
	}
	return &Builder{config: config, template: compiled}, nil
}

// Build renders the cloud-init user data for one VM. It fails, never
// truncates, when the rendered document exceeds MaxUserDataBytes.
func (builder *Builder) Build(instance Instance) (string, error) {
	if instance.TenantID == "" {
		return "", fmt.Errorf("bootconfig: tenant id is required")
	}
	if instance.Hostname == "" {
		return "", fmt.Errorf("bootconfig: hostname is required")
	}
	if instance.AuthorizedKey == "" {
		return "", fmt.Errorf("bootconfig: authorized key is required")
	}
	// A multi-line key would break out of the YAML list entry.
	if strings.ContainsAny(instance.AuthorizedKey, "\r\n") {
		return "", fmt.Errorf("bootconfig: authorized key must be a single line")
	}

	callbackURL := strings.TrimSuffix(builder.config.CallbackBaseURL, "/") +
		"/v1/tenants/" + instance.TenantID + "/boot-callback"

	var rendered strings.Builder
	err := builder.template.Execute(&rendered, struct {
		Hostname        string
		Username        string
		AuthorizedKey   string
		WorkloadPackage string
		WorkloadRepo    string
		RepoDir         string
		WorkDir         string
		CallbackURL     string
	}{
		Hostname:        instance.Hostname,
		Username:        builder.config.Username,
		AuthorizedKey:   instance.AuthorizedKey,
		WorkloadPackage: builder.config.WorkloadPackage,
		WorkloadRepo:    builder.config.WorkloadRepo,
		RepoDir:         "/home/" + builder.config.Username + "/workload",
		WorkDir:         builder.config.WorkDir,
		CallbackURL:     callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("rendering user data: %w", err)
	}

	if rendered.Len() > MaxUserDataBytes {
		return "", fmt.Errorf("bootconfig: rendered user data is %d bytes, over the %d byte ceiling",
			rendered.Len(), MaxUserDataBytes)
	}
	return rendered.String(), nil
}
