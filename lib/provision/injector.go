// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roost-sh/roost/lib/secret"
	"github.com/roost-sh/roost/lib/sshexec"
)

// injectTimeout bounds each individual injection step, connect and
// command alike.
const injectTimeout = 30 * time.Second

// WorkloadUnit is the systemd unit name the assistant workload runs
// under. The health monitor checks and restarts this same unit.
const WorkloadUnit = "roost-workload"

// SecretInjector is the orchestrator's view of the injector.
type SecretInjector interface {
	Inject(ctx context.Context, params InjectParams) error
}

// InjectParams carries everything one injection run needs. All secret
// buffers remain owned by the caller.
type InjectParams struct {
	// Host is the VM's public address.
	Host string

	// PrivateKey is the PEM SSH key for the VM login user.
	PrivateKey *secret.Buffer

	// AssistantCredentials is the access/refresh token document
	// written to the credential file.
	AssistantCredentials *secret.Buffer

	// BotToken is the messaging-bot token written to the environment
	// file.
	BotToken *secret.Buffer
}

// Injector places tenant secrets on a booted VM and starts the
// workload service. This is the only component that writes secret
// material to a VM filesystem, and it does so over SSH, never through
// the boot configuration.
type Injector struct {
	executor sshexec.Executor
	username string
	workDir  string
	logger   *slog.Logger
}

// InjectorConfig configures an Injector.
type InjectorConfig struct {
	Executor sshexec.Executor

	// Username is the VM login user; defaults to "roost".
	Username string

	// WorkDir is the workload's working directory on the VM;
	// defaults to "/srv/roost/work".
	WorkDir string

	Logger *slog.Logger
}

// NewInjector validates the config and returns an Injector.
func NewInjector(config InjectorConfig) (*Injector, error) {
	if config.Executor == nil {
		return nil, fmt.Errorf("provision: injector executor is required")
	}
	if config.Username == "" {
		config.Username = "roost"
	}
	if config.WorkDir == "" {
		config.WorkDir = "/srv/roost/work"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Injector{
		executor: config.Executor,
		username: config.Username,
		workDir:  config.WorkDir,
		logger:   config.Logger,
	}, nil
}

// unitTemplate is the systemd unit installed for the workload.
const unitTemplate = `[Unit]
Description=Roost assistant workload
After=network-online.target

[Service]
User=%s
EnvironmentFile=%s
WorkingDirectory=%s
ExecStart=/usr/bin/env roost-workload run
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// injectStep is one named command in the injection sequence.
type injectStep struct {
	name    string
	command string
}

// Inject runs the secret placement sequence. The first failing step
// aborts the run with an error naming that step.
func (injector *Injector) Inject(ctx context.Context, params InjectParams) error {
	if params.Host == "" {
		return fmt.Errorf("provision: inject host is required")
	}
	if params.PrivateKey == nil || params.AssistantCredentials == nil || params.BotToken == nil {
		return fmt.Errorf("provision: inject secrets are incomplete")
	}

	home := "/home/" + injector.username
	credentialDir := home + "/.roost"
	credentialFile := credentialDir + "/credentials.json"
	environmentFile := credentialDir + "/workload.env"
	unitFile := "/etc/systemd/system/" + WorkloadUnit + ".service"

	environment := fmt.Sprintf("ROOST_BOT_TOKEN=%s\nROOST_WORKDIR=%s\n",
		params.BotToken.String(), injector.workDir)
	unit := fmt.Sprintf(unitTemplate, injector.username, environmentFile, injector.workDir)

	steps := []injectStep{
		{
			name:    "create credentials directory",
			command: fmt.Sprintf("mkdir -p %s && chmod 700 %s", credentialDir, credentialDir),
		},
		{
			name:    "write credential file",
			command: writeFileCommand(credentialFile, params.AssistantCredentials.Bytes(), "600", false),
		},
		{
			name:    "write environment file",
			command: writeFileCommand(environmentFile, []byte(environment), "600", false),
		},
		{
			name: "install service unit",
			command: writeFileCommand(unitFile, []byte(unit), "644", true) +
				" && sudo systemctl daemon-reload",
		},
		{
			name:    "enable and start service",
			command: fmt.Sprintf("sudo systemctl enable --now %s", WorkloadUnit),
		},
		{
			name:    "verify service active",
			command: fmt.Sprintf("systemctl is-active %s", WorkloadUnit),
		},
	}

	target := sshexec.Target{
		Host:           params.Host,
		User:           injector.username,
		PrivateKey:     params.PrivateKey,
		ConnectTimeout: injectTimeout,
		CommandTimeout: injectTimeout,
	}

	for _, step := range steps {
		result, err := injector.executor.Execute(ctx, target, step.command)
		if err != nil {
			return fmt.Errorf("injection step %q: %w", step.name, err)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("injection step %q: exit %d: %s",
				step.name, result.ExitCode, strings.TrimSpace(result.Stderr))
		}
		if step.name == "verify service active" && strings.TrimSpace(result.Stdout) != "active" {
			return fmt.Errorf("injection step %q: service reports %q",
				step.name, strings.TrimSpace(result.Stdout))
		}
		injector.logger.Debug("injection step complete", "step", step.name, "host", params.Host)
	}
	return nil
}

// writeFileCommand builds a shell command that writes content to path
// with the given mode. Content travels base64-encoded so no shell
// quoting can mangle it.
func writeFileCommand(path string, content []byte, mode string, privileged bool) string {
	encoded := base64.StdEncoding.EncodeToString(content)
	sudo := ""
	if privileged {
		sudo = "sudo "
	}
	return fmt.Sprintf("echo %s | base64 -d | %stee %s >/dev/null && %schmod %s %s",
		encoded, sudo, path, sudo, mode, path)
}
