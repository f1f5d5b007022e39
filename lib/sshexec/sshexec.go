// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/roost-sh/roost/lib/secret"
)

var (
	// ErrConnect marks a failure to reach the host: dial, handshake,
	// or authentication within the connect timeout.
	ErrConnect = errors.New("ssh connect failed")

	// ErrCommandTimeout marks a command that did not finish within
	// the command timeout.
	ErrCommandTimeout = errors.New("ssh command timed out")
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
)

// Result is the outcome of one completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Target identifies one host and how to log in to it.
type Target struct {
	// Host is the address to dial. Port defaults to 22.
	Host string
	Port int

	// User is the login name.
	User string

	// PrivateKey is the PEM-encoded private key for the target. The
	// caller retains ownership; Execute never closes it.
	PrivateKey *secret.Buffer

	// ConnectTimeout bounds dial plus handshake; CommandTimeout
	// bounds the command itself. Zero values use package defaults.
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Executor runs one command on a remote host. A non-zero exit code is
// reported through the Result, not the error; errors are reserved for
// connect failures, timeouts, and transport breakage.
type Executor interface {
	Execute(ctx context.Context, target Target, command string) (*Result, error)
}

// Client is the production Executor.
type Client struct{}

// NewClient returns an SSH executor.
func NewClient() *Client { return &Client{} }

// Execute opens a connection to the target, runs the command, and
// closes the connection whatever happens.
func (client *Client) Execute(ctx context.Context, target Target, command string) (*Result, error) {
	if target.Host == "" || target.User == "" {
		return nil, fmt.Errorf("sshexec: target host and user are required")
	}
	if target.PrivateKey == nil {
		return nil, fmt.Errorf("sshexec: target private key is required")
	}

	connectTimeout := target.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}
	commandTimeout := target.CommandTimeout
	if commandTimeout == 0 {
		commandTimeout = defaultCommandTimeout
	}
	port := target.Port
	if port == 0 {
		port = 22
	}

	signer, err := ssh.ParsePrivateKey(target.PrivateKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	address := net.JoinHostPort(target.Host, fmt.Sprintf("%d", port))
	clientConfig := &ssh.ClientConfig{
		User: target.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Freshly provisioned VMs have no prior host key to pin; the
		// key pair injected at boot is the authentication root here.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrConnect, address, err)
	}

	sshConn, channels, requests, err := ssh.NewClientConn(netConn, address, clientConfig)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %v", ErrConnect, address, err)
	}
	sshClient := ssh.NewClient(sshConn, channels, requests)
	defer sshClient.Close()

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening session on %s: %w", address, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("starting command on %s: %w", address, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		// Closing the connection unblocks session.Wait.
		sshClient.Close()
		<-done
		return nil, fmt.Errorf("%w: %q on %s after %s", ErrCommandTimeout, command, address, commandTimeout)
	case <-ctx.Done():
		sshClient.Close()
		<-done
		return nil, ctx.Err()
	}

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("running command on %s: %w", address, err)
	}
	return result, nil
}
