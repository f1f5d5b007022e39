// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package sshexec

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/roost-sh/roost/lib/secret"
)

// execRequest is the SSH "exec" channel request payload.
type execRequest struct {
	Command string
}

// exitStatus is the SSH "exit-status" channel request payload.
type exitStatus struct {
	Status uint32
}

// startTestServer runs a one-connection SSH server whose exec handler
// is supplied by the test. Returns the listen address and a Target
// holding a key the server accepts.
func startTestServer(t *testing.T, handle func(command string, channel ssh.Channel)) (string, Target) {
	t.Helper()

	clientKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating client key: %v", err)
	}
	clientSigner, err := ssh.NewSignerFromKey(clientKey)
	if err != nil {
		t.Fatalf("client signer: %v", err)
	}
	hostKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	serverConfig := &ssh.ServerConfig{
		PublicKeyCallback: func(metadata ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientSigner.PublicKey().Marshal()) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	serverConfig.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		netConn, err := listener.Accept()
		if err != nil {
			return
		}
		serverConn, channels, requests, err := ssh.NewServerConn(netConn, serverConfig)
		if err != nil {
			return
		}
		defer serverConn.Close()
		go ssh.DiscardRequests(requests)
		for newChannel := range channels {
			if newChannel.ChannelType() != "session" {
				newChannel.Reject(ssh.UnknownChannelType, "unsupported")
				continue
			}
			channel, channelRequests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			go func() {
				for request := range channelRequests {
					if request.Type != "exec" {
						request.Reply(false, nil)
						continue
					}
					var exec execRequest
					ssh.Unmarshal(request.Payload, &exec)
					request.Reply(true, nil)
					handle(exec.Command, channel)
				}
			}()
		}
	}()

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(clientKey),
	})
	buffer, err := secret.NewFromBytes(pemBytes)
	if err != nil {
		t.Fatalf("secret buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })

	return listener.Addr().String(), Target{
		User:       "roost",
		PrivateKey: buffer,
	}
}

func splitHostPort(t *testing.T, address string) (string, int) {
	t.Helper()
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		t.Fatalf("split %q: %v", address, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("port %q: %v", portText, err)
	}
	return host, port
}

func TestExecuteCapturesOutputAndExitCode(t *testing.T) {
	address, target := startTestServer(t, func(command string, channel ssh.Channel) {
		if command != "systemctl is-active roost-workload" {
			t.Errorf("command = %q", command)
		}
		channel.Write([]byte("inactive\n"))
		channel.Stderr().Write([]byte("unit not running\n"))
		channel.SendRequest("exit-status", false, ssh.Marshal(exitStatus{Status: 3}))
		channel.Close()
	})
	target.Host, target.Port = splitHostPort(t, address)

	result, err := NewClient().Execute(context.Background(), target, "systemctl is-active roost-workload")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
	if result.Stdout != "inactive\n" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if result.Stderr != "unit not running\n" {
		t.Errorf("stderr = %q", result.Stderr)
	}
}

func TestExecuteZeroExitIsSuccess(t *testing.T) {
	address, target := startTestServer(t, func(command string, channel ssh.Channel) {
		channel.Write([]byte("active\n"))
		channel.SendRequest("exit-status", false, ssh.Marshal(exitStatus{Status: 0}))
		channel.Close()
	})
	target.Host, target.Port = splitHostPort(t, address)

	result, err := NewClient().Execute(context.Background(), target, "true")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestExecuteConnectFailureIsErrConnect(t *testing.T) {
	// A listener that is immediately closed gives a refused port.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	address := listener.Addr().String()
	listener.Close()

	_, target := startTestServer(t, func(string, ssh.Channel) {})
	target.Host, target.Port = splitHostPort(t, address)
	target.ConnectTimeout = 2 * time.Second

	_, err = NewClient().Execute(context.Background(), target, "true")
	if !errors.Is(err, ErrConnect) {
		t.Errorf("error = %v, want ErrConnect", err)
	}
}

func TestExecuteCommandTimeout(t *testing.T) {
	address, target := startTestServer(t, func(command string, channel ssh.Channel) {
		// Never send exit-status: the command hangs.
	})
	target.Host, target.Port = splitHostPort(t, address)
	target.CommandTimeout = 200 * time.Millisecond

	_, err := NewClient().Execute(context.Background(), target, "sleep 60")
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("error = %v, want ErrCommandTimeout", err)
	}
}

func TestExecuteValidatesTarget(t *testing.T) {
	_, err := NewClient().Execute(context.Background(), Target{}, "true")
	if err == nil {
		t.Fatal("expected error for empty target")
	}
}
