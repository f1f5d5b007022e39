// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/roost-sh/roost/lib/process"
	"github.com/roost-sh/roost/lib/sealed"
	"github.com/roost-sh/roost/lib/version"
)

const usage = `Usage: roostctl [flags] <command> [args]

Commands:
  provision <tenant-id>     start an async provisioning run
  deprovision <tenant-id>   tear down a tenant's VM and provider resources
  status <tenant-id>        print the tenant's VM and health records
  identity                  generate a new age identity for credential sealing

Flags:
      --server string   control plane base URL (default $ROOST_SERVER or http://127.0.0.1:8080)
      --version         print version information and exit
`

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		server      string
		showVersion bool
	)
	flags := pflag.NewFlagSet("roostctl", pflag.ContinueOnError)
	flags.StringVar(&server, "server", "", "control plane base URL")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		version.Print("roostctl")
		return nil
	}

	if server == "" {
		server = os.Getenv("ROOST_SERVER")
	}
	if server == "" {
		server = "http://127.0.0.1:8080"
	}
	server = strings.TrimSuffix(server, "/")

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		return fmt.Errorf("command required")
	}

	client := &apiClient{
		baseURL: server,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	command, args := args[0], args[1:]
	switch command {
	case "provision":
		return client.tenantPost(args, "provision")
	case "deprovision":
		return client.tenantPost(args, "deprovision")
	case "status":
		return client.tenantStatus(args)
	case "identity":
		return generateIdentity()
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// apiClient is a thin client for the control plane HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func requireTenantID(args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("exactly one tenant id argument required")
	}
	return args[0], nil
}

func (client *apiClient) tenantPost(args []string, action string) error {
	tenantID, err := requireTenantID(args)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/tenants/%s/%s", client.baseURL, tenantID, action)
	response, err := client.http.Post(url, "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("calling control plane: %w", err)
	}
	defer response.Body.Close()

	body, err := decodeResponse(response)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", tenantID, body["status"])
	return nil
}

func (client *apiClient) tenantStatus(args []string) error {
	tenantID, err := requireTenantID(args)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/tenants/%s/status", client.baseURL, tenantID)
	response, err := client.http.Get(url)
	if err != nil {
		return fmt.Errorf("calling control plane: %w", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return apiError(response.StatusCode, raw)
	}

	// Re-indent for the terminal.
	var indented bytes.Buffer
	if err := json.Indent(&indented, raw, "", "  "); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	fmt.Println(indented.String())
	return nil
}

// decodeResponse parses a JSON object body, converting non-2xx
// statuses into errors carrying the server's error message.
func decodeResponse(response *http.Response) (map[string]string, error) {
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, apiError(response.StatusCode, raw)
	}

	var body map[string]string
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return body, nil
}

func apiError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return fmt.Errorf("control plane returned %d: %s", status, body.Error)
	}
	return fmt.Errorf("control plane returned %d", status)
}

// generateIdentity prints a fresh age identity to stdout and its
// public recipient to stderr, mirroring age-keygen. The identity line
// is the only secret; redirect stdout straight into the identity file.
func generateIdentity() error {
	identity, recipient, err := sealed.GenerateIdentity()
	if err != nil {
		return err
	}
	defer identity.Close()

	fmt.Fprintf(os.Stderr, "# public key: %s\n", recipient)
	fmt.Println(identity.String())
	return nil
}
