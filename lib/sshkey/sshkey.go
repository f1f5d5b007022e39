// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package sshkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/roost-sh/roost/lib/secret"
)

// keyBits is the RSA modulus size for generated VM keys.
const keyBits = 4096

// Pair is one generated SSH key pair. The caller owns PrivateKeyPEM
// and must Close it once the key has been encrypted for storage or is
// otherwise no longer needed.
type Pair struct {
	// AuthorizedKey is the public half as a single authorized_keys
	// line without a trailing newline, ready for both the provider
	// API and the VM's authorized_keys file.
	AuthorizedKey string

	// PrivateKeyPEM is the private half in PKCS#1 PEM form.
	PrivateKeyPEM *secret.Buffer
}

// Generate creates a fresh RSA key pair.
func Generate() (*Pair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generating rsa key: %w", err)
	}

	publicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}
	authorizedKey := strings.TrimRight(string(ssh.MarshalAuthorizedKey(publicKey)), "\n")

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	buffer, err := secret.NewFromBytes(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("sealing private key in memory: %w", err)
	}

	return &Pair{
		AuthorizedKey: authorizedKey,
		PrivateKeyPEM: buffer,
	}, nil
}
