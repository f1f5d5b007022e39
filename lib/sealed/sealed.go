// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/roost-sh/roost/lib/secret"
)

// Box holds the control plane's age x25519 identity and seals or opens
// secrets against it. Construct with NewBox at startup; the identity is
// parsed once and reused for every provisioning run.
//
// Box is safe for concurrent use: the parsed identity and recipient are
// immutable after construction.
type Box struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewBox parses an age identity (AGE-SECRET-KEY-1... format) held in a
// secret.Buffer and returns a Box. The buffer is borrowed for parsing
// and NOT closed by this function.
func NewBox(identityKey *secret.Buffer) (*Box, error) {
	// The age parser requires a string. The heap copy is brief and
	// startup-scoped.
	identity, err := age.ParseX25519Identity(identityKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: parsing age identity: %w", err)
	}
	return &Box{
		identity:  identity,
		recipient: identity.Recipient(),
	}, nil
}

// Recipient returns the public half of the Box identity in age1...
// format. Safe to log and publish.
func (box *Box) Recipient() string {
	return box.recipient.String()
}

// Seal encrypts plaintext to the Box recipient. Returns the ciphertext
// as a standard base64-encoded string suitable for storage in VM record
// fields. The plaintext slice is not modified; callers holding secret
// material should zero it themselves after sealing.
func (box *Box) Seal(plaintext []byte) (string, error) {
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, box.recipient)
	if err != nil {
		return "", fmt.Errorf("sealed: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("sealed: finalizing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open decrypts a base64-encoded ciphertext string with the Box
// identity. Returns the plaintext in a secret.Buffer (mmap-backed,
// zeroed on close). The caller must Close the returned buffer as soon
// as the plaintext is no longer needed.
func (box *Box) Open(ciphertext string) (*secret.Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("sealed: decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), box.identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed: ciphertext decrypted to empty plaintext")
	}

	// Move the plaintext into mmap-backed memory immediately.
	// NewFromBytes zeros the heap copy.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// GenerateIdentity generates a new age x25519 identity for first-time
// control-plane setup. The private half is returned in a secret.Buffer;
// the public half is a plain string safe to record. The caller must
// Close the buffer (typically after writing it to the identity file).
func GenerateIdentity() (*secret.Buffer, string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, "", fmt.Errorf("sealed: generating age identity: %w", err)
	}

	// Move the private key into mmap-backed memory. The intermediate
	// string is on the heap and will be GC'd — unavoidable since the
	// age API returns string-typed keys. The mmap buffer is the
	// durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, "", fmt.Errorf("sealed: protecting identity: %w", err)
	}
	return privateKey, identity.Recipient().String(), nil
}
