// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"fmt"

	"filippo.io/age"

	"github.com/bureau-foundation/provision/lib/secret"
)

// Keypair is an age x25519 keypair. PrivateKey holds the
// AGE-SECRET-KEY-1... string in protected memory; PublicKey is the
// age1... recipient and is safe to publish.
type Keypair struct {
	PrivateKey *secret.Buffer
	PublicKey  string
}

// Close releases the private key memory.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair creates a fresh x25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating x25519 identity: %w", err)
	}
	privateKey, err := secret.NewFromString(identity.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// RecipientOf parses an x25519 private key and returns its public
// recipient string.
func RecipientOf(privateKey string) (string, error) {
	identity, err := age.ParseX25519Identity(privateKey)
	if err != nil {
		return "", fmt.Errorf("sealed: invalid x25519 private key: %w", err)
	}
	return identity.Recipient().String(), nil
}

// ParseRecipient validates an age1... public key.
func ParseRecipient(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("sealed: invalid x25519 recipient: %w", err)
	}
	return nil
}
