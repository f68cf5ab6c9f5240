// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/provision/lib/secret"
)

// DefaultWorkFactor is the scrypt cost (log2 N) used when the caller
// passes zero. It matches age's own default.
const DefaultWorkFactor = 18

// MaxWorkFactor bounds the cost accepted when opening a blob, so a
// crafted package cannot pin the CPU for minutes.
const MaxWorkFactor = 22

// ErrIncorrectPassphrase is returned by Open when the passphrase does
// not unwrap the file key.
var ErrIncorrectPassphrase = errors.New("sealed: incorrect passphrase")

// Seal encrypts plaintext under passphrase with the given scrypt work
// factor (zero selects DefaultWorkFactor).
func Seal(plaintext []byte, passphrase string, workFactor int) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("sealed: passphrase is required")
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating scrypt recipient: %w", err)
	}
	if workFactor == 0 {
		workFactor = DefaultWorkFactor
	}
	recipient.SetWorkFactor(workFactor)

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("sealed: finalizing: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts a blob produced by Seal. A wrong passphrase yields an
// error matching ErrIncorrectPassphrase; any other failure means the
// blob is not a well-formed age file.
func Open(ciphertext []byte, passphrase string) (*secret.Buffer, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("sealed: creating scrypt identity: %w", err)
	}
	identity.SetMaxWorkFactor(MaxWorkFactor)

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, fmt.Errorf("%w: %v", ErrIncorrectPassphrase, err)
		}
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed: blob holds no plaintext")
	}
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: protecting plaintext: %w", err)
	}
	return buffer, nil
}
