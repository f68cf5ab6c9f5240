// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// testWorkFactor keeps scrypt fast in tests.
const testWorkFactor = 10

func TestSealOpen_Roundtrip(t *testing.T) {
	plaintext := []byte("private key record")
	ciphertext, err := Seal(plaintext, "pass phrase", testWorkFactor)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext contains the plaintext")
	}

	opened, err := Open(ciphertext, "pass phrase")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer opened.Close()
	if !opened.Equal(plaintext) {
		t.Errorf("Open returned %q", opened.String())
	}
}

func TestOpen_WrongPassphrase(t *testing.T) {
	ciphertext, err := Seal([]byte("record"), "right", testWorkFactor)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	_, err = Open(ciphertext, "wrong")
	if !errors.Is(err, ErrIncorrectPassphrase) {
		t.Fatalf("Open with wrong passphrase: got %v, want ErrIncorrectPassphrase", err)
	}
}

func TestOpen_Corrupt(t *testing.T) {
	_, err := Open([]byte("not an age file"), "anything")
	if err == nil {
		t.Fatal("expected error opening garbage")
	}
	if errors.Is(err, ErrIncorrectPassphrase) {
		t.Error("garbage input classified as a wrong passphrase")
	}
}

func TestSeal_RequiresPassphrase(t *testing.T) {
	if _, err := Seal([]byte("x"), "", testWorkFactor); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
}

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("public key %q lacks the age1 prefix", keypair.PublicKey)
	}
	if err := ParseRecipient(keypair.PublicKey); err != nil {
		t.Errorf("ParseRecipient rejected a generated key: %v", err)
	}

	recipient, err := RecipientOf(keypair.PrivateKey.String())
	if err != nil {
		t.Fatalf("RecipientOf failed: %v", err)
	}
	if recipient != keypair.PublicKey {
		t.Errorf("RecipientOf = %q, want %q", recipient, keypair.PublicKey)
	}
}

func TestRecipientOf_Invalid(t *testing.T) {
	if _, err := RecipientOf("AGE-SECRET-KEY-1BOGUS"); err == nil {
		t.Fatal("expected error for an invalid private key")
	}
}
