// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import "errors"

// Decode failures. Callers classify with errors.Is.
var (
	// ErrIncorrectPassphrase: the passphrase does not open the
	// private blob.
	ErrIncorrectPassphrase = errors.New("keys: incorrect passphrase")

	// ErrMalformed: a blob or a user id is structurally invalid.
	ErrMalformed = errors.New("keys: malformed key data")

	// ErrKeyMismatch: the private record does not derive the keys
	// named in the public record.
	ErrKeyMismatch = errors.New("keys: private key does not match public key")

	// ErrInvalidSignature: the public record's self-signature does not
	// verify.
	ErrInvalidSignature = errors.New("keys: invalid self-signature")
)

// EncodingError reports a failure of an operation the local crypto and
// encoding stack must always be able to perform (deterministic CBOR
// encoding of a well-formed record, HKDF expansion, certificate
// signing). It indicates a broken environment, never bad input.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return "keys: " + e.Op + ": " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error { return e.Err }
