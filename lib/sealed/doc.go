// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for the two operations personal
// keys need: sealing a private record under a passphrase (age's scrypt
// recipient) and generating the x25519 encryption subkey that every
// personal key carries.
//
// Ciphertexts are raw age files, not armored. Plaintext recovered from
// a sealed blob is returned in a [secret.Buffer]; the caller closes it
// as soon as the record has been decoded.
package sealed
