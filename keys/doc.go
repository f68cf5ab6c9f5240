// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package keys implements the personal key that binds a federation
// identity to key material.
//
// A [PersonalKey] has three parts:
//
//   - a 32-byte master secret, from which the ed25519 signing key is
//     derived with HKDF-SHA256;
//   - an age x25519 identity used as the encryption subkey;
//   - a public record naming the owner ([UserID]), both public keys,
//     and the creation time, self-signed by the signing key.
//
// Keys travel as two blobs. The public blob is the CBOR public record
// with its signature. The private blob is the CBOR private record
// sealed with age's scrypt recipient under the owner's passphrase.
// [Decode] reverses [PersonalKey.Export] and checks that the private
// record really produces the published keys.
//
// The [Fingerprint] of a key is a keyed BLAKE3 digest of its encoded
// public record, truncated to 160 bits.
package keys
