// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// FingerprintSize is the length of a Fingerprint in bytes.
const FingerprintSize = 20

// Fingerprint identifies a public key. Its text form is 40 upper-case
// hex digits.
type Fingerprint [FingerprintSize]byte

// fingerprintDomainKey separates fingerprints from every other BLAKE3
// use of the same bytes. ASCII, zero-padded to 32 bytes.
var fingerprintDomainKey = [32]byte{
	'p', 'r', 'o', 'v', 'i', 's', 'i', 'o', 'n', '.', 'k', 'e', 'y', 's', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0, 0, 0,
}

func computeFingerprint(record []byte) Fingerprint {
	hasher, err := blake3.NewKeyed(fingerprintDomainKey[:])
	if err != nil {
		// Only returned for a key that is not 32 bytes.
		panic("keys: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(record)
	var fingerprint Fingerprint
	copy(fingerprint[:], hasher.Sum(nil))
	return fingerprint
}

// ParseFingerprint accepts hex in either case, with or without spaces.
func ParseFingerprint(raw string) (Fingerprint, error) {
	compact := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	decoded, err := hex.DecodeString(compact)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: fingerprint %q: %v", ErrMalformed, raw, err)
	}
	if len(decoded) != FingerprintSize {
		return Fingerprint{}, fmt.Errorf("%w: fingerprint %q has %d bytes, want %d", ErrMalformed, raw, len(decoded), FingerprintSize)
	}
	var fingerprint Fingerprint
	copy(fingerprint[:], decoded)
	return fingerprint, nil
}

func (f Fingerprint) String() string {
	return strings.ToUpper(hex.EncodeToString(f[:]))
}

// IsZero reports whether f is the zero Fingerprint.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(data []byte) error {
	parsed, err := ParseFingerprint(string(data))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
