// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"errors"

	"github.com/bureau-foundation/provision/identity"
	"github.com/bureau-foundation/provision/keypack"
	"github.com/bureau-foundation/provision/keys"
)

// KeyErrorKind classifies ImportKeyError and RetrieveKeyError.
type KeyErrorKind int

const (
	// KindKey: wrong passphrase or corrupt key data.
	KindKey KeyErrorKind = iota
	// KindIO: the key package could not be read.
	KindIO
	// KindSecurity: the key halves do not belong together or the
	// self-signature is invalid.
	KindSecurity
	// KindUIDMismatch: the key belongs to another phone number.
	KindUIDMismatch
	// KindNoPhoneNumber: there is no phone number to verify against.
	KindNoPhoneNumber
	// KindExchange: a network or protocol failure.
	KindExchange
	// KindNoKey: the server returned no key.
	KindNoKey
)

func (k KeyErrorKind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindIO:
		return "io"
	case KindSecurity:
		return "security"
	case KindUIDMismatch:
		return "uid-mismatch"
	case KindNoPhoneNumber:
		return "no-phone-number"
	case KindExchange:
		return "exchange"
	case KindNoKey:
		return "no-key"
	default:
		return "unknown"
	}
}

var (
	// ErrNoServers: the registration server list was empty.
	ErrNoServers = errors.New("registration: no servers to try")
	// ErrNoSender: the registration reply named no verification sender.
	ErrNoSender = errors.New("registration: server did not return a verification sender")
	// ErrNoKey: the private-key request returned no key blobs.
	ErrNoKey = errors.New("registration: server did not return a key")
)

// classifyKeyError maps a decode or verification failure to its kind.
// An *keys.EncodingError is a broken local crypto stack, not bad input:
// it is re-raised as a panic.
func classifyKeyError(err error) KeyErrorKind {
	var encodingErr *keys.EncodingError
	if errors.As(err, &encodingErr) {
		panic(encodingErr)
	}
	switch {
	case errors.Is(err, keypack.ErrIO):
		return KindIO
	case errors.Is(err, keys.ErrKeyMismatch), errors.Is(err, keys.ErrInvalidSignature):
		return KindSecurity
	case errors.Is(err, identity.ErrUIDMismatch):
		return KindUIDMismatch
	case errors.Is(err, identity.ErrNoPhoneNumber):
		return KindNoPhoneNumber
	default:
		return KindKey
	}
}
