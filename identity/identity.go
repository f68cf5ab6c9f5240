// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity checks that a personal key belongs to the phone
// number being provisioned.
//
// On the federation a user's address is localpart@network, where the
// local part is derived from the phone number by [LocalPart]. A key
// whose embedded address has a different local part was issued to
// someone else (or to another number of the same person) and must not
// be bound to this one.
package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/provision/keys"
)

var (
	// ErrNoPhoneNumber: neither the caller nor the key material
	// supplied a phone number to verify against.
	ErrNoPhoneNumber = errors.New("identity: no phone number found")

	// ErrUIDMismatch is matched by every *MismatchError.
	ErrUIDMismatch = errors.New("identity: user id does not match phone number")
)

// MismatchError reports the local part the phone number requires and
// the address the key actually carries.
type MismatchError struct {
	Expected string
	Address  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("identity: key address %q does not match expected local part %q", e.Address, e.Expected)
}

func (e *MismatchError) Is(target error) bool { return target == ErrUIDMismatch }

// LocalPart returns the federation local part for phoneNumber: the
// lower-case hex SHA-1 digest of the number as given.
func LocalPart(phoneNumber string) string {
	digest := sha1.Sum([]byte(phoneNumber))
	return hex.EncodeToString(digest[:])
}

// Identity is the verified owner of a key.
type Identity struct {
	PhoneNumber string
	DisplayName string
	Network     string
	Address     string
}

// Verifier compares key user ids with phone numbers. The zero value
// uses LocalPart.
type Verifier struct {
	// Normalize maps a phone number to its expected local part. Nil
	// means LocalPart.
	Normalize func(phoneNumber string) string
}

// Verify checks userID against phoneNumber. The comparison of local
// parts ignores case.
func (v Verifier) Verify(userID keys.UserID, phoneNumber string) (Identity, error) {
	if phoneNumber == "" {
		return Identity{}, ErrNoPhoneNumber
	}
	normalize := v.Normalize
	if normalize == nil {
		normalize = LocalPart
	}
	expected := normalize(phoneNumber)
	if !strings.EqualFold(userID.LocalPart(), expected) {
		return Identity{}, &MismatchError{Expected: expected, Address: userID.Email}
	}
	return Identity{
		PhoneNumber: phoneNumber,
		DisplayName: userID.Name,
		Network:     userID.Domain(),
		Address:     userID.Email,
	}, nil
}
