// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"fmt"
	"io"

	"github.com/bureau-foundation/provision/server"
	"github.com/bureau-foundation/provision/store"
)

// Inbound events.

// VerificationRequest starts the Registration workflow.
type VerificationRequest struct {
	// Servers is consumed in order until one answers.
	Servers     server.Provider
	PhoneNumber string
	DisplayName string
	// Force asks the server to re-verify a number it already knows.
	Force bool
	// Fallback asks for the server's alternate verification path
	// instead of a challenge, typically after a previous attempt
	// reported CanFallback.
	Fallback       bool
	BrandImageSize BrandImageSize
	// Challenge overrides the machine's default challenge.
	Challenge string
}

// FallbackVerificationRequest asks for the server's alternate
// verification path. It is not supported: the machine answers with a
// VerificationError matching errors.ErrUnsupported.
type FallbackVerificationRequest struct{}

// ImportKeyRequest starts the ImportKey workflow. The machine closes
// Input exactly once, whatever happens.
type ImportKeyRequest struct {
	Input      io.ReadCloser
	Passphrase string
	// Server, if set, wins over the key's domain.
	Server server.Server
	// PhoneNumber is used when the package records none.
	PhoneNumber string
}

// RetrieveKeyRequest starts the RetrieveKey workflow.
type RetrieveKeyRequest struct {
	Server          server.Server
	PhoneNumber     string
	PrivateKeyToken string
}

// PassphraseInputEvent unlocks a retrieved key.
type PassphraseInputEvent struct {
	Passphrase string
}

// TermsAcceptedEvent resumes a workflow suspended by AcceptTermsRequest.
type TermsAcceptedEvent struct{}

// Outbound events.

// AcceptTermsRequest asks the user to accept the server's terms of
// service.
type AcceptTermsRequest struct {
	URL string
}

// VerificationRequestedEvent reports that the server will verify the
// phone number.
type VerificationRequestedEvent struct {
	// Sender is who the SMS or call will come from.
	Sender      string
	Challenge   string
	BrandImage  string
	BrandLink   string
	CanFallback bool
}

// VerificationError reports a failed Registration attempt.
type VerificationError struct {
	Err error
}

func (e VerificationError) Error() string {
	return "registration: verification failed: " + e.Err.Error()
}
func (e VerificationError) Unwrap() error { return e.Err }

// ServerCheckError reports that the last server tried refused service.
type ServerCheckError struct {
	Err error
}

func (e ServerCheckError) Error() string { return "registration: server unavailable: " + e.Err.Error() }
func (e ServerCheckError) Unwrap() error { return e.Err }

// ImportKeyError reports a failed key import.
type ImportKeyError struct {
	Kind KeyErrorKind
	Err  error
}

func (e ImportKeyError) Error() string {
	return fmt.Sprintf("registration: import key (%s): %v", e.Kind, e.Err)
}
func (e ImportKeyError) Unwrap() error { return e.Err }

// RetrieveKeyError reports a failed key retrieval, or a failed server
// exchange during ImportKey. The machine resets itself on receiving
// one.
type RetrieveKeyError struct {
	Kind KeyErrorKind
	Err  error

	generation uint64
}

func (e RetrieveKeyError) Error() string {
	return fmt.Sprintf("registration: retrieve key (%s): %v", e.Kind, e.Err)
}
func (e RetrieveKeyError) Unwrap() error { return e.Err }

// KeyReceivedEvent carries the key blobs returned by the server. The
// machine then waits for PassphraseInputEvent.
type KeyReceivedEvent struct {
	PrivateKey []byte
	PublicKey  []byte

	generation uint64
}

// LoginTestEvent reports the authenticated login test. A nil Err leads
// to account creation.
type LoginTestEvent struct {
	Err error

	generation uint64
}

// AccountCreatedEvent is the terminal success of ImportKey and
// RetrieveKey.
type AccountCreatedEvent struct {
	Account store.Account
}

// AccountCreationError reports that the trust store or the account
// store rejected the new identity. No account is written when storing
// its trusted keys fails. The session is reset.
type AccountCreationError struct {
	Err error
}

func (e AccountCreationError) Error() string {
	return "registration: creating account: " + e.Err.Error()
}
func (e AccountCreationError) Unwrap() error { return e.Err }
