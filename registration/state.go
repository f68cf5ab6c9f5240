// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/server"
)

// Workflow is the goal of a session.
type Workflow int

const (
	WorkflowNone Workflow = iota
	WorkflowRegistration
	WorkflowImportKey
	WorkflowRetrieveKey
)

func (w Workflow) String() string {
	switch w {
	case WorkflowNone:
		return "none"
	case WorkflowRegistration:
		return "registration"
	case WorkflowImportKey:
		return "import-key"
	case WorkflowRetrieveKey:
		return "retrieve-key"
	default:
		return "unknown"
	}
}

// State is the machine's position within a workflow.
//
//	Registration: Idle → Connecting → RequestingVerification
//	ImportKey:    Idle → ImportingKey → Connecting → TestingKey → CreatingAccount → Idle
//	RetrieveKey:  Idle → Connecting → WaitingPassphrase → ImportingKey → TestingKey → CreatingAccount → Idle
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRequestingVerification
	StateWaitingPassphrase
	StateImportingKey
	StateTestingKey
	StateCreatingAccount
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRequestingVerification:
		return "requesting-verification"
	case StateWaitingPassphrase:
		return "waiting-passphrase"
	case StateImportingKey:
		return "importing-key"
	case StateTestingKey:
		return "testing-key"
	case StateCreatingAccount:
		return "creating-account"
	default:
		return "unknown"
	}
}

// Verification challenges a server may be asked to use.
const (
	ChallengePIN        = "pin"
	ChallengeMissedCall = "missedcall"
	ChallengeCallerID   = "callerid"
)

// SessionState is the snapshot of the current session. Each transition
// publishes a fresh value; a published snapshot is never modified.
type SessionState struct {
	Workflow Workflow
	State    State

	// Server is the server in use. During Registration, Servers is the
	// failover iterator it was taken from.
	Server  server.Server
	Servers server.Provider

	PhoneNumber    string
	DisplayName    string
	Challenge      string
	AcceptTerms    bool
	Force          bool
	Fallback       bool
	BrandImageSize BrandImageSize

	// TermsURL is set while the session waits for TermsAcceptedEvent.
	TermsURL string

	PrivateKey  []byte
	PublicKey   []byte
	Passphrase  string
	Key         *keys.PersonalKey
	TrustedKeys map[string]keys.Fingerprint
}
