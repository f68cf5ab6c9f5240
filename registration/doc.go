// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registration is the account provisioning state machine. It
// binds a phone number to a personal key on a federation server through
// one of three workflows:
//
//   - Registration: ask a server (failing over across a list) to verify
//     the phone number by SMS or call.
//   - ImportKey: restore an identity from a key package.
//   - RetrieveKey: fetch a private key parked by another device, then
//     unlock it with the user's passphrase.
//
// The machine is driven entirely through an [eventbus.Bus]. Callers
// publish request events ([VerificationRequest], [ImportKeyRequest],
// [RetrieveKeyRequest]) and follow-ups ([PassphraseInputEvent],
// [TermsAcceptedEvent]); the machine publishes results and every state
// transition as a sticky [SessionState]. Network work runs on the
// machine's own worker goroutine, never on the publisher's.
//
// A new request discards the session in progress: its context is
// cancelled, its connection dropped, and anything it still tries to
// publish is suppressed.
package registration
