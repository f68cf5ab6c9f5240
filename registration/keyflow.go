// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bureau-foundation/provision/gateway"
	"github.com/bureau-foundation/provision/identity"
	"github.com/bureau-foundation/provision/keypack"
	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/server"
	"github.com/bureau-foundation/provision/store"
)

func (m *Machine) runImportKey(sess *session, request ImportKeyRequest, closeInput func()) {
	defer closeInput()

	if !m.update(sess, func(s *SessionState) {
		s.Workflow = WorkflowImportKey
		s.State = StateImportingKey
		s.Passphrase = request.Passphrase
		s.PhoneNumber = request.PhoneNumber
	}) {
		return
	}

	pack, err := keypack.Read(request.Input)
	closeInput()
	if err != nil {
		m.publishImportError(sess, err)
		return
	}
	key, err := pack.Decode(request.Passphrase)
	if err != nil {
		m.publishImportError(sess, err)
		return
	}

	phoneNumber := pack.Account.PhoneNumber
	if phoneNumber == "" {
		phoneNumber = request.PhoneNumber
	}
	verified, err := m.verifyIdentity(key, phoneNumber)
	if err != nil {
		m.publishImportError(sess, err)
		return
	}

	// The package's server_uri only records where the key was exported
	// from; the verified identity decides.
	srv := request.Server
	if srv.IsZero() {
		srv = server.FromDomain(verified.Network)
	}

	trusted, err := pack.TrustedKeys()
	if err != nil {
		m.logger.Warn("ignoring unreadable trusted keys in key package", "error", err)
		trusted = nil
	}

	if !m.update(sess, func(s *SessionState) {
		s.State = StateConnecting
		s.Server = srv
		s.PhoneNumber = phoneNumber
		s.DisplayName = verified.DisplayName
		s.PrivateKey = pack.PrivateKey
		s.PublicKey = pack.PublicKey
		s.Key = key
		s.TrustedKeys = trusted
	}) {
		return
	}
	sess.conn.setServer(srv)

	termsURL, err := m.checkInstructions(sess)
	if err != nil {
		if sess.ctx.Err() == nil {
			m.publishRetrieveError(sess, KindExchange, err)
		}
		return
	}
	if termsURL != "" {
		m.publish(sess, AcceptTermsRequest{URL: termsURL})
		return
	}
	m.loginTest(sess)
}

func (m *Machine) publishImportError(sess *session, err error) {
	m.publish(sess, ImportKeyError{Kind: classifyKeyError(err), Err: err})
}

func (m *Machine) publishRetrieveError(sess *session, kind KeyErrorKind, err error) {
	m.publish(sess, RetrieveKeyError{Kind: kind, Err: err, generation: sess.generation})
}

// verifyIdentity checks key against phoneNumber, logging mismatches.
func (m *Machine) verifyIdentity(key *keys.PersonalKey, phoneNumber string) (identity.Identity, error) {
	verified, err := m.verifier.Verify(key.UserID(), phoneNumber)
	if err != nil {
		var mismatch *identity.MismatchError
		if errors.As(err, &mismatch) {
			m.logger.Warn("key user id does not match phone number",
				"address", mismatch.Address,
				"expected_local_part", mismatch.Expected,
			)
		}
		return identity.Identity{}, err
	}
	return verified, nil
}

func (m *Machine) runRetrieveKey(sess *session, request RetrieveKeyRequest) {
	if !m.update(sess, func(s *SessionState) {
		s.Workflow = WorkflowRetrieveKey
		s.State = StateConnecting
		s.Server = request.Server
		s.PhoneNumber = request.PhoneNumber
	}) {
		return
	}
	sess.conn.setServer(request.Server)

	conn, err := sess.conn.connect(sess.ctx, nil)
	if err != nil {
		if sess.ctx.Err() == nil {
			m.publishRetrieveError(sess, KindExchange, err)
		}
		return
	}
	reply, err := gateway.Exchange(sess.ctx, conn, gateway.PrivateKeyRequestForm(request.PrivateKeyToken))
	if err != nil {
		sess.conn.disconnect()
		if sess.ctx.Err() == nil {
			m.publishRetrieveError(sess, KindExchange, err)
		}
		return
	}
	if reply.Account == nil || len(reply.Account.PrivateKey) == 0 || len(reply.Account.PublicKey) == 0 {
		sess.conn.disconnect()
		m.publishRetrieveError(sess, KindNoKey, ErrNoKey)
		return
	}

	// The connection stays open until the machine reacts to its own
	// KeyReceivedEvent.
	privateKey, publicKey := reply.Account.PrivateKey, reply.Account.PublicKey
	if !m.update(sess, func(s *SessionState) {
		s.PrivateKey = privateKey
		s.PublicKey = publicKey
	}) {
		return
	}
	m.publish(sess, KeyReceivedEvent{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		generation: sess.generation,
	})
}

func (m *Machine) onKeyReceived(sess *session) {
	sess.conn.disconnect()
	m.update(sess, func(s *SessionState) { s.State = StateWaitingPassphrase })
}

func (m *Machine) onPassphrase(sess *session, event PassphraseInputEvent) {
	state := m.snapshot(sess)
	if state.Workflow != WorkflowRetrieveKey || state.State != StateWaitingPassphrase {
		m.logger.Debug("ignoring passphrase outside of key retrieval",
			"workflow", state.Workflow.String(),
			"state", state.State.String(),
		)
		return
	}
	if !m.update(sess, func(s *SessionState) {
		s.State = StateImportingKey
		s.Passphrase = event.Passphrase
	}) {
		return
	}

	key, err := keys.Decode(state.PrivateKey, state.PublicKey, event.Passphrase)
	if err != nil {
		m.publishRetrieveError(sess, classifyKeyError(err), err)
		return
	}
	verified, err := m.verifyIdentity(key, state.PhoneNumber)
	if err != nil {
		m.publishRetrieveError(sess, classifyKeyError(err), err)
		return
	}

	srv := state.Server
	if srv.IsZero() {
		srv = server.FromDomain(verified.Network)
	}
	if !m.update(sess, func(s *SessionState) {
		s.Key = key
		s.DisplayName = verified.DisplayName
		s.Server = srv
	}) {
		return
	}
	sess.conn.setServer(srv)
	m.loginTest(sess)
}

// loginTest opens an authenticated connection with the session's key
// and drops it. The result is published as LoginTestEvent; the machine
// creates the account when it sees a successful one.
func (m *Machine) loginTest(sess *session) {
	if !m.update(sess, func(s *SessionState) { s.State = StateTestingKey }) {
		return
	}
	state := m.snapshot(sess)

	_, err := sess.conn.connect(sess.ctx, state.Key)
	sess.conn.disconnect()
	if err != nil && sess.ctx.Err() != nil {
		return
	}
	m.publish(sess, LoginTestEvent{Err: err, generation: sess.generation})
}

func (m *Machine) createAccount(sess *session) {
	if !m.update(sess, func(s *SessionState) { s.State = StateCreatingAccount }) {
		return
	}
	state := m.snapshot(sess)
	ctx := sess.ctx

	if state.Workflow == WorkflowRetrieveKey {
		if err := m.accounts.ClearServerOverride(ctx); err != nil {
			m.logger.Warn("clearing server override failed", "error", err)
		}
	}
	if len(state.TrustedKeys) > 0 {
		if err := m.trust.SetTrustedKeys(ctx, state.TrustedKeys); err != nil {
			m.failAccountCreation(sess, fmt.Errorf("storing trusted keys: %w", err))
			return
		}
	}

	// Decode rejects keys whose user id or creation time cannot appear
	// in a certificate, so a failure here is a local defect.
	certificate, err := state.Key.BridgeCertificate()
	if err != nil {
		panic(err)
	}

	account := store.Account{
		PhoneNumber:       state.PhoneNumber,
		Passphrase:        state.Passphrase,
		PrivateKey:        base64.StdEncoding.EncodeToString(state.PrivateKey),
		PublicKey:         base64.StdEncoding.EncodeToString(state.PublicKey),
		BridgeCertificate: base64.StdEncoding.EncodeToString(certificate),
		DisplayName:       state.DisplayName,
		ServerURI:         state.Server.String(),
		CreatedAt:         m.clock.Now(),
	}
	if err := m.accounts.UpsertAccount(ctx, account); err != nil {
		m.failAccountCreation(sess, err)
		return
	}

	m.logger.Info("account created",
		"workflow", state.Workflow.String(),
		"server", account.ServerURI,
		"fingerprint", state.Key.Fingerprint().String(),
	)
	if !m.publish(sess, AccountCreatedEvent{Account: account}) {
		return
	}
	if err := m.accounts.PurgeRoster(ctx); err != nil {
		m.logger.Warn("purging roster failed", "error", err)
	}
	m.update(sess, func(s *SessionState) { s.State = StateIdle })
}

// failAccountCreation reports a store failure once and ends the session.
func (m *Machine) failAccountCreation(sess *session, err error) {
	if m.publish(sess, AccountCreationError{Err: err}) {
		m.Reset()
	}
}
