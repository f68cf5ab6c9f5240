// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"github.com/bureau-foundation/provision/gateway"
)

// Reply fields read by the Registration workflow.
const (
	fieldAcceptTerms = "accept-terms"
	fieldTerms       = "terms"
	fieldFrom        = "from"
	fieldChallenge   = "challenge"
	fieldBrandLink   = "brand-link"
	fieldCanFallback = "can-fallback"
)

func (m *Machine) runRegistration(sess *session, request VerificationRequest) {
	challenge := request.Challenge
	if challenge == "" {
		challenge = m.defaultChallenge
	}
	if !m.update(sess, func(s *SessionState) {
		s.Workflow = WorkflowRegistration
		s.State = StateConnecting
		s.Servers = request.Servers
		s.PhoneNumber = request.PhoneNumber
		s.DisplayName = request.DisplayName
		s.Force = request.Force
		s.Fallback = request.Fallback
		s.BrandImageSize = request.BrandImageSize
		s.Challenge = challenge
	}) {
		return
	}

	if request.Servers == nil {
		m.publishRegistrationFailure(sess, ErrNoServers)
		return
	}

	var lastErr error
	for srv, ok := request.Servers.Next(); ok; srv, ok = request.Servers.Next() {
		if !m.update(sess, func(s *SessionState) { s.Server = srv }) {
			return
		}
		sess.conn.setServer(srv)

		termsURL, err := m.checkInstructions(sess)
		if err == nil {
			if termsURL != "" {
				m.publish(sess, AcceptTermsRequest{URL: termsURL})
				return
			}
			m.requestRegistration(sess)
			return
		}
		if sess.ctx.Err() != nil {
			return
		}
		lastErr = err
		m.logger.Warn("registration server check failed",
			"server", srv.String(),
			"error", err,
		)
	}

	if lastErr == nil {
		lastErr = ErrNoServers
	}
	m.publishRegistrationFailure(sess, lastErr)
}

// checkInstructions fetches the selected server's instructions and
// returns the terms-of-service URL the user must accept, if any. The
// connection is dropped whatever the outcome.
func (m *Machine) checkInstructions(sess *session) (string, error) {
	conn, err := sess.conn.connect(sess.ctx, nil)
	if err != nil {
		return "", err
	}
	defer sess.conn.disconnect()

	reply, err := gateway.Exchange(sess.ctx, conn, gateway.InstructionsForm())
	if err != nil {
		return "", err
	}
	if _, required := reply.Field(fieldAcceptTerms); !required {
		return "", nil
	}
	termsURL := reply.Value(fieldTerms)
	if termsURL != "" {
		m.update(sess, func(s *SessionState) { s.TermsURL = termsURL })
	}
	return termsURL, nil
}

func (m *Machine) requestRegistration(sess *session) {
	if !m.update(sess, func(s *SessionState) {
		s.State = StateRequestingVerification
		s.TermsURL = ""
	}) {
		return
	}
	state := m.snapshot(sess)

	reply, err := m.exchangeAnonymously(sess, gateway.RegistrationForm(gateway.RegistrationParams{
		PhoneNumber: state.PhoneNumber,
		AcceptTerms: state.AcceptTerms,
		Force:       state.Force,
		Fallback:    state.Fallback,
		Challenge:   state.Challenge,
	}))
	if err != nil {
		if sess.ctx.Err() == nil {
			m.publishRegistrationFailure(sess, err)
		}
		return
	}

	sender := reply.Value(fieldFrom)
	if sender == "" {
		m.publish(sess, VerificationError{Err: ErrNoSender})
		return
	}
	m.publish(sess, VerificationRequestedEvent{
		Sender:      sender,
		Challenge:   reply.Value(fieldChallenge),
		BrandImage:  resolveBrandImage(reply, state.BrandImageSize),
		BrandLink:   reply.Value(fieldBrandLink),
		CanFallback: reply.Bool(fieldCanFallback),
	})
}

// exchangeAnonymously runs one form exchange on a fresh anonymous
// connection and drops it.
func (m *Machine) exchangeAnonymously(sess *session, form gateway.Form) (*gateway.Reply, error) {
	conn, err := sess.conn.connect(sess.ctx, nil)
	if err != nil {
		return nil, err
	}
	defer sess.conn.disconnect()
	return gateway.Exchange(sess.ctx, conn, form)
}

// publishRegistrationFailure publishes exactly one of ServerCheckError
// (the server refused service) or VerificationError.
func (m *Machine) publishRegistrationFailure(sess *session, err error) {
	if gateway.IsProtocolError(err, gateway.ConditionServiceUnavailable) {
		m.publish(sess, ServerCheckError{Err: err})
		return
	}
	m.publish(sess, VerificationError{Err: err})
}

func (m *Machine) onTermsAccepted(sess *session) {
	state := m.snapshot(sess)
	if state.TermsURL == "" || state.State != StateConnecting {
		m.logger.Debug("ignoring terms acceptance with no terms pending",
			"workflow", state.Workflow.String(),
			"state", state.State.String(),
		)
		return
	}
	if !m.update(sess, func(s *SessionState) {
		s.AcceptTerms = true
		s.TermsURL = ""
	}) {
		return
	}

	switch state.Workflow {
	case WorkflowRegistration:
		m.requestRegistration(sess)
	case WorkflowImportKey:
		m.loginTest(sess)
	}
}
