// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"

	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/server"
)

// CorrelationID matches a reply to the form that requested it.
type CorrelationID string

// Credentials authenticate a connection. *keys.PersonalKey implements
// it.
type Credentials interface {
	Fingerprint() keys.Fingerprint
	PublicKeyBytes() []byte
	Sign(message []byte) ([]byte, error)
}

var _ Credentials = (*keys.PersonalKey)(nil)

// Gateway opens connections to federation servers.
type Gateway interface {
	// Connect opens a connection to srv. Nil credentials open an
	// anonymous connection; otherwise the server must accept the key
	// or Connect fails. Failures are *ConnectError.
	Connect(ctx context.Context, srv server.Server, credentials Credentials) (Connection, error)
}

// Connection is a single-use session with one server. It is not safe
// for concurrent use.
type Connection interface {
	// Send submits form and returns the id its reply will carry.
	Send(ctx context.Context, form Form) (CorrelationID, error)

	// AwaitResult waits for the reply to id. A server-side refusal is
	// a *ProtocolError; a reply that never arrives within the
	// gateway's timeout matches ErrNoResponse.
	AwaitResult(ctx context.Context, id CorrelationID) (*Reply, error)

	// Disconnect releases the connection. Safe to call more than once.
	Disconnect() error
}

// Exchange sends form on conn and waits for its reply.
func Exchange(ctx context.Context, conn Connection, form Form) (*Reply, error) {
	id, err := conn.Send(ctx, form)
	if err != nil {
		return nil, err
	}
	return conn.AwaitResult(ctx, id)
}
