// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/server"
)

// Compile-time interface check.
var _ Gateway = (*MemoryGateway)(nil)

// MemoryServer scripts one server of a MemoryGateway.
type MemoryServer struct {
	// ConnectError, if set, fails every Connect.
	ConnectError error
	// LoginError, if set, fails every authenticated Connect.
	LoginError error
	// Handle answers a form. It may block until ctx is done. A nil
	// reply with a nil error means the server never answers.
	Handle func(ctx context.Context, form Form) (*Reply, error)
	// Replies answers forms by kind when Handle is nil.
	Replies map[FormKind]*Reply
}

// ConnectAttempt records one call to MemoryGateway.Connect.
type ConnectAttempt struct {
	Server        server.Server
	Authenticated bool
	Fingerprint   keys.Fingerprint
}

// SentForm records one form sent through a MemoryGateway connection.
type SentForm struct {
	Server server.Server
	Form   Form
}

// MemoryGateway is an in-process Gateway for tests. Servers are
// scripted with AddServer; connecting to any other server fails.
type MemoryGateway struct {
	mu       sync.Mutex
	servers  map[server.Server]*MemoryServer
	attempts []ConnectAttempt
	forms    []SentForm
	open     int
	sequence int
}

// NewMemoryGateway creates an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{servers: make(map[server.Server]*MemoryServer)}
}

// AddServer installs (or replaces) the script for srv.
func (g *MemoryGateway) AddServer(srv server.Server, script *MemoryServer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.servers[srv] = script
}

func (g *MemoryGateway) Connect(ctx context.Context, srv server.Server, credentials Credentials) (Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	attempt := ConnectAttempt{Server: srv, Authenticated: credentials != nil}
	if credentials != nil {
		attempt.Fingerprint = credentials.Fingerprint()
	}
	g.attempts = append(g.attempts, attempt)

	if err := ctx.Err(); err != nil {
		return nil, &ConnectError{Server: srv, Err: err}
	}
	script, ok := g.servers[srv]
	if !ok {
		return nil, &ConnectError{Server: srv, Err: errors.New("no route to server")}
	}
	if script.ConnectError != nil {
		return nil, &ConnectError{Server: srv, Err: script.ConnectError}
	}
	if credentials != nil && script.LoginError != nil {
		return nil, &ConnectError{Server: srv, Err: script.LoginError}
	}

	g.open++
	return &memoryConnection{
		gateway: g,
		server:  srv,
		script:  script,
		pending: make(map[CorrelationID]Form),
	}, nil
}

// Attempts returns every Connect call so far, in order.
func (g *MemoryGateway) Attempts() []ConnectAttempt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ConnectAttempt(nil), g.attempts...)
}

// Forms returns every form sent so far, in order.
func (g *MemoryGateway) Forms() []SentForm {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SentForm(nil), g.forms...)
}

// FormsOfKind returns the sent forms of one kind.
func (g *MemoryGateway) FormsOfKind(kind FormKind) []SentForm {
	var matching []SentForm
	for _, sent := range g.Forms() {
		if sent.Form.Kind == kind {
			matching = append(matching, sent)
		}
	}
	return matching
}

// OpenConnections returns the number of connections not yet
// disconnected.
func (g *MemoryGateway) OpenConnections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

type memoryConnection struct {
	gateway *MemoryGateway
	server  server.Server
	script  *MemoryServer

	mu      sync.Mutex
	pending map[CorrelationID]Form
	closed  bool
}

func (c *memoryConnection) Send(ctx context.Context, form Form) (CorrelationID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("gateway: send on closed connection to %s", c.server)
	}

	c.gateway.mu.Lock()
	c.gateway.sequence++
	id := CorrelationID(fmt.Sprintf("mem-%d", c.gateway.sequence))
	c.gateway.forms = append(c.gateway.forms, SentForm{Server: c.server, Form: form})
	c.gateway.mu.Unlock()

	c.pending[id] = form
	return id, nil
}

func (c *memoryConnection) AwaitResult(ctx context.Context, id CorrelationID) (*Reply, error) {
	c.mu.Lock()
	form, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("gateway: no exchange pending for %s", id)
	}

	var reply *Reply
	var err error
	switch {
	case c.script.Handle != nil:
		reply, err = c.script.Handle(ctx, form)
	case c.script.Replies != nil:
		reply = c.script.Replies[form.Kind]
	}
	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if reply == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResponse, id)
	}

	answered := *reply
	if answered.ID == "" {
		answered.ID = id
	}
	if answered.ID != id {
		return nil, fmt.Errorf("%w: %s (ignored reply for %s)", ErrNoResponse, id, answered.ID)
	}
	return &answered, nil
}

func (c *memoryConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.gateway.mu.Lock()
	c.gateway.open--
	c.gateway.mu.Unlock()
	return nil
}
