// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/provision/gateway"
	"github.com/bureau-foundation/provision/server"
)

// connector owns the gateway connection of one session. The
// connection is reused while the server and credentials stay the same;
// changing either tears it down first.
type connector struct {
	gateway gateway.Gateway
	logger  *slog.Logger

	mu          sync.Mutex
	server      server.Server
	conn        gateway.Connection
	credentials gateway.Credentials
	dirty       bool
}

func newConnector(gw gateway.Gateway, logger *slog.Logger) *connector {
	return &connector{gateway: gw, logger: logger}
}

// setServer selects the server for the next connect.
func (c *connector) setServer(srv server.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if srv != c.server {
		c.server = srv
		c.dirty = true
	}
}

// connect returns a connection to the selected server, opened with
// credentials (nil for anonymous).
func (c *connector) connect(ctx context.Context, credentials gateway.Credentials) (gateway.Connection, error) {
	c.mu.Lock()
	if c.conn != nil && !c.dirty && c.credentials == credentials {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	stale := c.conn
	c.conn = nil
	srv := c.server
	c.mu.Unlock()

	if stale != nil {
		c.closeConnection(stale)
	}

	conn, err := c.gateway.Connect(ctx, srv, credentials)
	if err != nil {
		return nil, err
	}
	// The session may have been reset while Connect was in flight.
	if err := ctx.Err(); err != nil {
		c.closeConnection(conn)
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.credentials = credentials
	c.dirty = false
	c.mu.Unlock()
	return conn, nil
}

// disconnect drops the current connection, if any.
func (c *connector) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.credentials = nil
	c.mu.Unlock()
	if conn != nil {
		c.closeConnection(conn)
	}
}

func (c *connector) closeConnection(conn gateway.Connection) {
	if err := conn.Disconnect(); err != nil {
		c.logger.Warn("disconnect failed", "error", err)
	}
}
