// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/provision/server"
)

// ErrNoResponse: no reply with the expected correlation id arrived.
var ErrNoResponse = errors.New("gateway: no response")

// ProtocolError is a well-formed refusal from the server. Callers use
// errors.As or IsProtocolError:
//
//	if gateway.IsProtocolError(err, gateway.ConditionServiceUnavailable) { ... }
type ProtocolError struct {
	// Condition is the machine-readable reason, e.g.
	// "service-unavailable".
	Condition string `json:"condition"`
	// Text is the server's human-readable description.
	Text string `json:"text,omitempty"`
	// StatusCode is the HTTP status, zero for in-memory servers.
	StatusCode int `json:"-"`
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway: %s (%d): %s", e.Condition, e.StatusCode, e.Text)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Condition, e.Text)
}

// Error conditions.
const (
	ConditionServiceUnavailable = "service-unavailable"
	ConditionNotAuthorized      = "not-authorized"
	ConditionBadRequest         = "bad-request"
	ConditionConflict           = "conflict"
	ConditionItemNotFound       = "item-not-found"
	ConditionInternalServer     = "internal-server-error"
)

// IsProtocolError reports whether err is a *ProtocolError with the
// given condition.
func IsProtocolError(err error, condition string) bool {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return protocolErr.Condition == condition
	}
	return false
}

// ConnectError reports a failure to open a connection.
type ConnectError struct {
	Server server.Server
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("gateway: connecting to %s: %v", e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
