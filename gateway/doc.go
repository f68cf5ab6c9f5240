// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the provisioning client's view of a federation
// server: connect (anonymously or with a personal key), exchange
// request forms for replies, disconnect.
//
// Exchanges are asynchronous. [Connection.Send] returns a
// [CorrelationID] immediately and [Connection.AwaitResult] waits for
// the reply carrying that id. A reply with any other id is ignored.
// The gateway owns the exchange timeout; callers add none of their own.
//
// Two implementations are provided: [HTTPGateway] speaks JSON over
// HTTPS, and [MemoryGateway] serves scripted replies in-process for
// tests.
package gateway
