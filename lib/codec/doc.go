// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration shared by every package that
// persists or signs structured records.
//
// Signed key records must encode to the same bytes on every machine,
// so the encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, shortest integer forms, definite lengths. A
// signature computed over Marshal's output on one host verifies over
// Marshal's output on another.
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
// JSON remains the format of the wire protocol and the CLI. CBOR is for
// key material that leaves the process as opaque blobs.
package codec
