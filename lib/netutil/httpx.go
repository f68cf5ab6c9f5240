// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP response reads for the provisioning
// gateway. Registration replies are a handful of form fields plus, at
// most, two key blobs; anything larger than MaxResponseSize is treated
// as a misbehaving server rather than buffered.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxResponseSize bounds a single response body: 4 MiB.
const MaxResponseSize int64 = 4 << 20

// maxErrorBody bounds the server text quoted inside error messages.
const maxErrorBody = 4 << 10

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("netutil: response body exceeds size limit")

// ReadResponse reads a response body of at most MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

// DecodeResponse reads a bounded body and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns the start of an error response for diagnostics.
// Read errors are ignored: a partial body still helps.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return string(data)
}
