// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	t.Run("normal body", func(t *testing.T) {
		data, err := ReadResponse(strings.NewReader(`{"id":"abc"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"id":"abc"}` {
			t.Fatalf("got %q", data)
		}
	})

	t.Run("exactly at the limit", func(t *testing.T) {
		data, err := ReadResponse(bytes.NewReader(make([]byte, MaxResponseSize)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if int64(len(data)) != MaxResponseSize {
			t.Fatalf("read %d bytes", len(data))
		}
	})

	t.Run("over the limit", func(t *testing.T) {
		_, err := ReadResponse(bytes.NewReader(make([]byte, MaxResponseSize+1)))
		if !errors.Is(err, ErrResponseTooLarge) {
			t.Fatalf("got %v, want ErrResponseTooLarge", err)
		}
	})

	t.Run("read error propagates", func(t *testing.T) {
		if _, err := ReadResponse(&failReader{}); err == nil {
			t.Fatal("expected error from failing reader")
		}
	})
}

func TestDecodeResponse(t *testing.T) {
	var result struct {
		Condition string `json:"condition"`
	}
	if err := DecodeResponse(strings.NewReader(`{"condition":"service-unavailable"}`), &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Condition != "service-unavailable" {
		t.Fatalf("condition = %q", result.Condition)
	}
	if err := DecodeResponse(strings.NewReader(`not json`), &result); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("bad gateway")); got != "bad gateway" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", maxErrorBody*2)
	if got := ErrorBody(strings.NewReader(long)); len(got) != maxErrorBody {
		t.Fatalf("ErrorBody returned %d bytes, want %d", len(got), maxErrorBody)
	}
	if got := ErrorBody(&failReader{}); got != "" {
		t.Fatalf("expected empty from failing reader, got %q", got)
	}
}

type failReader struct{}

func (*failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read failure")
}
