// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type record struct {
	UserID  string `cbor:"uid"`
	Key     []byte `cbor:"key"`
	Created int64  `cbor:"created"`
	Note    string `cbor:"note,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	first := map[string]any{"z": 1, "a": "two", "m": []byte{3}}
	second := map[string]any{"m": []byte{3}, "a": "two", "z": 1}

	a, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("insertion order changed the encoding:\n%x\n%x", a, b)
	}
}

func TestStructRoundtrip(t *testing.T) {
	original := record{UserID: "Alice <abc@example.org>", Key: []byte{1, 2, 3}, Created: 1700000000}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := Wellformed(data); err != nil {
		t.Fatalf("Wellformed rejected encoder output: %v", err)
	}

	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.UserID != original.UserID || !bytes.Equal(decoded.Key, original.Key) || decoded.Created != original.Created {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestOmitempty(t *testing.T) {
	data, err := Marshal(record{UserID: "x"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var generic map[string]any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, present := generic["note"]; present {
		t.Error("empty note was encoded")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var decoded record
	if err := Unmarshal([]byte{0xff, 0x00, 0x13}, &decoded); err == nil {
		t.Error("expected error decoding invalid CBOR")
	}
	if err := Wellformed([]byte{0x9f}); err == nil {
		t.Error("Wellformed accepted a truncated item")
	}
}

func TestStreamRoundtrip(t *testing.T) {
	var stream bytes.Buffer
	encoder := NewEncoder(&stream)
	for index := range 3 {
		if err := encoder.Encode(record{UserID: "u", Created: int64(index)}); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	decoder := NewDecoder(&stream)
	for index := range 3 {
		var decoded record
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode %d failed: %v", index, err)
		}
		if decoded.Created != int64(index) {
			t.Errorf("record %d: Created = %d", index, decoded.Created)
		}
	}
}
