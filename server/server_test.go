// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Server
	}{
		{"example.org", Server{Network: "example.org", Host: "example.org", Port: DefaultPort}},
		{"example.org|prov.example.org:7443", Server{Network: "example.org", Host: "prov.example.org", Port: 7443}},
		{"example.org|prov.example.org", Server{Network: "example.org", Host: "prov.example.org", Port: DefaultPort}},
		{"example.org|[::1]:8443", Server{Network: "example.org", Host: "::1", Port: 8443}},
		{"  example.org|127.0.0.1:80  ", Server{Network: "example.org", Host: "127.0.0.1", Port: 80}},
	}
	for _, test := range tests {
		t.Run(test.raw, func(t *testing.T) {
			got, err := Parse(test.raw)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got != test.want {
				t.Errorf("Parse = %+v, want %+v", got, test.want)
			}
			again, err := Parse(got.String())
			if err != nil || again != got {
				t.Errorf("String() %q does not parse back: %+v, %v", got.String(), again, err)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{"", "|host:1", "exa mple.org", "example.org|host:0", "example.org|host:99999", "example.org|host:port", "a@b"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", raw)
		}
	}
}

func TestTextRoundtrip(t *testing.T) {
	original := MustParse("example.org|prov.example.org:7443")
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var decoded Server
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip = %+v, want %+v", decoded, original)
	}
	if err := decoded.UnmarshalText(nil); err != nil || !decoded.IsZero() {
		t.Errorf("empty text should give the zero Server, got %+v, %v", decoded, err)
	}
}

func TestListProvider_SinglePass(t *testing.T) {
	first := MustParse("one.example")
	second := MustParse("two.example")
	provider := NewListProvider(first, second, first, Server{})

	if provider.Remaining() != 2 {
		t.Fatalf("Remaining = %d, want 2 after dedup", provider.Remaining())
	}
	var seen []Server
	for {
		next, ok := provider.Next()
		if !ok {
			break
		}
		seen = append(seen, next)
	}
	if !slices.Equal(seen, []Server{first, second}) {
		t.Fatalf("enumerated %v", seen)
	}
	for range 3 {
		if _, ok := provider.Next(); ok {
			t.Fatal("Next returned a server after exhaustion")
		}
	}
}

func TestShuffledProvider_Permutation(t *testing.T) {
	servers := []Server{MustParse("a.example"), MustParse("b.example"), MustParse("c.example"), MustParse("d.example")}
	provider := NewShuffledProvider(servers, rand.New(rand.NewPCG(1, 2)))

	var seen []Server
	for next, ok := provider.Next(); ok; next, ok = provider.Next() {
		seen = append(seen, next)
	}
	if len(seen) != len(servers) {
		t.Fatalf("enumerated %d servers, want %d", len(seen), len(servers))
	}
	for _, candidate := range servers {
		if !slices.Contains(seen, candidate) {
			t.Errorf("%v missing from shuffled enumeration", candidate)
		}
	}
}
