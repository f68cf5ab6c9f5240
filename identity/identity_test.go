// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/provision/keys"
)

func TestLocalPart(t *testing.T) {
	const want = "0e5d2a62809ed5e271adc9b515b1d417c6673d20"
	if got := LocalPart("15551234"); got != want {
		t.Fatalf("LocalPart = %q, want %q", got, want)
	}
	if LocalPart("15551235") == want {
		t.Error("different numbers share a local part")
	}
}

func TestVerify(t *testing.T) {
	const phone = "15551234"
	expected := LocalPart(phone)
	verifier := Verifier{}

	tests := []struct {
		name      string
		localPart string
		wantErr   error
	}{
		{"exact", expected, nil},
		{"upper case", strings.ToUpper(expected), nil},
		{"different", LocalPart("15559999"), ErrUIDMismatch},
		{"prefix only", expected[:20], ErrUIDMismatch},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			userID := keys.NewUserID("Alice", test.localPart, "example.net")
			got, err := verifier.Verify(userID, phone)
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("Verify error = %v, want %v", err, test.wantErr)
				}
				var mismatch *MismatchError
				if !errors.As(err, &mismatch) {
					t.Fatalf("Verify error %T is not *MismatchError", err)
				}
				if mismatch.Expected != expected || mismatch.Address != userID.Email {
					t.Errorf("MismatchError = %+v", mismatch)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if got.Network != "example.net" || got.DisplayName != "Alice" || got.PhoneNumber != phone {
				t.Errorf("Identity = %+v", got)
			}
		})
	}
}

func TestVerifyNoPhoneNumber(t *testing.T) {
	userID := keys.NewUserID("Alice", LocalPart(""), "example.net")
	_, err := Verifier{}.Verify(userID, "")
	if !errors.Is(err, ErrNoPhoneNumber) {
		t.Fatalf("Verify error = %v, want ErrNoPhoneNumber", err)
	}
	if errors.Is(err, ErrUIDMismatch) {
		t.Error("missing phone number reported as a mismatch")
	}
}

func TestVerifyCustomNormalize(t *testing.T) {
	verifier := Verifier{Normalize: func(phone string) string { return "H" }}
	if _, err := verifier.Verify(keys.NewUserID("", "h", "example.net"), "15551234"); err != nil {
		t.Fatalf("Verify with case-only difference: %v", err)
	}
	if _, err := verifier.Verify(keys.NewUserID("", "g", "example.net"), "15551234"); !errors.Is(err, ErrUIDMismatch) {
		t.Fatalf("Verify error = %v, want ErrUIDMismatch", err)
	}
}
