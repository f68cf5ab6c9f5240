// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// UserID is the owner string embedded in a public record:
//
//	Display Name (optional comment) <localpart@network>
//
// The local part of the address is derived from the owner's phone
// number; the domain is the federation network the key belongs to.
type UserID struct {
	Name    string
	Comment string
	Email   string
}

var userIDPattern = regexp.MustCompile(`^\s*([^<(]*?)\s*(?:\(([^)]*)\))?\s*<([^<>\s]+)>\s*$`)

// NewUserID builds a UserID for localPart at network.
func NewUserID(name, localPart, network string) UserID {
	return UserID{Name: name, Email: localPart + "@" + network}
}

// ParseUserID parses the text form. The address must have a non-empty
// local part and domain and be plain ASCII, as certificates carry it
// as an IA5String.
func ParseUserID(raw string) (UserID, error) {
	match := userIDPattern.FindStringSubmatch(raw)
	if match == nil {
		return UserID{}, fmt.Errorf("%w: user id %q is not of the form \"Name <address>\"", ErrMalformed, raw)
	}
	userID := UserID{Name: match[1], Comment: match[2], Email: match[3]}
	local, domain, ok := strings.Cut(userID.Email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return UserID{}, fmt.Errorf("%w: user id address %q", ErrMalformed, userID.Email)
	}
	for i := 0; i < len(userID.Email); i++ {
		if userID.Email[i] >= utf8.RuneSelf {
			return UserID{}, fmt.Errorf("%w: user id address %q is not ASCII", ErrMalformed, userID.Email)
		}
	}
	return userID, nil
}

// String returns the text form accepted by ParseUserID.
func (u UserID) String() string {
	var builder strings.Builder
	builder.WriteString(u.Name)
	if u.Comment != "" {
		builder.WriteString(" (")
		builder.WriteString(u.Comment)
		builder.WriteString(")")
	}
	if builder.Len() > 0 {
		builder.WriteString(" ")
	}
	builder.WriteString("<")
	builder.WriteString(u.Email)
	builder.WriteString(">")
	return builder.String()
}

// LocalPart returns the part of the address before the '@'.
func (u UserID) LocalPart() string {
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// Domain returns the part of the address after the '@'.
func (u UserID) Domain() string {
	_, domain, _ := strings.Cut(u.Email, "@")
	return domain
}
