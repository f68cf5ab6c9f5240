// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package server names federation servers and enumerates them for
// failover.
//
// A [Server] pairs the network a user's identity belongs to (the
// domain in their key's address) with the endpoint that serves
// provisioning requests for it. The text form is
//
//	network|host:port
//
// where "network" alone means the network's own host on DefaultPort.
package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when a server string names no port.
const DefaultPort = 443

// Server is an immutable federation server reference. The zero value
// means "no server".
type Server struct {
	Network string
	Host    string
	Port    int
}

// Parse reads the text form of a Server.
func Parse(raw string) (Server, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Server{}, fmt.Errorf("server: empty server string")
	}

	network, endpoint, hasEndpoint := strings.Cut(raw, "|")
	if err := validateName(network); err != nil {
		return Server{}, fmt.Errorf("server: network in %q: %w", raw, err)
	}
	if !hasEndpoint || endpoint == "" {
		return Server{Network: network, Host: network, Port: DefaultPort}, nil
	}

	host, portText, err := net.SplitHostPort(endpoint)
	if err != nil {
		// No port: the whole endpoint is the host.
		host, portText = endpoint, ""
	}
	if err := validateName(host); err != nil {
		return Server{}, fmt.Errorf("server: host in %q: %w", raw, err)
	}
	port := DefaultPort
	if portText != "" {
		port, err = strconv.Atoi(portText)
		if err != nil || port <= 0 || port > 65535 {
			return Server{}, fmt.Errorf("server: invalid port %q in %q", portText, raw)
		}
	}
	return Server{Network: network, Host: host, Port: port}, nil
}

// MustParse is Parse for known-valid literals; it panics on error.
func MustParse(raw string) Server {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// FromDomain derives the server for an identity whose address lives
// under domain.
func FromDomain(domain string) Server {
	return Server{Network: domain, Host: domain, Port: DefaultPort}
}

// IsZero reports whether s is the zero Server.
func (s Server) IsZero() bool { return s.Network == "" }

// Address returns host:port for dialing.
func (s Server) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// String returns the text form accepted by Parse.
func (s Server) String() string {
	if s.IsZero() {
		return ""
	}
	return s.Network + "|" + s.Address()
}

// MarshalText implements encoding.TextMarshaler.
func (s Server) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input
// yields the zero Server.
func (s *Server) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*s = Server{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	for index := 0; index < len(name); index++ {
		c := name[index]
		if c <= ' ' || c == '|' || c == '@' || c == '/' {
			return fmt.Errorf("invalid character at position %d", index)
		}
	}
	return nil
}
