// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/provision/server"
)

func TestMemoryGatewayScriptedReplies(t *testing.T) {
	srv := server.MustParse("example.net")
	memory := NewMemoryGateway()
	memory.AddServer(srv, &MemoryServer{Replies: map[FormKind]*Reply{
		KindInstructions: {Fields: []Field{{Var: "terms", Values: []string{"https://example.net/tos"}}}},
	}})

	conn, err := memory.Connect(context.Background(), srv, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if memory.OpenConnections() != 1 {
		t.Errorf("OpenConnections = %d, want 1", memory.OpenConnections())
	}

	reply, err := Exchange(context.Background(), conn, InstructionsForm())
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply.Value("terms") != "https://example.net/tos" {
		t.Errorf("terms = %q", reply.Value("terms"))
	}
	if reply.ID == "" {
		t.Error("reply has no correlation id")
	}

	// No scripted registration reply: the server never answers.
	if _, err := Exchange(context.Background(), conn, RegistrationForm(RegistrationParams{PhoneNumber: "1"})); !errors.Is(err, ErrNoResponse) {
		t.Errorf("unscripted exchange error = %v, want ErrNoResponse", err)
	}

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := conn.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if memory.OpenConnections() != 0 {
		t.Errorf("OpenConnections = %d after Disconnect", memory.OpenConnections())
	}
	if _, err := conn.Send(context.Background(), InstructionsForm()); err == nil {
		t.Error("Send succeeded on a closed connection")
	}

	if got := len(memory.FormsOfKind(KindInstructions)); got != 1 {
		t.Errorf("instructions forms sent = %d, want 1", got)
	}
}

func TestMemoryGatewayIgnoresMismatchedReply(t *testing.T) {
	srv := server.MustParse("example.net")
	memory := NewMemoryGateway()
	memory.AddServer(srv, &MemoryServer{
		Handle: func(ctx context.Context, form Form) (*Reply, error) {
			return &Reply{ID: "someone-else"}, nil
		},
	})
	conn, err := memory.Connect(context.Background(), srv, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Disconnect()

	if _, err := Exchange(context.Background(), conn, InstructionsForm()); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Exchange error = %v, want ErrNoResponse", err)
	}
}

func TestMemoryGatewayConnectFailures(t *testing.T) {
	good := server.MustParse("good.example")
	down := server.MustParse("down.example")
	memory := NewMemoryGateway()
	memory.AddServer(good, &MemoryServer{LoginError: errors.New("unknown key")})
	memory.AddServer(down, &MemoryServer{ConnectError: errors.New("refused")})

	tests := []struct {
		name        string
		server      server.Server
		credentials Credentials
	}{
		{"unknown server", server.MustParse("nowhere.example"), nil},
		{"connect error", down, nil},
		{"login error", good, stubCredentials{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := memory.Connect(context.Background(), test.server, test.credentials)
			var connectErr *ConnectError
			if !errors.As(err, &connectErr) {
				t.Fatalf("Connect error = %v, want *ConnectError", err)
			}
			if connectErr.Server != test.server {
				t.Errorf("ConnectError.Server = %v, want %v", connectErr.Server, test.server)
			}
		})
	}

	if _, err := memory.Connect(context.Background(), good, nil); err != nil {
		t.Errorf("anonymous Connect to a server with a login error: %v", err)
	}

	attempts := memory.Attempts()
	if len(attempts) != 4 {
		t.Fatalf("Attempts = %d, want 4", len(attempts))
	}
	if !attempts[2].Authenticated || attempts[3].Authenticated {
		t.Errorf("Authenticated flags = %v, %v", attempts[2].Authenticated, attempts[3].Authenticated)
	}
}
