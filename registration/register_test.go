// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"context"
	"errors"
	"testing"

	"github.com/bureau-foundation/provision/gateway"
	"github.com/bureau-foundation/provision/lib/testutil"
	"github.com/bureau-foundation/provision/server"
)

var (
	serverOne   = server.Server{Network: testNetwork, Host: "one.example.net", Port: server.DefaultPort}
	serverTwo   = server.Server{Network: testNetwork, Host: "two.example.net", Port: server.DefaultPort}
	serverThree = server.Server{Network: testNetwork, Host: "three.example.net", Port: server.DefaultPort}
)

func registrationReply(fields ...gateway.Field) *gateway.Reply {
	return &gateway.Reply{Fields: fields}
}

func field(name string, values ...string) gateway.Field {
	return gateway.Field{Var: name, Values: values}
}

func TestRegistrationRequestsVerification(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{Replies: map[gateway.FormKind]*gateway.Reply{
		gateway.KindInstructions: {},
		gateway.KindRegistration: registrationReply(
			field("from", "+1800"),
			field("challenge", "pin"),
			field("can-fallback", "1"),
		),
	}})

	h.bus.Publish(VerificationRequest{
		Servers:     server.NewListProvider(serverOne),
		PhoneNumber: testPhone,
		DisplayName: "Alice",
	})

	requested := waitFor[VerificationRequestedEvent](h)
	if requested.Sender != "+1800" {
		t.Errorf("Sender = %q, want +1800", requested.Sender)
	}
	if requested.Challenge != "pin" {
		t.Errorf("Challenge = %q, want pin", requested.Challenge)
	}
	if !requested.CanFallback {
		t.Error("CanFallback = false, want true")
	}

	h.drain()
	if n := count[VerificationRequestedEvent](h.seen); n != 1 {
		t.Errorf("got %d VerificationRequestedEvent, want 1", n)
	}
	if n := count[VerificationError](h.seen) + count[ServerCheckError](h.seen); n != 0 {
		t.Errorf("got %d failure events, want 0:%s", n, describe(h.seen))
	}

	state := h.machine.State()
	if state.Workflow != WorkflowRegistration || state.State != StateRequestingVerification {
		t.Errorf("state = %s/%s, want registration/requesting-verification", state.Workflow, state.State)
	}
	if state.Server != serverOne {
		t.Errorf("state.Server = %v, want %v", state.Server, serverOne)
	}

	forms := h.gateway.FormsOfKind(gateway.KindRegistration)
	if len(forms) != 1 {
		t.Fatalf("sent %d registration forms, want 1", len(forms))
	}
	form := forms[0].Form
	if got := form.Value(gateway.FieldPhone); got != testPhone {
		t.Errorf("phone field = %q, want %q", got, testPhone)
	}
	if got := form.Value(gateway.FieldChallenge); got != ChallengePIN {
		t.Errorf("challenge field = %q, want %q", got, ChallengePIN)
	}
	if got := form.Value(gateway.FieldAcceptTerms); got != "" {
		t.Errorf("accept-terms field = %q, want absent", got)
	}
	if open := h.gateway.OpenConnections(); open != 0 {
		t.Errorf("%d connections left open", open)
	}
}

func TestRegistrationFailoverExhausted(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{ConnectError: errors.New("connection refused")})
	h.gateway.AddServer(serverTwo, &gateway.MemoryServer{ConnectError: errors.New("connection reset")})

	h.bus.Publish(VerificationRequest{
		Servers:     server.NewListProvider(serverOne, serverTwo),
		PhoneNumber: testPhone,
	})

	failure := waitFor[VerificationError](h)
	var connectErr *gateway.ConnectError
	if !errors.As(failure, &connectErr) {
		t.Fatalf("VerificationError wraps %v, want *gateway.ConnectError", failure.Err)
	}
	if connectErr.Server != serverTwo {
		t.Errorf("reported server = %v, want the last one tried (%v)", connectErr.Server, serverTwo)
	}

	h.drain()
	if n := count[VerificationError](h.seen); n != 1 {
		t.Errorf("got %d VerificationError, want 1", n)
	}
	if n := count[ServerCheckError](h.seen); n != 0 {
		t.Errorf("got %d ServerCheckError, want 0", n)
	}

	attempts := h.gateway.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("got %d connect attempts, want 2", len(attempts))
	}
	for i, want := range []server.Server{serverOne, serverTwo} {
		if attempts[i].Server != want {
			t.Errorf("attempt %d went to %v, want %v", i, attempts[i].Server, want)
		}
		if attempts[i].Authenticated {
			t.Errorf("attempt %d authenticated, want anonymous", i)
		}
	}
}

func TestRegistrationFailoverToSecondServer(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{ConnectError: errors.New("connection refused")})
	h.gateway.AddServer(serverTwo, &gateway.MemoryServer{Replies: map[gateway.FormKind]*gateway.Reply{
		gateway.KindInstructions: {},
		gateway.KindRegistration: registrationReply(field("from", "+1800")),
	}})

	h.bus.Publish(VerificationRequest{
		Servers:     server.NewListProvider(serverOne, serverTwo, serverThree),
		PhoneNumber: testPhone,
	})

	waitFor[VerificationRequestedEvent](h)
	h.drain()
	if n := count[VerificationError](h.seen); n != 0 {
		t.Errorf("got %d VerificationError, want 0", n)
	}
	if got := h.machine.State().Server; got != serverTwo {
		t.Errorf("state.Server = %v, want %v", got, serverTwo)
	}
	for _, attempt := range h.gateway.Attempts() {
		if attempt.Server == serverThree {
			t.Error("machine kept trying servers after one answered")
		}
	}
}

func TestRegistrationServiceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{ConnectError: errors.New("connection refused")})
	h.gateway.AddServer(serverTwo, &gateway.MemoryServer{
		Handle: func(_ context.Context, _ gateway.Form) (*gateway.Reply, error) {
			return nil, &gateway.ProtocolError{Condition: gateway.ConditionServiceUnavailable, Text: "maintenance"}
		},
	})

	h.bus.Publish(VerificationRequest{
		Servers:     server.NewListProvider(serverOne, serverTwo),
		PhoneNumber: testPhone,
	})

	failure := waitFor[ServerCheckError](h)
	if !gateway.IsProtocolError(failure.Err, gateway.ConditionServiceUnavailable) {
		t.Errorf("ServerCheckError wraps %v, want service-unavailable", failure.Err)
	}
	h.drain()
	if n := count[VerificationError](h.seen); n != 0 {
		t.Errorf("got %d VerificationError alongside ServerCheckError, want 0", n)
	}
}

func TestRegistrationRejectedByServer(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{
		Handle: func(_ context.Context, form gateway.Form) (*gateway.Reply, error) {
			if form.Kind == gateway.KindInstructions {
				return &gateway.Reply{}, nil
			}
			return nil, &gateway.ProtocolError{Condition: gateway.ConditionNotAuthorized, Text: "blocked"}
		},
	})

	h.bus.Publish(VerificationRequest{Servers: server.NewListProvider(serverOne), PhoneNumber: testPhone})

	failure := waitFor[VerificationError](h)
	if !gateway.IsProtocolError(failure, gateway.ConditionNotAuthorized) {
		t.Errorf("VerificationError wraps %v, want not-authorized", failure.Err)
	}
}

func TestRegistrationNoServers(t *testing.T) {
	h := newHarness(t)
	h.bus.Publish(VerificationRequest{Servers: server.NewListProvider(), PhoneNumber: testPhone})

	failure := waitFor[VerificationError](h)
	if !errors.Is(failure, ErrNoServers) {
		t.Errorf("VerificationError = %v, want ErrNoServers", failure)
	}
}

func TestRegistrationMissingSender(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{Replies: map[gateway.FormKind]*gateway.Reply{
		gateway.KindInstructions: {},
		gateway.KindRegistration: registrationReply(field("challenge", "pin")),
	}})

	h.bus.Publish(VerificationRequest{Servers: server.NewListProvider(serverOne), PhoneNumber: testPhone})

	failure := waitFor[VerificationError](h)
	if !errors.Is(failure, ErrNoSender) {
		t.Errorf("VerificationError = %v, want ErrNoSender", failure)
	}
}

func TestRegistrationTermsGate(t *testing.T) {
	const termsURL = "https://one.example.net/terms"
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{Replies: map[gateway.FormKind]*gateway.Reply{
		gateway.KindInstructions: registrationReply(
			field("accept-terms"),
			field("terms", termsURL),
		),
		gateway.KindRegistration: registrationReply(field("from", "+1800")),
	}})

	h.bus.Publish(VerificationRequest{Servers: server.NewListProvider(serverOne), PhoneNumber: testPhone})

	terms := waitFor[AcceptTermsRequest](h)
	if terms.URL != termsURL {
		t.Errorf("AcceptTermsRequest.URL = %q, want %q", terms.URL, termsURL)
	}
	h.drain()
	if sent := h.gateway.FormsOfKind(gateway.KindRegistration); len(sent) != 0 {
		t.Fatalf("registration form sent before terms were accepted")
	}
	if n := count[VerificationRequestedEvent](h.seen); n != 0 {
		t.Fatalf("verification requested before terms were accepted")
	}
	if state := h.machine.State(); state.State != StateConnecting || state.TermsURL != termsURL {
		t.Errorf("state = %s with terms %q, want connecting with %q", state.State, state.TermsURL, termsURL)
	}

	h.bus.Publish(TermsAcceptedEvent{})
	waitFor[VerificationRequestedEvent](h)

	sent := h.gateway.FormsOfKind(gateway.KindRegistration)
	if len(sent) != 1 {
		t.Fatalf("sent %d registration forms, want 1", len(sent))
	}
	if got := sent[0].Form.Value(gateway.FieldAcceptTerms); got != "true" {
		t.Errorf("accept-terms field = %q, want true", got)
	}
	if h.machine.State().TermsURL != "" {
		t.Error("TermsURL still set after acceptance")
	}
}

func TestTermsAcceptedWithoutPendingTerms(t *testing.T) {
	h := newHarness(t)
	h.bus.Publish(TermsAcceptedEvent{})
	h.drain()
	if len(h.gateway.Forms()) != 0 {
		t.Error("terms acceptance in Idle sent a form")
	}
	if state := h.machine.State(); state.State != StateIdle {
		t.Errorf("state = %s, want idle", state.State)
	}
}

func TestRegistrationBrandImageFallback(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{Replies: map[gateway.FormKind]*gateway.Reply{
		gateway.KindInstructions: {},
		gateway.KindRegistration: registrationReply(
			field("from", "+1800"),
			field("brand-image-small", "https://one.example.net/small.png"),
			field("brand-image-hd", "https://one.example.net/hd.png"),
			field("brand-link", "https://one.example.net"),
		),
	}})

	h.bus.Publish(VerificationRequest{
		Servers:        server.NewListProvider(serverOne),
		PhoneNumber:    testPhone,
		BrandImageSize: BrandImageMedium,
	})

	requested := waitFor[VerificationRequestedEvent](h)
	if requested.BrandImage != "https://one.example.net/small.png" {
		t.Errorf("BrandImage = %q, want the small image", requested.BrandImage)
	}
	if requested.BrandLink != "https://one.example.net" {
		t.Errorf("BrandLink = %q", requested.BrandLink)
	}
	if requested.CanFallback {
		t.Error("CanFallback = true without a can-fallback field")
	}
}

func TestRegistrationCustomChallenge(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{Replies: map[gateway.FormKind]*gateway.Reply{
		gateway.KindInstructions: {},
		gateway.KindRegistration: registrationReply(field("from", "+1800")),
	}})

	h.bus.Publish(VerificationRequest{
		Servers:     server.NewListProvider(serverOne),
		PhoneNumber: testPhone,
		Force:       true,
		Challenge:   ChallengeMissedCall,
	})
	waitFor[VerificationRequestedEvent](h)

	form := h.gateway.FormsOfKind(gateway.KindRegistration)[0].Form
	if got := form.Value(gateway.FieldChallenge); got != ChallengeMissedCall {
		t.Errorf("challenge field = %q, want %q", got, ChallengeMissedCall)
	}
	if got := form.Value(gateway.FieldForce); got != "true" {
		t.Errorf("force field = %q, want true", got)
	}
}

func TestRegistrationFallbackOmitsChallenge(t *testing.T) {
	h := newHarness(t)
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{Replies: map[gateway.FormKind]*gateway.Reply{
		gateway.KindInstructions: {},
		gateway.KindRegistration: registrationReply(field("from", "+1800")),
	}})

	h.bus.Publish(VerificationRequest{
		Servers:     server.NewListProvider(serverOne),
		PhoneNumber: testPhone,
		Fallback:    true,
		Challenge:   ChallengeMissedCall,
	})
	waitFor[VerificationRequestedEvent](h)

	if state := h.machine.State(); !state.Fallback {
		t.Error("session does not record the fallback request")
	}
	form := h.gateway.FormsOfKind(gateway.KindRegistration)[0].Form
	if got := form.Value(gateway.FieldFallback); got != "true" {
		t.Errorf("fallback field = %q, want true", got)
	}
	if got := form.Value(gateway.FieldChallenge); got != "" {
		t.Errorf("challenge field = %q, want absent with fallback", got)
	}
}

func TestFallbackVerificationUnsupported(t *testing.T) {
	h := newHarness(t)
	h.bus.Publish(FallbackVerificationRequest{})

	failure := waitFor[VerificationError](h)
	if !errors.Is(failure, errors.ErrUnsupported) {
		t.Errorf("VerificationError = %v, want errors.ErrUnsupported", failure)
	}
}

func TestNewRequestPreemptsRegistration(t *testing.T) {
	h := newHarness(t)
	blocking := newBlockingHandler()
	h.gateway.AddServer(serverOne, &gateway.MemoryServer{Handle: blocking.handle})
	h.gateway.AddServer(serverThree, &gateway.MemoryServer{Replies: map[gateway.FormKind]*gateway.Reply{
		gateway.KindPrivateKeyRequest: {},
	}})

	h.bus.Publish(VerificationRequest{Servers: server.NewListProvider(serverOne, serverTwo), PhoneNumber: testPhone})
	testutil.RequireReceive(t, blocking.started, eventTimeout, "registration never reached the server")

	h.bus.Publish(RetrieveKeyRequest{Server: serverThree, PhoneNumber: testPhone, PrivateKeyToken: "token"})
	failure := waitFor[RetrieveKeyError](h)
	if failure.Kind != KindNoKey {
		t.Errorf("RetrieveKeyError.Kind = %s, want no-key", failure.Kind)
	}

	h.drain()
	if n := count[VerificationError](h.seen) + count[ServerCheckError](h.seen); n != 0 {
		t.Errorf("superseded registration published %d failures:%s", n, describe(h.seen))
	}
	for _, attempt := range h.gateway.Attempts() {
		if attempt.Server == serverTwo {
			t.Error("superseded registration failed over to the next server")
		}
	}
	if open := h.gateway.OpenConnections(); open != 0 {
		t.Errorf("%d connections left open", open)
	}
}
