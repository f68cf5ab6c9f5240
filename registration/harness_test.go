// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/provision/eventbus"
	"github.com/bureau-foundation/provision/gateway"
	"github.com/bureau-foundation/provision/identity"
	"github.com/bureau-foundation/provision/keypack"
	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/lib/clock"
	"github.com/bureau-foundation/provision/lib/codec"
	"github.com/bureau-foundation/provision/store"
)

const (
	testPhone      = "15551234"
	testPassphrase = "correct horse"
	testNetwork    = "example.net"
	eventTimeout   = 10 * time.Second
	quietPeriod    = 100 * time.Millisecond
)

var testEpoch = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	bus     *eventbus.Bus
	gateway *gateway.MemoryGateway
	store   *store.Store
	machine *Machine
	events  <-chan any
	seen    []any
}

type harnessOption func(*Config)

// withFailingUpserts makes every account upsert fail with err.
func withFailingUpserts(err error) harnessOption {
	return func(config *Config) {
		config.Accounts = failingAccounts{Store: config.Accounts.(*store.Store), err: err}
	}
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	bus := eventbus.New(eventbus.Config{Logger: logger})
	events, unsubscribe := bus.Events()

	st, err := store.Open(store.Config{
		Path:   filepath.Join(t.TempDir(), "provision.db"),
		Clock:  clock.Fake(testEpoch),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	memory := gateway.NewMemoryGateway()
	config := Config{
		Bus:      bus,
		Gateway:  memory,
		Accounts: st,
		Trust:    st,
		Clock:    clock.Fake(testEpoch),
		Logger:   logger,
	}
	for _, option := range options {
		option(&config)
	}
	machine, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	machine.Start()

	t.Cleanup(func() {
		machine.Stop()
		unsubscribe()
		bus.Close()
		st.Close()
	})
	return &harness{t: t, bus: bus, gateway: memory, store: st, machine: machine, events: events}
}

// receive returns the next event or fails the test.
func (h *harness) receive(what string) any {
	h.t.Helper()
	select {
	case event := <-h.events:
		h.seen = append(h.seen, event)
		return event
	case <-time.After(eventTimeout):
		h.t.Fatalf("timed out waiting for %s; events so far: %s", what, describe(h.seen))
	}
	panic("unreachable")
}

// waitFor consumes events until one of type T arrives.
func waitFor[T any](h *harness) T {
	h.t.Helper()
	var zero T
	for {
		if event, ok := h.receive(fmt.Sprintf("%T", zero)).(T); ok {
			return event
		}
	}
}

// waitState consumes events until a SessionState in state arrives.
func (h *harness) waitState(workflow Workflow, state State) SessionState {
	h.t.Helper()
	for {
		snapshot, ok := h.receive(fmt.Sprintf("state %s/%s", workflow, state)).(SessionState)
		if ok && snapshot.Workflow == workflow && snapshot.State == state {
			return snapshot
		}
	}
}

// drain collects events until none arrives for quietPeriod.
func (h *harness) drain() []any {
	var drained []any
	for {
		select {
		case event := <-h.events:
			h.seen = append(h.seen, event)
			drained = append(drained, event)
		case <-time.After(quietPeriod):
			return drained
		}
	}
}

// count returns how many seen events have type T.
func count[T any](events []any) int {
	n := 0
	for _, event := range events {
		if _, ok := event.(T); ok {
			n++
		}
	}
	return n
}

func describe(events []any) string {
	var buffer bytes.Buffer
	for _, event := range events {
		if snapshot, ok := event.(SessionState); ok {
			fmt.Fprintf(&buffer, "\n  SessionState{%s %s}", snapshot.Workflow, snapshot.State)
			continue
		}
		fmt.Fprintf(&buffer, "\n  %T %+v", event, event)
	}
	return buffer.String()
}

// testKey generates a key whose address local part is localPart.
func testKey(t *testing.T, localPart string) *keys.PersonalKey {
	t.Helper()
	key, err := keys.Generate(keys.NewUserID("Alice", localPart, testNetwork), testEpoch)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return key
}

func exportKey(t *testing.T, key *keys.PersonalKey, passphrase string) (private, public []byte) {
	t.Helper()
	private, public, err := key.Export(passphrase, 10)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	return private, public
}

// countingReader is a key package input that counts Close calls.
type countingReader struct {
	io.Reader
	closes atomic.Int32
}

func (r *countingReader) Close() error {
	r.closes.Add(1)
	return nil
}

func packageInput(t *testing.T, contents keypack.Contents) *countingReader {
	t.Helper()
	var buffer bytes.Buffer
	if err := keypack.Write(&buffer, contents); err != nil {
		t.Fatalf("keypack.Write: %v", err)
	}
	return &countingReader{Reader: &buffer}
}

// failingAccounts wraps a real store and rejects upserts.
type failingAccounts struct {
	*store.Store
	err error
}

func (f failingAccounts) UpsertAccount(context.Context, store.Account) error { return f.err }

// withFailingTrust makes every trusted-key write fail with err.
func withFailingTrust(err error) harnessOption {
	return func(config *Config) {
		config.Trust = failingTrust{err: err}
	}
}

type failingTrust struct{ err error }

func (f failingTrust) SetTrustedKeys(context.Context, map[string]keys.Fingerprint) error {
	return f.err
}

// uncertifiablePublic re-signs key's public record with a user id
// whose address is not ASCII, so no bridge certificate could carry it.
func uncertifiablePublic(t *testing.T, key *keys.PersonalKey) []byte {
	t.Helper()
	var signed struct {
		Record    []byte `cbor:"record"`
		Signature []byte `cbor:"sig"`
	}
	if err := codec.Unmarshal(key.PublicKeyBytes(), &signed); err != nil {
		t.Fatalf("decoding public blob: %v", err)
	}
	var record struct {
		Version       int    `cbor:"v"`
		UserID        string `cbor:"uid"`
		SigningKey    []byte `cbor:"sig_key"`
		EncryptionKey string `cbor:"enc_key"`
		Created       int64  `cbor:"created"`
	}
	if err := codec.Unmarshal(signed.Record, &record); err != nil {
		t.Fatalf("decoding public record: %v", err)
	}
	record.UserID = "Alice <" + expectedLocalPart + "@exämple.net>"

	recordBytes, err := codec.Marshal(record)
	if err != nil {
		t.Fatalf("encoding public record: %v", err)
	}
	signature, err := key.Sign(recordBytes)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	signed.Record, signed.Signature = recordBytes, signature
	blob, err := codec.Marshal(signed)
	if err != nil {
		t.Fatalf("encoding public blob: %v", err)
	}
	return blob
}

// blockingHandler answers nothing until the exchange context ends, and
// signals each form it receives.
type blockingHandler struct {
	started chan gateway.Form
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{started: make(chan gateway.Form, 16)}
}

func (b *blockingHandler) handle(ctx context.Context, form gateway.Form) (*gateway.Reply, error) {
	b.started <- form
	<-ctx.Done()
	return nil, ctx.Err()
}

var expectedLocalPart = identity.LocalPart(testPhone)
