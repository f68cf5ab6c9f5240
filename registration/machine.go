// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/provision/eventbus"
	"github.com/bureau-foundation/provision/gateway"
	"github.com/bureau-foundation/provision/identity"
	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/lib/clock"
	"github.com/bureau-foundation/provision/store"
)

// AccountStore persists provisioned accounts. *store.Store implements
// it.
type AccountStore interface {
	UpsertAccount(ctx context.Context, account store.Account) error
	ClearServerOverride(ctx context.Context) error
	PurgeRoster(ctx context.Context) error
}

// TrustStore records trusted peer fingerprints. *store.Store
// implements it.
type TrustStore interface {
	SetTrustedKeys(ctx context.Context, trusted map[string]keys.Fingerprint) error
}

var (
	_ AccountStore = (*store.Store)(nil)
	_ TrustStore   = (*store.Store)(nil)
)

// jobQueueSize bounds jobs waiting for the worker. The bus handler
// blocks (on its own goroutine) when the queue is full.
const jobQueueSize = 64

// Config holds configuration for a Machine.
type Config struct {
	// Bus carries requests in and results out. Required.
	Bus *eventbus.Bus
	// Gateway connects to federation servers. Required.
	Gateway gateway.Gateway
	// Accounts receives created accounts. Required.
	Accounts AccountStore
	// Trust receives trusted keys carried by an imported identity.
	// Required.
	Trust TrustStore
	// Verifier checks key identities against phone numbers.
	Verifier identity.Verifier
	// Clock stamps created accounts. Nil means the real clock.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
	// DefaultChallenge is requested when a VerificationRequest names
	// none. Empty means ChallengePIN.
	DefaultChallenge string
}

// Machine is the provisioning state machine. Create with New, then
// Start; Stop releases the worker and any open connection.
type Machine struct {
	bus              *eventbus.Bus
	gateway          gateway.Gateway
	accounts         AccountStore
	trust            TrustStore
	verifier         identity.Verifier
	clock            clock.Clock
	logger           *slog.Logger
	defaultChallenge string

	jobs chan job

	mu          sync.Mutex
	current     *session
	generation  uint64
	unsubscribe func()
	stopped     chan struct{}
	workerDone  chan struct{}
}

// session is the machine-private side of one SessionState.
type session struct {
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	conn       *connector

	// state is guarded by Machine.mu.
	state SessionState
}

type job struct {
	session *session
	run     func(*session)
	// discard runs instead of run when the session was superseded
	// before the job started.
	discard func()
}

// New creates a Machine in state Idle.
func New(config Config) (*Machine, error) {
	if config.Bus == nil {
		return nil, fmt.Errorf("registration: Bus is required")
	}
	if config.Gateway == nil {
		return nil, fmt.Errorf("registration: Gateway is required")
	}
	if config.Accounts == nil {
		return nil, fmt.Errorf("registration: Accounts is required")
	}
	if config.Trust == nil {
		return nil, fmt.Errorf("registration: Trust is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	challenge := config.DefaultChallenge
	if challenge == "" {
		challenge = ChallengePIN
	}

	m := &Machine{
		bus:              config.Bus,
		gateway:          config.Gateway,
		accounts:         config.Accounts,
		trust:            config.Trust,
		verifier:         config.Verifier,
		clock:            clk,
		logger:           logger,
		defaultChallenge: challenge,
		jobs:             make(chan job, jobQueueSize),
	}
	m.current = m.newSession()
	return m, nil
}

// Start subscribes to the bus and starts the worker. Calling Start on
// a running machine has no effect.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped != nil {
		return
	}
	m.stopped = make(chan struct{})
	m.workerDone = make(chan struct{})
	go m.work(m.stopped, m.workerDone)
	m.unsubscribe = m.bus.Subscribe(m.handle)
	m.logger.Debug("provisioning machine started")
}

// Stop unsubscribes, discards the current session and waits for the
// worker to exit.
func (m *Machine) Stop() {
	m.mu.Lock()
	stopped, workerDone, unsubscribe := m.stopped, m.workerDone, m.unsubscribe
	m.stopped, m.workerDone, m.unsubscribe = nil, nil, nil
	m.mu.Unlock()
	if stopped == nil {
		return
	}

	unsubscribe()
	m.Reset()
	close(stopped)
	<-workerDone

	// Release inputs held by jobs that will never run.
	for {
		select {
		case pending := <-m.jobs:
			if pending.discard != nil {
				pending.discard()
			}
		default:
			m.logger.Debug("provisioning machine stopped")
			return
		}
	}
}

// Reset discards the current session, closing its connection, and
// returns the machine to Idle. Safe to call at any time, repeatedly.
func (m *Machine) Reset() {
	m.beginSession()
}

// State returns the current session snapshot.
func (m *Machine) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.state
}

func (m *Machine) newSession() *session {
	m.generation++
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		generation: m.generation,
		ctx:        ctx,
		cancel:     cancel,
		conn:       newConnector(m.gateway, m.logger),
		state:      SessionState{Workflow: WorkflowNone, State: StateIdle},
	}
}

// beginSession replaces the current session with a fresh Idle one and
// publishes its snapshot.
func (m *Machine) beginSession() *session {
	m.mu.Lock()
	previous := m.current
	next := m.newSession()
	m.current = next
	m.bus.PublishSticky(next.state)
	m.mu.Unlock()

	previous.cancel()
	previous.conn.disconnect()
	return next
}

// sessionFor returns the current session if it has the given
// generation, or nil.
func (m *Machine) sessionFor(generation uint64) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.generation != generation {
		return nil
	}
	return m.current
}

func (m *Machine) currentSession() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// snapshot returns sess's state. The caller must only use it while
// sess is current; update and publish re-check.
func (m *Machine) snapshot(sess *session) SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.state
}

// update applies mutate to a copy of sess's state and publishes the
// copy. It does nothing and returns false once sess is superseded.
func (m *Machine) update(sess *session, mutate func(*SessionState)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != sess {
		return false
	}
	next := sess.state
	mutate(&next)
	if next.State != sess.state.State || next.Workflow != sess.state.Workflow {
		m.logger.Debug("provisioning state changed",
			"workflow", next.Workflow.String(),
			"from", sess.state.State.String(),
			"state", next.State.String(),
		)
	}
	sess.state = next
	m.bus.PublishSticky(next)
	return true
}

// publish delivers event only while sess is current.
func (m *Machine) publish(sess *session, event any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != sess {
		m.logger.Debug("dropping event from superseded session", "event", fmt.Sprintf("%T", event))
		return false
	}
	m.bus.Publish(event)
	return true
}

// enqueue hands a job to the worker. It gives up if the machine stops.
func (m *Machine) enqueue(sess *session, run func(*session), discard func()) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped == nil {
		if discard != nil {
			discard()
		}
		return
	}
	select {
	case m.jobs <- job{session: sess, run: run, discard: discard}:
	case <-stopped:
		if discard != nil {
			discard()
		}
	}
}

func (m *Machine) work(stopped, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopped:
			return
		case next := <-m.jobs:
			if next.session == nil || next.session != m.currentSession() {
				if next.discard != nil {
					next.discard()
				}
				continue
			}
			next.run(next.session)
		}
	}
}

// handle runs on the bus subscriber goroutine. It only starts sessions
// and queues jobs; all blocking work happens on the worker.
func (m *Machine) handle(event any) {
	switch e := event.(type) {
	case VerificationRequest:
		sess := m.beginSession()
		m.enqueue(sess, func(s *session) { m.runRegistration(s, e) }, nil)

	case FallbackVerificationRequest:
		m.publish(m.currentSession(), VerificationError{
			Err: fmt.Errorf("registration: fallback verification: %w", errors.ErrUnsupported),
		})

	case ImportKeyRequest:
		var once sync.Once
		closeInput := func() {
			once.Do(func() {
				if e.Input == nil {
					return
				}
				if err := e.Input.Close(); err != nil {
					m.logger.Warn("closing key package input failed", "error", err)
				}
			})
		}
		sess := m.beginSession()
		m.enqueue(sess, func(s *session) { m.runImportKey(s, e, closeInput) }, closeInput)

	case RetrieveKeyRequest:
		sess := m.beginSession()
		m.enqueue(sess, func(s *session) { m.runRetrieveKey(s, e) }, nil)

	case PassphraseInputEvent:
		m.enqueue(m.currentSession(), func(s *session) { m.onPassphrase(s, e) }, nil)

	case TermsAcceptedEvent:
		m.enqueue(m.currentSession(), m.onTermsAccepted, nil)

	case KeyReceivedEvent:
		if sess := m.sessionFor(e.generation); sess != nil {
			m.enqueue(sess, m.onKeyReceived, nil)
		}

	case LoginTestEvent:
		sess := m.sessionFor(e.generation)
		if sess == nil {
			return
		}
		if e.Err != nil {
			m.logger.Warn("login test failed", "error", e.Err)
			m.Reset()
			return
		}
		m.enqueue(sess, m.createAccount, nil)

	case RetrieveKeyError:
		if m.sessionFor(e.generation) != nil {
			m.Reset()
		}
	}
}
