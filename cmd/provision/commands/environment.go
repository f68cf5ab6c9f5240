// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/eventbus"
	"github.com/bureau-foundation/provision/gateway"
	"github.com/bureau-foundation/provision/identity"
	"github.com/bureau-foundation/provision/lib/clock"
	"github.com/bureau-foundation/provision/lib/config"
	"github.com/bureau-foundation/provision/registration"
	"github.com/bureau-foundation/provision/store"
)

// commonFlags are accepted by every command that touches state.
type commonFlags struct {
	configPath     string
	passphraseFile string
	verbose        bool
}

func (f *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.configPath, "config", "", "configuration file (default: $PROVISION_CONFIG, else built-in defaults)")
	flagSet.StringVar(&f.passphraseFile, "passphrase-file", "", `read the key passphrase from a file ("-" for stdin) instead of prompting`)
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")
}

// loadConfig reads the configuration named by path, PROVISION_CONFIG,
// or the defaults, in that order.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv(config.EnvConfig) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
		cfg.Expand()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// environment holds what the commands share: configuration, logger,
// store and output. Workflow commands add the bus and machine with
// startMachine.
type environment struct {
	config   *config.Config
	logger   *slog.Logger
	store    *store.Store
	printer  *cli.Printer
	prompter cli.Prompter

	bus     *eventbus.Bus
	machine *registration.Machine
}

func openEnvironment(flags commonFlags) (*environment, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := cli.NewLogger(os.Stderr, level, cfg.Logging.Format)
	return newEnvironment(cfg, logger, os.Stdout, cli.NewTerminalPrompter(flags.passphraseFile))
}

func newEnvironment(cfg *config.Config, logger *slog.Logger, out io.Writer, prompter cli.Prompter) (*environment, error) {
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Paths.Database, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &environment{
		config:   cfg,
		logger:   logger,
		store:    st,
		printer:  cli.NewPrinter(out),
		prompter: prompter,
	}, nil
}

// startMachine starts the provisioning machine over gw, or over an
// HTTP gateway built from the configuration when gw is nil.
func (env *environment) startMachine(gw gateway.Gateway) error {
	if gw == nil {
		timeout, err := env.config.GatewayTimeout()
		if err != nil {
			return err
		}
		gw, err = gateway.NewHTTPGateway(gateway.HTTPConfig{
			Scheme:  env.config.Gateway.Scheme,
			Timeout: timeout,
			Logger:  env.logger,
		})
		if err != nil {
			return err
		}
	}

	bus := eventbus.New(eventbus.Config{Logger: env.logger})
	machine, err := registration.New(registration.Config{
		Bus:              bus,
		Gateway:          gw,
		Accounts:         env.store,
		Trust:            env.store,
		Verifier:         identity.Verifier{},
		Clock:            clock.Real(),
		Logger:           env.logger,
		DefaultChallenge: env.config.Registration.Challenge,
	})
	if err != nil {
		bus.Close()
		return err
	}
	machine.Start()
	env.bus, env.machine = bus, machine
	return nil
}

func (env *environment) Close() {
	if env.machine != nil {
		env.machine.Stop()
	}
	if env.bus != nil {
		env.bus.Close()
	}
	if err := env.store.Close(); err != nil {
		env.logger.Warn("closing store failed", "error", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// errTermsDeclined is returned when the user refuses the server's terms.
var errTermsDeclined = errors.New("terms of service declined")

// follow publishes request and feeds every subsequent event to handle
// until it reports done or ctx ends. Interrupting resets the machine.
func (env *environment) follow(ctx context.Context, request any, handle func(event any) (done bool, err error)) error {
	events, unsubscribe := env.bus.Events()
	defer unsubscribe()

	env.bus.Publish(request)
	for {
		select {
		case <-ctx.Done():
			env.machine.Reset()
			return ctx.Err()
		case event := <-events:
			if state, ok := event.(registration.SessionState); ok {
				env.logger.Debug("session state",
					"workflow", state.Workflow.String(),
					"state", state.State.String(),
				)
			}
			done, err := handle(event)
			if done || err != nil {
				return err
			}
		}
	}
}

// answerTerms asks the user to accept the server's terms unless
// preaccepted, and tells the machine.
func (env *environment) answerTerms(request registration.AcceptTermsRequest, preaccepted bool) error {
	env.printer.Notice("The server requires accepting its terms of service: %s", request.URL)
	accepted := preaccepted
	if !accepted {
		var err error
		accepted, err = env.prompter.Confirm("Accept the terms of service?")
		if err != nil {
			return fmt.Errorf("%w (pass --accept-terms to accept non-interactively)", err)
		}
	}
	if !accepted {
		return errTermsDeclined
	}
	env.bus.Publish(registration.TermsAcceptedEvent{})
	return nil
}

// keyFlowOutcome handles the events that end an ImportKey or
// RetrieveKey session.
func (env *environment) keyFlowOutcome(event any) (bool, error) {
	switch e := event.(type) {
	case registration.AccountCreatedEvent:
		env.printAccount("Account created", e.Account)
		return true, nil
	case registration.ImportKeyError:
		return true, fmt.Errorf("import failed (%s): %w", e.Kind, e.Err)
	case registration.RetrieveKeyError:
		return true, fmt.Errorf("key retrieval failed (%s): %w", e.Kind, e.Err)
	case registration.LoginTestEvent:
		if e.Err != nil {
			return true, fmt.Errorf("the server rejected the key: %w", e.Err)
		}
	case registration.AccountCreationError:
		return true, e
	}
	return false, nil
}
