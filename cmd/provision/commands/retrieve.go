// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/registration"
	"github.com/bureau-foundation/provision/server"
)

func retrieveCommand() *cli.Command {
	var (
		common     commonFlags
		phone      string
		token      string
		serverFlag string
	)
	return &cli.Command{
		Name:    "retrieve",
		Summary: "Create an account from a key parked on the server",
		Description: `Fetch a private key another device parked on the server under a
one-time token, decrypt it with its passphrase and create the account.

The server is --server, else the stored server override, else the first
configured server.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("retrieve", pflag.ContinueOnError)
			common.register(flagSet)
			flagSet.StringVar(&phone, "phone", "", "phone number the key belongs to (required)")
			flagSet.StringVar(&token, "token", "", "private key token shown on the other device (required)")
			flagSet.StringVar(&serverFlag, "server", "", "server holding the key, network|host:port")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if phone == "" || token == "" {
				return fmt.Errorf("--phone and --token are required")
			}

			env, err := openEnvironment(common)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx, cancel := signalContext()
			defer cancel()
			srv, err := env.retrievalServer(ctx, serverFlag)
			if err != nil {
				return err
			}
			if err := env.startMachine(nil); err != nil {
				return err
			}
			return env.retrieveKey(ctx, registration.RetrieveKeyRequest{
				Server:          srv,
				PhoneNumber:     phone,
				PrivateKeyToken: token,
			})
		},
	}
}

func (env *environment) retrievalServer(ctx context.Context, flag string) (server.Server, error) {
	if flag != "" {
		return server.Parse(flag)
	}
	override, ok, err := env.store.ServerOverride(ctx)
	if err != nil {
		return server.Server{}, err
	}
	if ok {
		return override, nil
	}
	if len(env.config.Servers.List) > 0 {
		return server.Parse(env.config.Servers.List[0])
	}
	return server.Server{}, fmt.Errorf("no server: pass --server, set an override, or configure servers.list")
}

func (env *environment) retrieveKey(ctx context.Context, request registration.RetrieveKeyRequest) error {
	return env.follow(ctx, request, func(event any) (bool, error) {
		state, ok := event.(registration.SessionState)
		if ok && state.Workflow == registration.WorkflowRetrieveKey && state.State == registration.StateWaitingPassphrase {
			passphrase, err := env.prompter.Passphrase("Key passphrase")
			if err != nil {
				return true, err
			}
			defer passphrase.Close()
			env.bus.Publish(registration.PassphraseInputEvent{Passphrase: passphrase.String()})
			return false, nil
		}
		return env.keyFlowOutcome(event)
	})
}
