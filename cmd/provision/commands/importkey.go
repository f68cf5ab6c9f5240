// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/registration"
	"github.com/bureau-foundation/provision/server"
)

func importCommand() *cli.Command {
	var (
		common      commonFlags
		phone       string
		serverFlag  string
		acceptTerms bool
	)
	return &cli.Command{
		Name:    "import",
		Summary: "Create an account from an exported key package",
		Usage:   "provision import [flags] <key-package>",
		Description: `Create an account from a key package exported on another device.

The key is decrypted with its passphrase, checked against the phone
number (from the package, else --phone) and tested by logging in to
its server before the account is stored.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			common.register(flagSet)
			flagSet.StringVar(&phone, "phone", "", "phone number, when the package carries none")
			flagSet.StringVar(&serverFlag, "server", "", "server to use instead of the key's home server")
			flagSet.BoolVar(&acceptTerms, "accept-terms", false, "accept the server's terms of service without asking")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one key package path")
			}
			var srv server.Server
			if serverFlag != "" {
				var err error
				if srv, err = server.Parse(serverFlag); err != nil {
					return err
				}
			}

			env, err := openEnvironment(common)
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.startMachine(nil); err != nil {
				return err
			}

			input, err := os.Open(args[0])
			if err != nil {
				return err
			}
			passphrase, err := env.prompter.Passphrase("Key passphrase")
			if err != nil {
				input.Close()
				return err
			}
			defer passphrase.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return env.importKey(ctx, registration.ImportKeyRequest{
				Input:       input,
				Passphrase:  passphrase.String(),
				Server:      srv,
				PhoneNumber: phone,
			}, acceptTerms)
		},
	}
}

func (env *environment) importKey(ctx context.Context, request registration.ImportKeyRequest, acceptTerms bool) error {
	return env.follow(ctx, request, func(event any) (bool, error) {
		if terms, ok := event.(registration.AcceptTermsRequest); ok {
			return false, env.answerTerms(terms, acceptTerms)
		}
		return env.keyFlowOutcome(event)
	})
}
