// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/store"
)

func accountsCommand() *cli.Command {
	var common commonFlags
	return &cli.Command{
		Name:    "accounts",
		Summary: "Show provisioned accounts",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Summary: "List provisioned accounts",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
					common.register(flagSet)
					return flagSet
				},
				Run: func(args []string) error {
					env, err := openEnvironment(common)
					if err != nil {
						return err
					}
					defer env.Close()
					return env.listAccounts(context.Background())
				},
			},
		},
	}
}

func (env *environment) listAccounts(ctx context.Context) error {
	accounts, err := env.store.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		env.printer.Notice("No accounts provisioned.")
		return nil
	}
	rows := make([][]string, 0, len(accounts))
	for _, account := range accounts {
		rows = append(rows, []string{
			account.PhoneNumber,
			account.DisplayName,
			account.ServerURI,
			accountFingerprint(account),
			account.CreatedAt.Local().Format(time.DateTime),
		})
	}
	env.printer.Table([]string{"PHONE", "NAME", "SERVER", "FINGERPRINT", "CREATED"}, rows)
	return nil
}

// accountFingerprint returns the fingerprint of the account's public
// key, or a marker when the stored key does not decode.
func accountFingerprint(account store.Account) string {
	public, err := base64.StdEncoding.DecodeString(account.PublicKey)
	if err != nil {
		return "(invalid)"
	}
	key, err := keys.DecodePublic(public)
	if err != nil {
		return "(invalid)"
	}
	return key.Fingerprint.String()
}

func (env *environment) printAccount(title string, account store.Account) {
	env.printer.Card(title,
		cli.Field{Label: "Phone", Value: account.PhoneNumber},
		cli.Field{Label: "Name", Value: account.DisplayName},
		cli.Field{Label: "Server", Value: account.ServerURI},
		cli.Field{Label: "Fingerprint", Value: accountFingerprint(account)},
		cli.Field{Label: "Created", Value: account.CreatedAt.Local().Format(time.DateTime)},
	)
}

// findAccount returns the account for phone, or the only account when
// phone is empty.
func (env *environment) findAccount(ctx context.Context, phone string) (store.Account, error) {
	if phone != "" {
		return env.store.Account(ctx, phone)
	}
	accounts, err := env.store.Accounts(ctx)
	if err != nil {
		return store.Account{}, err
	}
	switch len(accounts) {
	case 0:
		return store.Account{}, fmt.Errorf("no accounts provisioned")
	case 1:
		return accounts[0], nil
	default:
		return store.Account{}, fmt.Errorf("%d accounts provisioned: pass --phone", len(accounts))
	}
}
