// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/keypack"
	"github.com/bureau-foundation/provision/keys"
	"github.com/bureau-foundation/provision/store"
)

func keypackCommand() *cli.Command {
	var (
		common commonFlags
		phone  string
		output string
		reseal bool
	)
	return &cli.Command{
		Name:    "keypack",
		Summary: "Work with key packages",
		Subcommands: []*cli.Command{
			{
				Name:    "export",
				Summary: "Export an account as a key package",
				Description: `Write an account's key, account details and trusted peers to a key
package that "provision import" accepts on another device.

The private key stays sealed with its current passphrase unless
--reseal is given, in which case a new passphrase is asked for.`,
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
					common.register(flagSet)
					flagSet.StringVar(&phone, "phone", "", "account to export (default: the only account)")
					flagSet.StringVarP(&output, "output", "o", "", "key package to create (required)")
					flagSet.BoolVar(&reseal, "reseal", false, "seal the exported key with a new passphrase")
					return flagSet
				},
				Run: func(args []string) error {
					if len(args) > 0 {
						return fmt.Errorf("unexpected argument %q", args[0])
					}
					if output == "" {
						return fmt.Errorf("--output is required")
					}
					env, err := openEnvironment(common)
					if err != nil {
						return err
					}
					defer env.Close()

					file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
					if err != nil {
						return err
					}
					if err := env.exportPack(context.Background(), file, phone, reseal); err != nil {
						file.Close()
						os.Remove(output)
						return err
					}
					if err := file.Close(); err != nil {
						return err
					}
					env.printer.Success("Wrote %s", output)
					return nil
				},
			},
		},
	}
}

// exportPack writes the account for phone as a key package to w.
func (env *environment) exportPack(ctx context.Context, w io.Writer, phone string, reseal bool) error {
	account, err := env.findAccount(ctx, phone)
	if err != nil {
		return err
	}
	private, public, err := decodeAccountKeys(account)
	if err != nil {
		return err
	}

	if reseal {
		key, err := keys.Decode(private, public, account.Passphrase)
		if err != nil {
			return fmt.Errorf("decoding stored key: %w", err)
		}
		passphrase, err := env.prompter.Passphrase("New passphrase")
		if err != nil {
			return err
		}
		defer passphrase.Close()
		private, public, err = key.Export(passphrase.String(), env.config.Keys.ScryptWorkFactor)
		if err != nil {
			return err
		}
	}

	trusted, err := env.store.TrustedKeys(ctx)
	if err != nil {
		return err
	}
	return keypack.Write(w, keypack.Contents{
		PrivateKey: private,
		PublicKey:  public,
		Account: keypack.AccountInfo{
			PhoneNumber: account.PhoneNumber,
			ServerURI:   account.ServerURI,
			DisplayName: account.DisplayName,
		},
		TrustedKeys: trusted,
	})
}

func decodeAccountKeys(account store.Account) (private, public []byte, err error) {
	private, privateErr := base64.StdEncoding.DecodeString(account.PrivateKey)
	public, publicErr := base64.StdEncoding.DecodeString(account.PublicKey)
	if err := errors.Join(privateErr, publicErr); err != nil {
		return nil, nil, fmt.Errorf("stored key for %s is corrupt: %w", account.PhoneNumber, err)
	}
	return private, public, nil
}
