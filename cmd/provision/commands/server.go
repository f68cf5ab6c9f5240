// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/server"
)

// serverCommand manages the stored server override that key retrieval
// prefers over the configured servers. Creating an account from a
// retrieved key clears it.
func serverCommand() *cli.Command {
	var common commonFlags
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
		common.register(flagSet)
		return flagSet
	}
	withEnvironment := func(run func(ctx context.Context, env *environment) error) error {
		env, err := openEnvironment(common)
		if err != nil {
			return err
		}
		defer env.Close()
		return run(context.Background(), env)
	}

	return &cli.Command{
		Name:    "server",
		Summary: "Manage the server override",
		Subcommands: []*cli.Command{
			{
				Name:    "show",
				Summary: "Show the server override",
				Flags:   flags,
				Run: func([]string) error {
					return withEnvironment(func(ctx context.Context, env *environment) error {
						srv, ok, err := env.store.ServerOverride(ctx)
						if err != nil {
							return err
						}
						if !ok {
							env.printer.Notice("No server override set.")
							return nil
						}
						fmt.Println(srv.String())
						return nil
					})
				},
			},
			{
				Name:    "set",
				Summary: "Set the server override",
				Usage:   "provision server set [flags] <network|host:port>",
				Flags:   flags,
				Run: func(args []string) error {
					if len(args) != 1 {
						return fmt.Errorf("expected exactly one server")
					}
					srv, err := server.Parse(args[0])
					if err != nil {
						return err
					}
					return withEnvironment(func(ctx context.Context, env *environment) error {
						if err := env.store.SetServerOverride(ctx, srv); err != nil {
							return err
						}
						env.printer.Success("Server override set to %s", srv)
						return nil
					})
				},
			},
			{
				Name:    "clear",
				Summary: "Remove the server override",
				Flags:   flags,
				Run: func([]string) error {
					return withEnvironment(func(ctx context.Context, env *environment) error {
						return env.store.ClearServerOverride(ctx)
					})
				},
			},
		},
	}
}
