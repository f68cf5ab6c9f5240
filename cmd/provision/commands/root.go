// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the provision command tree.
package commands

import (
	"github.com/bureau-foundation/provision/cmd/provision/cli"
)

// Root returns the top-level command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "provision",
		Summary: "Provision a federation account on this device",
		Description: `Provision a federation account on this device.

An account is created in one of three ways: registering a phone number
with a server (which then verifies the number out of band), importing a
key package exported from another device, or retrieving a key another
device parked on the server. Configuration is read from --config or
PROVISION_CONFIG; without either, built-in defaults apply.`,
		Subcommands: []*cli.Command{
			registerCommand(),
			importCommand(),
			retrieveCommand(),
			keypackCommand(),
			accountsCommand(),
			serverCommand(),
			versionCommand(),
		},
	}
}
