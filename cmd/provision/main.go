// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command provision registers a phone number with a federation server,
// or brings an existing personal key onto this device, and records the
// resulting account.
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/provision/cmd/provision/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that already reported the failure return an error
		// carrying only an exit code.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
