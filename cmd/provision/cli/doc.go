// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the provision
// binary: a tree of [Command] values with pflag flag sets, typo
// suggestions for unknown commands and flags, [ExitError] for handled
// failures, a terminal-aware logger and interactive prompts.
package cli
