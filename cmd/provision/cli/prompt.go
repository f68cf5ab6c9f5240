// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/bureau-foundation/provision/lib/secret"
)

// Prompter asks the user for passphrases and confirmations.
type Prompter interface {
	// Passphrase returns a passphrase; the caller closes the buffer.
	Passphrase(label string) (*secret.Buffer, error)
	// Confirm asks a yes/no question.
	Confirm(question string) (bool, error)
}

// TerminalPrompter prompts on a terminal. PassphraseFile, when set,
// replaces the passphrase prompt ("-" reads the first line of stdin).
type TerminalPrompter struct {
	In             *os.File
	Out            io.Writer
	PassphraseFile string
}

// NewTerminalPrompter prompts on stdin and stderr.
func NewTerminalPrompter(passphraseFile string) *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr, PassphraseFile: passphraseFile}
}

func (p *TerminalPrompter) Passphrase(label string) (*secret.Buffer, error) {
	if p.PassphraseFile != "" {
		return secret.ReadFromPath(p.PassphraseFile)
	}
	return secret.ReadPassphrase(p.In, p.Out, label)
}

func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	if !term.IsTerminal(int(p.In.Fd())) {
		return false, fmt.Errorf("cannot ask %q: stdin is not a terminal", question)
	}
	fmt.Fprintf(p.Out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	return ParseYes(line), nil
}

// ParseYes reports whether answer is an affirmative reply.
func ParseYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
