// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ReadFromPath reads a passphrase from a file, or from the first line
// of stdin when path is "-". Surrounding whitespace is trimmed and an
// empty result is an error.
func ReadFromPath(path string) (*Buffer, error) {
	var data []byte
	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("secret: reading stdin: %w", err)
			}
			return nil, fmt.Errorf("secret: stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("secret: %w", err)
		}
	}
	return fromTrimmed(data)
}

// ReadPassphrase prompts on prompt and reads a line from terminal
// without echo. It fails if terminal is not a TTY; scripted callers
// use ReadFromPath instead.
func ReadPassphrase(terminal *os.File, prompt io.Writer, label string) (*Buffer, error) {
	fd := int(terminal.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("secret: %s is not a terminal", terminal.Name())
	}
	fmt.Fprintf(prompt, "%s: ", label)
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return nil, fmt.Errorf("secret: reading passphrase: %w", err)
	}
	return fromTrimmed(data)
}

func fromTrimmed(data []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret: value is empty")
	}
	// NewFromBytes zeroes trimmed; the whitespace around it is zeroed here.
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
