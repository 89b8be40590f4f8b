// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/deskline/deskline/lib/secret"
)

// readToken loads the access token from path ("-" for stdin), or
// prompts for it on the terminal when path is empty.
func readToken(path string) (*secret.Buffer, error) {
	if path != "" {
		token, err := secret.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading token: %w", err)
		}
		return token, nil
	}

	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return nil, fmt.Errorf("no --token-file given and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Access token: ")
	raw, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	defer secret.Zero(raw)
	token, err := secret.FromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	return token, nil
}
