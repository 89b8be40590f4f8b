// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxTokenFileSize bounds token files. Bearer tokens are a few
// kilobytes at most.
const maxTokenFileSize = 64 << 10

// FromReader reads a secret from r, trimming surrounding whitespace.
// Every intermediate copy is zeroed.
func FromReader(r io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxTokenFileSize))
	if err != nil {
		Zero(data)
		return nil, fmt.Errorf("secret: reading: %w", err)
	}
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: source is empty")
	}
	return FromBytes(trimmed)
}

// FromFile reads a secret from path, or from stdin when path is "-".
func FromFile(path string) (*Buffer, error) {
	if path == "-" {
		return FromReader(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	defer file.Close()
	return FromReader(file)
}
