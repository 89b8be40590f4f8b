// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit statuses.
const (
	StatusError = 1
	StatusUsage = 2
)

// usageError marks a command-line mistake.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

// Usage marks err as a command-line mistake. Usage(nil) is nil.
func Usage(err error) error {
	if err == nil {
		return nil
	}
	return usageError{err: err}
}

// Usagef is Usage(fmt.Errorf(format, args...)).
func Usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// Status returns the exit status for err: 0 for nil, StatusUsage for
// errors marked by Usage, StatusError otherwise.
func Status(err error) int {
	if err == nil {
		return 0
	}
	var usage usageError
	if errors.As(err, &usage) {
		return StatusUsage
	}
	return StatusError
}

// Fatal writes "error: err" to stderr and exits with Status(err).
func Fatal(err error) {
	report(os.Stderr, err)
	os.Exit(Status(err))
}

func report(writer io.Writer, err error) {
	fmt.Fprintf(writer, "error: %v\n", err)
}
