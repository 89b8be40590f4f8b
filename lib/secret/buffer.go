// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by accessors on a closed Buffer.
var ErrClosed = errors.New("secret: buffer is closed")

// Buffer is a fixed-size secret held outside the Go heap. A Buffer
// must not be copied. The zero value is not usable; construct with
// FromBytes or FromString.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	closed bool
}

// FromBytes copies source into a new protected region and zeroes
// source in place, so the caller's slice no longer holds the secret.
func FromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: empty source")
	}

	region, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}

	copy(region, source)
	Zero(source)
	return &Buffer{region: region}, nil
}

// FromString copies s into a new protected region. The string itself
// stays on the heap until collected; prefer FromBytes when the source
// is already a byte slice.
func FromString(s string) (*Buffer, error) {
	return FromBytes([]byte(s))
}

// Bytes returns the protected bytes. The slice aliases the mmap region
// and is invalid after Close.
func (b *Buffer) Bytes() ([]byte, error) {
	if b == nil {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.region, nil
}

// String returns a heap copy of the secret for use at an API boundary
// that requires a string.
func (b *Buffer) String() (string, error) {
	if b == nil {
		return "", ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	return string(b.region), nil
}

// Len returns the secret length, or 0 after Close or on a nil Buffer.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	return len(b.region)
}

// Usable reports whether b is non-nil, open, and non-empty.
func (b *Buffer) Usable() bool {
	return b.Len() > 0
}

// Equal compares the secret against candidate in constant time.
func (b *Buffer) Equal(candidate []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	return subtle.ConstantTimeCompare(b.region, candidate) == 1
}

// Close zeroes and releases the region. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.region)
	if err := unix.Munlock(b.region); err != nil {
		unix.Munmap(b.region)
		b.region = nil
		return fmt.Errorf("secret: munlock: %w", err)
	}
	err := unix.Munmap(b.region)
	b.region = nil
	if err != nil {
		return fmt.Errorf("secret: munmap: %w", err)
	}
	return nil
}

// Zero overwrites data with zeroes.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
