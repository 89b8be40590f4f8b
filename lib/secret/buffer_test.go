// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromBytesZeroesSource(t *testing.T) {
	source := []byte("tok-abc123")
	buffer, err := FromBytes(source)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	defer buffer.Close()

	for index, value := range source {
		if value != 0 {
			t.Fatalf("source[%d] = %q, want zero", index, value)
		}
	}
	got, err := buffer.String()
	if err != nil {
		t.Fatal(err)
	}
	if got != "tok-abc123" {
		t.Errorf("String() = %q", got)
	}
	if buffer.Len() != len("tok-abc123") {
		t.Errorf("Len() = %d", buffer.Len())
	}
}

func TestFromBytesRejectsEmpty(t *testing.T) {
	if _, err := FromBytes(nil); err == nil {
		t.Fatal("FromBytes(nil) succeeded")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	buffer, err := FromString("tok")
	if err != nil {
		t.Fatal(err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := buffer.String(); !errors.Is(err, ErrClosed) {
		t.Errorf("String after Close error = %v, want ErrClosed", err)
	}
	if buffer.Usable() {
		t.Error("closed buffer reports Usable")
	}
	if buffer.Equal([]byte("tok")) {
		t.Error("closed buffer compares equal")
	}
}

func TestUsableNil(t *testing.T) {
	var buffer *Buffer
	if buffer.Usable() {
		t.Fatal("nil buffer reports Usable")
	}
}

func TestEqual(t *testing.T) {
	buffer, err := FromString("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	defer buffer.Close()
	if !buffer.Equal([]byte("s3cret")) {
		t.Error("Equal rejected the secret")
	}
	if buffer.Equal([]byte("s3cre")) {
		t.Error("Equal accepted a prefix")
	}
}

func TestFromReaderTrims(t *testing.T) {
	buffer, err := FromReader(strings.NewReader("\n  tok-xyz \n"))
	if err != nil {
		t.Fatal(err)
	}
	defer buffer.Close()
	if got, _ := buffer.String(); got != "tok-xyz" {
		t.Errorf("String() = %q", got)
	}

	if _, err := FromReader(strings.NewReader(" \n\t")); err == nil {
		t.Error("FromReader accepted whitespace-only input")
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("tok-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	buffer, err := FromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer buffer.Close()
	if got, _ := buffer.String(); got != "tok-file" {
		t.Errorf("String() = %q", got)
	}

	if _, err := FromFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("FromFile succeeded on a missing file")
	}
}
