// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the test helpers shared by deskline packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so individual tests never call time.After themselves; the
// timeout is a hang guard, not a synchronization mechanism. Tests that
// exercise timing use lib/clock.FakeClock instead. [Eventually] polls a
// condition for end-to-end tests that cross real goroutines and
// sockets.
//
// Helpers fail the test with Fatalf rather than returning errors.
package testutil
