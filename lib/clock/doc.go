// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the passage of time so that retry backoff,
// join timeouts, send timeouts, and the echo match window can be
// driven deterministically in tests.
//
// Components hold a Clock field. Production wiring passes Real();
// tests pass a FakeClock and move time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
//	manager := livesync.NewManager(livesync.ManagerConfig{Clock: fake, ...})
//	fake.WaitForTimers(1)      // the backoff timer has been armed
//	fake.Advance(time.Second)  // fire it
//
// AfterFunc callbacks on a FakeClock run synchronously inside Advance,
// in deadline order, on the goroutine that called Advance. Callbacks
// may arm new timers; timers armed for a deadline at or before the
// advanced time fire within the same Advance call.
package clock
