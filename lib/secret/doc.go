// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds bearer tokens in memory that the garbage
// collector never sees: an anonymous mmap region, locked against swap
// and excluded from core dumps, zeroed on Close.
//
// Helpdesk access tokens are issued by the external auth service and
// must never reach a persisted or cacheable location. A [Buffer] is the
// only place a token lives inside deskline; it is converted to a string
// only at the moment it is written into a handshake frame or an
// Authorization header.
package secret
