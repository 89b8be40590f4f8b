// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package devserver is an in-memory helpdesk relay for development and
// end-to-end tests. It speaks the server side of the real-time
// protocol on /ws and serves the REST history endpoints:
//
//	GET /api/tickets/{id}/messages
//	GET /api/forum/rooms/{id}/messages
//
// Accounts are a fixed token table, rooms live in memory, and message
// ids are assigned as m1, m2, ... in arrival order. Nothing is
// persisted.
package devserver
