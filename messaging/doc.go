// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging holds the helpdesk conversation types shared by the
// real-time layer and its collaborators, and the REST client for
// message history.
//
// [Message] is one entry in a ticket's communication log or a forum
// room. [Credential] is the session identity supplied by the external
// auth service; deskline only reads it. [CredentialStore] is the
// in-process form of that auth collaborator: it holds the current
// credential and notifies subscribers when it changes or is cleared.
//
// [Client] fetches message history:
//
//	GET /api/tickets/{id}/messages
//	GET /api/forum/rooms/{id}/messages
//
// with optional before (message id cursor) and limit query
// parameters. Non-2xx responses are returned as [*APIError];
// [IsAPIError] tests for a specific error code. Request URLs are built
// by concatenation: ref.RoomID only admits path-safe characters.
package messaging
