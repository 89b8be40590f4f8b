// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"fmt"
	"sync"

	"github.com/deskline/deskline/lib/ref"
	"github.com/deskline/deskline/lib/secret"
)

// Role is the helpdesk role of the authenticated user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleUser, RoleAgent, RoleAdmin:
		return Role(raw), nil
	}
	return "", fmt.Errorf("messaging: unknown role %q", raw)
}

// Credential is the session identity supplied by the auth service.
// Token is owned by whoever set the credential; consumers read it and
// never close it.
type Credential struct {
	UserID      ref.UserID
	DisplayName string
	Role        Role
	Token       *secret.Buffer
}

// Usable reports whether the credential can open a session: it must
// name a user and carry an open, non-empty token.
func (c *Credential) Usable() bool {
	return c != nil && !c.UserID.IsZero() && c.Token.Usable()
}

// SameIdentity reports whether c and other authenticate the same user.
// A refreshed token for the same user is the same identity.
func (c *Credential) SameIdentity(other *Credential) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.UserID == other.UserID
}

// CredentialStore holds the current credential and notifies
// subscribers when it is replaced or cleared. Subscribers are called
// synchronously, in registration order, outside the store's lock.
type CredentialStore struct {
	mu          sync.Mutex
	current     *Credential
	subscribers map[int]func(*Credential)
	order       []int
	nextID      int
}

// NewCredentialStore returns an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{subscribers: make(map[int]func(*Credential))}
}

// Current returns the current credential, or nil.
func (s *CredentialStore) Current() *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the current credential and notifies subscribers.
func (s *CredentialStore) Set(credential *Credential) {
	s.mu.Lock()
	s.current = credential
	callbacks := s.snapshotLocked()
	s.mu.Unlock()

	for _, callback := range callbacks {
		callback(credential)
	}
}

// Clear removes the current credential (logout or expiry) and
// notifies subscribers with nil.
func (s *CredentialStore) Clear() {
	s.Set(nil)
}

// Subscribe registers callback for credential changes. The returned
// function removes the subscription; calling it twice is harmless.
func (s *CredentialStore) Subscribe(callback func(*Credential)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = callback
	s.order = append(s.order, id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[id]; !ok {
			return
		}
		delete(s.subscribers, id)
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *CredentialStore) snapshotLocked() []func(*Credential) {
	callbacks := make([]func(*Credential), 0, len(s.order))
	for _, id := range s.order {
		callbacks = append(callbacks, s.subscribers[id])
	}
	return callbacks
}
