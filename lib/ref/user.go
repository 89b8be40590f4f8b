// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID identifies a helpdesk account (user, agent, or admin).
// The zero value is not valid; use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates a raw account id.
func ParseUserID(raw string) (UserID, error) {
	if err := validateID("user id", raw); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is ParseUserID for constants and tests.
func MustParseUserID(raw string) UserID {
	user, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return user
}

func (u UserID) String() string { return u.id }

// IsZero reports whether u is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// decodes to the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
