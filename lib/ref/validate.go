// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// maxIDLength bounds local identifiers. Backend ids are UUIDs or short
// numeric ticket numbers; anything longer is a client bug.
const maxIDLength = 128

// allowedIDChars is the set of characters permitted in local ids.
var allowedIDChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		allowedIDChars[c] = true
	}
	for c := byte('A'); c <= 'Z'; c++ {
		allowedIDChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		allowedIDChars[c] = true
	}
	allowedIDChars['.'] = true
	allowedIDChars['_'] = true
	allowedIDChars['-'] = true
}

// validateID checks a local identifier: non-empty, bounded, and made of
// URL-path-safe characters so it can be concatenated into request paths
// without escaping.
func validateID(label, id string) error {
	if id == "" {
		return fmt.Errorf("empty %s", label)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s too long (%d > %d)", label, len(id), maxIDLength)
	}
	for index := 0; index < len(id); index++ {
		if !allowedIDChars[id[index]] {
			return fmt.Errorf("%s %q contains invalid character %q at position %d", label, id, id[index], index)
		}
	}
	return nil
}
