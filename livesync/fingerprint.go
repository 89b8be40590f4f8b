// Copyright 2026 The Deskline Authors
// SPDX-License-Identifier: Apache-2.0

package livesync

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/deskline/deskline/lib/ref"
)

// fingerprintKey domain-separates send fingerprints from any other
// BLAKE3 use. Exactly 32 bytes.
var fingerprintKey = [32]byte([]byte("deskline.livesync.fingerprint.v1"))

// fingerprint identifies a (room, sender, content) triple, the key an
// unconfirmed send is matched on when its echo carries no local id.
type fingerprint [32]byte

func contentFingerprint(room ref.RoomID, sender ref.UserID, content string) fingerprint {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("livesync: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	writeField(hasher, room.String())
	writeField(hasher, sender.String())
	writeField(hasher, content)
	var sum fingerprint
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// writeField length-prefixes value so no two field splits hash alike.
func writeField(hasher *blake3.Hasher, value string) {
	var length [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(length[:], uint64(len(value)))
	hasher.Write(length[:n])
	hasher.Write([]byte(value))
}
