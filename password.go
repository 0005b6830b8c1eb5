// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package sevenzip

import (
	"crypto/sha256"
	"encoding/binary"
)

// maxNumCyclesPower is the largest NumCyclesPower this module will derive a
// key for; the format bounds it to [0, 24].
const maxNumCyclesPower = 24

// deriveAESKey implements the 7z AES-256 key-derivation scheme: the salt
// is hashed once, then (8-byte little-endian round counter ‖ password) is
// hashed 2^numCyclesPower times; the final SHA-256 digest is the 32-byte
// key.
func deriveAESKey(password, salt []byte, numCyclesPower int) []byte {
	h := sha256.New()
	h.Write(salt)

	rounds := uint64(1) << uint(numCyclesPower)
	var counter [8]byte
	for i := uint64(0); i < rounds; i++ {
		binary.LittleEndian.PutUint64(counter[:], i)
		h.Write(counter[:])
		h.Write(password)
	}
	return h.Sum(nil)
}
