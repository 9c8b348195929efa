// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"encoding/binary"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// uidAlphabet maps 6-bit groups of the 64-bit identifier onto printable characters
const uidAlphabet = "XalEVJWsU6DyFueK_890zhdPvxTHc.3gGMim7kQInqrfpoBNw1jYZS5t4LACRbO2"

// DeriveUserID is the default identifier derivation. Phone digits and the lowercased
// email are hashed together; the first 64 bits of the digest are rendered six bits
// at a time, least significant group first.
func DeriveUserID(phone, email string) string {
	var digits strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}

	h := blake3.New()
	_, _ = h.Write([]byte(digits.String()))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	sum := h.Sum(nil)

	return encodeUID(binary.BigEndian.Uint64(sum[:8]))
}

func encodeUID(n uint64) string {
	var out [11]byte
	for i := range out {
		out[i] = uidAlphabet[n&0x3F]
		n >>= 6
	}
	return string(out[:])
}
