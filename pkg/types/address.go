// Package types defines the value types shared across the transport core:
// peer identity, the wire envelope, and the outbound request model.
//
// This is the lowest-level package in the module — it must not import any
// other internal package.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// AddressSize is the length in bytes of a derived peer address and the
// Kademlia routing key.
const AddressSize = 20

// ErrInvalidAddress is returned when parsing a malformed address string.
var ErrInvalidAddress = errors.New("types: invalid address")

// Address is the 20-byte routing key derived from a peer's public key.
type Address [AddressSize]byte

// ZeroAddress is the empty address, never a valid peer address.
var ZeroAddress Address

// AddressFromPublicKey derives the routing address from raw compressed
// public key bytes: the low 20 bytes of SHA-256(pubkey).
func AddressFromPublicKey(pub []byte) Address {
	sum := sha256.Sum256(pub)
	var addr Address
	copy(addr[:], sum[len(sum)-AddressSize:])
	return addr
}

// String returns the canonical hex representation of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ShortString returns the first 8 hex characters, for log lines.
func (a Address) ShortString() string {
	s := a.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Bytes returns a's bytes as a slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// ParseAddress decodes a hex-encoded address string.
func ParseAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != AddressSize {
		return ZeroAddress, ErrInvalidAddress
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// XORDistance returns the bitwise XOR of two equal-length byte strings,
// used by the Kademlia routing table to rank peers by distance.
func XORDistance(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// LeadingZeroBits returns the number of leading zero bits in distance,
// i.e. (len(distance)*8 - bitLength(distance)). Kademlia bucket indices
// are commonly computed from this.
func LeadingZeroBits(distance []byte) int {
	for i, b := range distance {
		if b != 0 {
			for j := 7; j >= 0; j-- {
				if (b>>uint(j))&1 == 1 {
					return i*8 + (7 - j)
				}
			}
		}
	}
	return len(distance) * 8
}
