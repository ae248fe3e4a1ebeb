// Copyright 2025 The go-lucid Authors
// This file is part of the go-lucid library.
//
// The go-lucid library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-lucid library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-lucid library. If not, see <http://www.gnu.org/licenses/>.

package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Lengths of hashes and addresses in bytes.
const (
	// HashLength is the expected length of a content or block hash.
	HashLength = 32
	// AddressLength is the expected length of a chain address.
	AddressLength = 20
)

// Hash represents the 32 byte BLAKE3 digest of arbitrary data: chunk
// contents, Merkle nodes, block hashes. The canonical textual form is 64
// lowercase hex characters without a 0x prefix.
type Hash [HashLength]byte

// BytesToHash sets b to hash. If b is larger than HashLength, b will be
// cropped from the left.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash sets byte representation of s to hash. s may carry a 0x prefix.
func HexToHash(s string) Hash { return BytesToHash(FromHex(s)) }

// Bytes gets the byte representation of the underlying hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex converts a hash to its canonical 64 character lowercase hex string.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// IsZero reports whether the hash is all zero bytes, the previous-hash value
// carried by the genesis block.
func (h Hash) IsZero() bool { return h == Hash{} }

// SetBytes sets the hash to the value of b. If b is larger than HashLength,
// b will be cropped from the left.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// MarshalText implements encoding.TextMarshaler. Hashes serialize without a
// 0x prefix in JSON documents and block files.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting both prefixed
// and unprefixed hex.
func (h *Hash) UnmarshalText(input []byte) error {
	s := string(input)
	if has0xPrefix(s) {
		s = s[2:]
	}
	if len(s) != 2*HashLength {
		return fmt.Errorf("invalid hash length: have %d, want %d hex chars", len(s), 2*HashLength)
	}
	if !isHex(s) {
		return fmt.Errorf("invalid hash: not a hex string")
	}
	copy(h[:], Hex2Bytes(s))
	return nil
}

// Address represents the 20 byte account address of the primary chain. The
// canonical textual form is 0x followed by 40 hex characters.
type Address [AddressLength]byte

// BytesToAddress returns Address with value b. If b is larger than
// AddressLength, b will be cropped from the left.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress returns Address with byte values of s. s may carry a 0x prefix.
func HexToAddress(s string) Address { return BytesToAddress(FromHex(s)) }

// IsHexAddress verifies whether a string can represent a valid hex-encoded
// address: exactly 0x followed by 40 hex characters.
func IsHexAddress(s string) bool {
	if !has0xPrefix(s) {
		return false
	}
	s = s[2:]
	return len(s) == 2*AddressLength && isHex(s)
}

// Bytes gets the byte representation of the underlying address.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the canonical 0x-prefixed lowercase hex representation.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is the all-zero account, used by the
// genesis transaction.
func (a Address) IsZero() bool { return a == Address{} }

// SetBytes sets the address to the value of b. If b is larger than
// AddressLength, b will be cropped from the left.
func (a *Address) SetBytes(b []byte) {
	if len(b) > len(a) {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The input must match the
// canonical 0x-prefixed form, case-insensitively.
func (a *Address) UnmarshalText(input []byte) error {
	s := string(input)
	if !IsHexAddress(s) {
		return fmt.Errorf("invalid address: %q", s)
	}
	copy(a[:], Hex2Bytes(strings.ToLower(s[2:])))
	return nil
}
