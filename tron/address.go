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

// Package tron executes USDT-TRC20 payouts on the payment chain. It is
// isolated from consensus and the primary chain: nothing here imports the
// consensus engine, the block manager, the anchor service or the
// primary-chain client, and nothing there imports this package. The only
// shared dependency is the document store.
package tron

import (
	"bytes"
	"crypto/sha256"
	"regexp"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"

	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
)

// addressPrefix is the TRON mainnet payload version byte. Base58check over
// a 21-byte payload starting with it always yields a 34-character string
// starting with T.
const addressPrefix = 0x41

var addressPattern = regexp.MustCompile(`^T[A-Za-z0-9]{33}$`)

// Address is a base58check TRON account or contract address. The zero value
// is invalid; construct through ParseAddress or AddressFromKey.
type Address string

// ParseAddress validates s as a TRON address: shape, base58check checksum
// and payload version byte.
func ParseAddress(s string) (Address, error) {
	if !addressPattern.MatchString(s) {
		return "", lucerr.Newf(lucerr.Validation, "address %q does not match the TRON address shape", s)
	}
	if _, err := decodeBase58Check(s); err != nil {
		return "", err
	}
	return Address(s), nil
}

// AddressFromKey derives the address controlled by a secp256k1 private key:
// base58check over 0x41 followed by the last 20 bytes of the Keccak-256 of
// the uncompressed public key.
func AddressFromKey(key *btcec.PrivateKey) Address {
	pub := key.PubKey().SerializeUncompressed()
	digest := crypto.Keccak256(pub[1:])
	payload := make([]byte, 21)
	payload[0] = addressPrefix
	copy(payload[1:], digest[12:])
	return Address(encodeBase58Check(payload))
}

// String returns the base58check form.
func (a Address) String() string { return string(a) }

// Payload returns the decoded 21-byte payload including the version byte.
// It panics on an address that did not come from ParseAddress or
// AddressFromKey.
func (a Address) Payload() []byte {
	payload, err := decodeBase58Check(string(a))
	if err != nil {
		panic("tron: malformed address " + string(a))
	}
	return payload
}

// EVMWord returns the address as a 32-byte ABI word: the 20 account bytes
// left-padded with zeroes. The version byte does not travel in calldata.
func (a Address) EVMWord() [32]byte {
	var word [32]byte
	copy(word[12:], a.Payload()[1:])
	return word
}

func encodeBase58Check(payload []byte) string {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return base58.Encode(append(payload, second[:4]...))
}

func decodeBase58Check(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, lucerr.Newf(lucerr.Validation, "address %q is not base58: %v", s, err)
	}
	if len(raw) != 25 {
		return nil, lucerr.Newf(lucerr.Validation, "address %q decodes to %d bytes, want 25", s, len(raw))
	}
	payload, check := raw[:21], raw[21:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	if !bytes.Equal(check, second[:4]) {
		return nil, lucerr.Newf(lucerr.Validation, "address %q fails its checksum", s)
	}
	if payload[0] != addressPrefix {
		return nil, lucerr.Newf(lucerr.Validation, "address %q carries version byte %#x, want %#x", s, payload[0], addressPrefix)
	}
	return payload, nil
}
