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

package tron

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-rdp/go-lucid/lucerr"
)

// testKey builds a deterministic private key from a repeated byte.
func testKey(t *testing.T, b byte) *btcec.PrivateKey {
	t.Helper()
	key, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{b}, 32))
	require.False(t, key.Key.IsZero())
	return key
}

// testAddr derives a deterministic valid address from a repeated key byte.
func testAddr(t *testing.T, b byte) Address {
	t.Helper()
	return AddressFromKey(testKey(t, b))
}

func TestParseAddressAcceptsMainnetUSDT(t *testing.T) {
	a, err := ParseAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	require.NoError(t, err)
	assert.Equal(t, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", a.String())
}

func TestAddressFromKeyRoundTrips(t *testing.T) {
	a := testAddr(t, 0x11)

	assert.Len(t, string(a), 34)
	assert.True(t, strings.HasPrefix(string(a), "T"))

	parsed, err := ParseAddress(string(a))
	require.NoError(t, err, "derived addresses must parse back")
	assert.Equal(t, a, parsed)

	payload := a.Payload()
	require.Len(t, payload, 21)
	assert.Equal(t, byte(0x41), payload[0])

	// Distinct keys yield distinct addresses.
	assert.NotEqual(t, a, testAddr(t, 0x22))
}

func TestAddressEVMWordLayout(t *testing.T) {
	a := testAddr(t, 0x33)
	word := a.EVMWord()

	assert.Equal(t, make([]byte, 12), word[:12], "account bytes are left-padded")
	assert.Equal(t, a.Payload()[1:], word[12:], "the version byte does not travel in calldata")
}

func TestParseAddressRejectsMalformed(t *testing.T) {
	valid := "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
	corrupted := valid[:17] + "x" + valid[18:]
	if corrupted == valid {
		corrupted = valid[:17] + "y" + valid[18:]
	}

	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"too short", "TR7NHqjeKQxGTCi8q8"},
		{"too long", valid + "t"},
		{"wrong prefix", "X" + valid[1:]},
		{"hex address", "0x71c7656ec7ab88b098defb751b7401b5f6d8976f"},
		{"non base58 characters", "T" + strings.Repeat("0", 33)},
		{"corrupted checksum", corrupted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAddress(tc.in)
			require.Error(t, err)
			assert.True(t, lucerr.Is(err, lucerr.Validation))
		})
	}
}
