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
	"encoding/binary"
	"math"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/params"
)

// Contract functions of the payout router contracts and of TRC-20 USDT.
// The router dispatches one disburse call per batch; the USDT transfer is
// what the router performs internally per recipient.
const (
	transferSig         = "transfer(address,uint256)"
	disburseSig         = "disburse(address[],uint256[])"
	disburseVerifiedSig = "disburseVerified(address[],uint256[],bytes32[])"
)

var usdtScale = math.Pow10(params.USDTDecimals)

// UnitsFromUSDT converts a decimal USDT amount into 6-decimal TRC-20 units.
// Amounts outside the routable bounds or carrying sub-unit precision are
// rejected.
func UnitsFromUSDT(amount float64) (uint64, error) {
	if amount < params.MinPayoutUSDT || amount > params.MaxPayoutUSDT {
		return 0, lucerr.Newf(lucerr.Validation, "amount %.6f USDT outside [%.1f, %.1f]", amount, params.MinPayoutUSDT, params.MaxPayoutUSDT)
	}
	scaled := amount * usdtScale
	units := math.Round(scaled)
	if math.Abs(scaled-units) > 1e-3 {
		return 0, lucerr.Newf(lucerr.Validation, "amount %v USDT has more than %d decimal places", amount, params.USDTDecimals)
	}
	return uint64(units), nil
}

// USDTFromUnits converts 6-decimal TRC-20 units back to a decimal amount.
func USDTFromUnits(units uint64) float64 {
	return float64(units) / usdtScale
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func packWord(buf []byte, word [32]byte) []byte {
	return append(buf, word[:]...)
}

func packUint64(buf []byte, v uint64) []byte {
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], v)
	return append(buf, word[:]...)
}

func packAddressSlice(buf []byte, addrs []Address) []byte {
	buf = packUint64(buf, uint64(len(addrs)))
	for _, a := range addrs {
		buf = packWord(buf, a.EVMWord())
	}
	return buf
}

func packUintSlice(buf []byte, vs []uint64) []byte {
	buf = packUint64(buf, uint64(len(vs)))
	for _, v := range vs {
		buf = packUint64(buf, v)
	}
	return buf
}

func packHashSlice(buf []byte, hs []common.Hash) []byte {
	buf = packUint64(buf, uint64(len(hs)))
	for _, h := range hs {
		buf = packWord(buf, h)
	}
	return buf
}

// transferData builds the calldata of a single TRC-20 transfer.
func transferData(to Address, units uint64) []byte {
	data := make([]byte, 0, 4+2*32)
	data = append(data, selector(transferSig)...)
	data = packWord(data, to.EVMWord())
	data = packUint64(data, units)
	return data
}

// disburseData builds the calldata of a PayoutRouterV0 batch: two dynamic
// arrays, recipients and their unit amounts, in matching order. Offsets are
// measured from the start of the argument block.
func disburseData(recipients []Address, units []uint64) []byte {
	n := uint64(len(recipients))
	offRecipients := uint64(2 * 32)
	offUnits := offRecipients + (1+n)*32

	data := make([]byte, 0, 4+(4+2*len(recipients))*32)
	data = append(data, selector(disburseSig)...)
	data = packUint64(data, offRecipients)
	data = packUint64(data, offUnits)
	data = packAddressSlice(data, recipients)
	data = packUintSlice(data, units)
	return data
}

// disburseVerifiedData builds the calldata of a PayoutRouterKYC batch. Each
// recipient travels with the BLAKE3 word of its stored KYC hash, keeping the
// third array fixed-width regardless of the hash form the compliance desk
// recorded.
func disburseVerifiedData(recipients []Address, units []uint64, kycHashes []string) []byte {
	n := uint64(len(recipients))
	words := make([]common.Hash, len(kycHashes))
	for i, kh := range kycHashes {
		words[i] = crypto.Blake3Hash([]byte(kh))
	}
	offRecipients := uint64(3 * 32)
	offUnits := offRecipients + (1+n)*32
	offWords := offUnits + (1+n)*32

	data := make([]byte, 0, 4+(6+3*len(recipients))*32)
	data = append(data, selector(disburseVerifiedSig)...)
	data = packUint64(data, offRecipients)
	data = packUint64(data, offUnits)
	data = packUint64(data, offWords)
	data = packAddressSlice(data, recipients)
	data = packUintSlice(data, units)
	data = packHashSlice(data, words)
	return data
}
