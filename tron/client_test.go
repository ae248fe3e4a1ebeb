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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-rdp/go-lucid/lucerr"
)

// fakeNode fakes the slice of the fullnode wallet API the client speaks.
type fakeNode struct {
	mu sync.Mutex

	raw        []byte // transaction raw data served on triggers
	forgedTxID string // when set, served instead of the id the raw data hashes to
	refuseCode string // when set, the trigger call is refused
	refuseMsg  string
	rejectCode string // when set, the broadcast is rejected
	info       map[string]interface{}
	resources  AccountResources

	lastTrigger map[string]interface{}
	broadcasts  []map[string]interface{}
}

func newFakeNode(t *testing.T) (*fakeNode, string) {
	t.Helper()
	n := &fakeNode{
		raw:  []byte("raw-transaction-1"),
		info: map[string]interface{}{},
	}
	srv := httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(srv.Close)
	return n, srv.URL
}

// txID returns the id the served raw data hashes to.
func (n *fakeNode) txID() string {
	digest := sha256.Sum256(n.raw)
	return hex.EncodeToString(digest[:])
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	enc := json.NewEncoder(w)
	switch r.URL.Path {
	case "/wallet/triggersmartcontract":
		n.lastTrigger = body
		if n.refuseCode != "" {
			_ = enc.Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"result":  false,
					"code":    n.refuseCode,
					"message": hex.EncodeToString([]byte(n.refuseMsg)),
				},
			})
			return
		}
		txid := n.txID()
		if n.forgedTxID != "" {
			txid = n.forgedTxID
		}
		_ = enc.Encode(map[string]interface{}{
			"result": map[string]interface{}{"result": true},
			"transaction": map[string]interface{}{
				"txID":         txid,
				"raw_data_hex": hex.EncodeToString(n.raw),
			},
		})
	case "/wallet/broadcasttransaction":
		n.broadcasts = append(n.broadcasts, body)
		if n.rejectCode != "" {
			_ = enc.Encode(map[string]interface{}{
				"result":  false,
				"code":    n.rejectCode,
				"message": hex.EncodeToString([]byte("declined by node")),
			})
			return
		}
		_ = enc.Encode(map[string]interface{}{"result": true})
	case "/wallet/gettransactioninfobyid":
		_ = enc.Encode(n.info)
	case "/wallet/getaccountresource":
		_ = enc.Encode(n.resources)
	default:
		http.NotFound(w, r)
	}
}

func (n *fakeNode) broadcastCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.broadcasts)
}

func (n *fakeNode) lastBroadcast() map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.broadcasts) == 0 {
		return nil
	}
	return n.broadcasts[len(n.broadcasts)-1]
}

func (n *fakeNode) trigger() map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastTrigger
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Network:    Nile,
		PrivateKey: strings.Repeat("11", 32),
		Endpoint:   endpoint,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesConfig(t *testing.T) {
	valid := ClientConfig{Network: Mainnet, PrivateKey: strings.Repeat("11", 32)}

	c, err := NewClient(valid)
	require.NoError(t, err)
	assert.Equal(t, AddressFromKey(testKey(t, 0x11)), c.Owner(), "owner derives from the private key")

	cases := []struct {
		name   string
		mutate func(cfg *ClientConfig)
	}{
		{"unknown network", func(cfg *ClientConfig) { cfg.Network = "ropsten" }},
		{"short key", func(cfg *ClientConfig) { cfg.PrivateKey = "deadbeef" }},
		{"non-hex key", func(cfg *ClientConfig) { cfg.PrivateKey = strings.Repeat("zz", 32) }},
		{"zero key", func(cfg *ClientConfig) { cfg.PrivateKey = strings.Repeat("00", 32) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			_, err := NewClient(cfg)
			require.Error(t, err)
			assert.True(t, lucerr.Is(err, lucerr.Validation))
		})
	}
}

func TestTriggerContractSignsAndBroadcasts(t *testing.T) {
	node, url := newFakeNode(t)
	client := newTestClient(t, url)
	contract := testAddr(t, 0xAA)

	txid, err := client.TriggerContract(context.Background(), contract, transferData(testAddr(t, 0xBB), 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, node.txID(), txid, "the id is recomputed from the raw data")

	trigger := node.trigger()
	require.NotNil(t, trigger)
	assert.Equal(t, hex.EncodeToString(contract.Payload()), trigger["contract_address"])
	assert.Equal(t, hex.EncodeToString(client.Owner().Payload()), trigger["owner_address"])

	require.Equal(t, 1, node.broadcastCount())
	sent := node.lastBroadcast()
	assert.Equal(t, txid, sent["txID"])

	sigs, ok := sent["signature"].([]interface{})
	require.True(t, ok, "broadcast carries the signature list")
	require.Len(t, sigs, 1)
	sig, err := hex.DecodeString(sigs[0].(string))
	require.NoError(t, err)
	assert.Len(t, sig, 65, "signature is r||s||v")
	assert.LessOrEqual(t, sig[64], byte(1), "recovery byte is normalized")
}

func TestTriggerContractNodeRefusal(t *testing.T) {
	node, url := newFakeNode(t)
	node.refuseCode = "CONTRACT_VALIDATE_ERROR"
	node.refuseMsg = "balance is not sufficient"
	client := newTestClient(t, url)

	_, err := client.TriggerContract(context.Background(), testAddr(t, 0xAA), []byte{0x01})
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.Validation))
	assert.Contains(t, err.Error(), "balance is not sufficient", "hex messages are decoded for the log line")
	assert.Zero(t, node.broadcastCount(), "a refused call is never signed or broadcast")
}

func TestTriggerContractDetectsForgedTransactionID(t *testing.T) {
	node, url := newFakeNode(t)
	node.forgedTxID = strings.Repeat("ab", 32)
	client := newTestClient(t, url)

	_, err := client.TriggerContract(context.Background(), testAddr(t, 0xAA), []byte{0x01})
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.Integrity))
	assert.Zero(t, node.broadcastCount(), "a forged id must not reach the chain")
}

func TestTriggerContractBroadcastRejected(t *testing.T) {
	node, url := newFakeNode(t)
	node.rejectCode = "SIGERROR"
	client := newTestClient(t, url)

	_, err := client.TriggerContract(context.Background(), testAddr(t, 0xAA), []byte{0x01})
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.Validation))
	assert.Contains(t, err.Error(), "SIGERROR")
}

func TestTransferUSDTTargetsConfiguredContract(t *testing.T) {
	node, url := newFakeNode(t)
	usdt := testAddr(t, 0xCC)
	client, err := NewClient(ClientConfig{
		Network:      Nile,
		PrivateKey:   strings.Repeat("11", 32),
		Endpoint:     url,
		USDTContract: usdt,
	})
	require.NoError(t, err)

	_, err = client.TransferUSDT(context.Background(), testAddr(t, 0xBB), 2_000_000)
	require.NoError(t, err)

	trigger := node.trigger()
	assert.Equal(t, hex.EncodeToString(usdt.Payload()), trigger["contract_address"])
	data, err := hex.DecodeString(trigger["data"].(string))
	require.NoError(t, err)
	assert.Equal(t, selector(transferSig), data[:4])
}

func TestTransactionStatusMapping(t *testing.T) {
	node, url := newFakeNode(t)
	client := newTestClient(t, url)
	txid := node.txID()

	cases := []struct {
		name string
		info map[string]interface{}
		want PaymentStatus
	}{
		{"not indexed yet", map[string]interface{}{}, PaymentPending},
		{"execution failed", map[string]interface{}{"id": txid, "result": "FAILED"}, PaymentFailed},
		{"receipt success", map[string]interface{}{
			"id": txid, "blockNumber": 123,
			"receipt": map[string]interface{}{"result": "SUCCESS"},
		}, PaymentConfirmed},
		{"plain transfer without receipt result", map[string]interface{}{"id": txid, "blockNumber": 124}, PaymentConfirmed},
		{"receipt out of energy", map[string]interface{}{
			"id":      txid,
			"receipt": map[string]interface{}{"result": "OUT_OF_ENERGY"},
		}, PaymentFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node.mu.Lock()
			node.info = tc.info
			node.mu.Unlock()

			status, err := client.TransactionStatus(context.Background(), txid)
			require.NoError(t, err)
			assert.Equal(t, tc.want, status)
		})
	}
}

func TestAccountResourcesBudget(t *testing.T) {
	node, url := newFakeNode(t)
	node.resources = AccountResources{
		FreeBandwidthLimit: 600,
		FreeBandwidthUsed:  100,
		BandwidthLimit:     1000,
		BandwidthUsed:      400,
		EnergyLimit:        50_000,
		EnergyUsed:         20_000,
	}
	client := newTestClient(t, url)

	res, err := client.AccountResources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(30_000), res.AvailableEnergy())
	assert.Equal(t, uint64(1100), res.AvailableBandwidth(), "free and staked quotas add up")

	exhausted := AccountResources{EnergyLimit: 10, EnergyUsed: 25}
	assert.Zero(t, exhausted.AvailableEnergy(), "an overdrawn budget reads zero, not underflow")
}

func TestClientMapsTransportFailures(t *testing.T) {
	client, err := NewClient(ClientConfig{
		Network:    Nile,
		PrivateKey: strings.Repeat("11", 32),
		Endpoint:   "http://127.0.0.1:1",
	})
	require.NoError(t, err)

	_, err = client.TriggerContract(context.Background(), testAddr(t, 0xAA), []byte{0x01})
	assert.True(t, lucerr.Is(err, lucerr.ChainUnavailable))

	_, err = client.TransactionStatus(context.Background(), strings.Repeat("ab", 32))
	assert.True(t, lucerr.Is(err, lucerr.ChainUnavailable))

	_, err = client.AccountResources(context.Background())
	assert.True(t, lucerr.Is(err, lucerr.ChainUnavailable))
}
