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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
)

// Network names a TRON deployment the client can talk to.
type Network string

const (
	Mainnet Network = "mainnet"
	Shasta  Network = "shasta"
	Nile    Network = "nile"
)

// Valid reports whether n is a supported network.
func (n Network) Valid() bool {
	return n == Mainnet || n == Shasta || n == Nile
}

var networkEndpoints = map[Network]string{
	Mainnet: "https://api.trongrid.io",
	Shasta:  "https://api.shasta.trongrid.io",
	Nile:    "https://nile.trongrid.io",
}

// Well-known USDT deployments. Testnet faucet contracts move around;
// override through the config where the deployment differs.
var usdtContracts = map[Network]Address{
	Mainnet: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
	Shasta:  "TG3XXyExBkPp9nzdajDZsozEu4BkaSJozs",
	Nile:    "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
}

var (
	broadcastsTotal = metrics.NewCounter("tron", "broadcasts_total", "Signed transactions broadcast to the payment chain")
	broadcastErrors = metrics.NewCounter("tron", "broadcast_failures_total", "Broadcasts the payment chain rejected")
)

// ClientConfig carries the payment-chain connection knobs. The private key
// is injected from the environment and never logged.
type ClientConfig struct {
	Network      Network
	PrivateKey   string        // 32 bytes, hex encoded
	Endpoint     string        // overrides the network default
	USDTContract Address       // overrides the network default
	FeeLimitSun  int64         // zero means params.DefaultFeeLimitSun
	Timeout      time.Duration // zero means params.RPCTimeout
}

// Client signs and submits transactions against a TRON full node over its
// HTTP wallet API.
type Client struct {
	endpoint string
	http     *http.Client
	key      *btcec.PrivateKey
	owner    Address
	usdt     Address
	feeLimit int64
	timeout  time.Duration
	log      *logrus.Entry
}

// NewClient validates the config, derives the owner address from the
// private key and returns a client. The connection is lazy.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = networkEndpoints[cfg.Network]
	}
	if endpoint == "" {
		return nil, lucerr.Newf(lucerr.Validation, "unknown payment network %q", cfg.Network)
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil || len(keyBytes) != 32 {
		return nil, lucerr.New(lucerr.Validation, "payment private key must be 32 hex-encoded bytes")
	}
	key, _ := btcec.PrivKeyFromBytes(keyBytes)
	if key.Key.IsZero() {
		return nil, lucerr.New(lucerr.Validation, "payment private key is zero")
	}
	usdt := cfg.USDTContract
	if usdt == "" {
		usdt = usdtContracts[cfg.Network]
	}
	feeLimit := cfg.FeeLimitSun
	if feeLimit <= 0 {
		feeLimit = params.DefaultFeeLimitSun
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = params.RPCTimeout
	}
	owner := AddressFromKey(key)
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{},
		key:      key,
		owner:    owner,
		usdt:     usdt,
		feeLimit: feeLimit,
		timeout:  timeout,
		log: logrus.WithFields(logrus.Fields{
			"component": "tron",
			"network":   cfg.Network,
			"owner":     owner,
		}),
	}, nil
}

// Owner returns the address the client signs for.
func (c *Client) Owner() Address { return c.owner }

// AccountResources is the owner account's bandwidth and energy budget as
// reported by the node.
type AccountResources struct {
	FreeBandwidthLimit uint64 `json:"freeNetLimit"`
	FreeBandwidthUsed  uint64 `json:"freeNetUsed"`
	BandwidthLimit     uint64 `json:"NetLimit"`
	BandwidthUsed      uint64 `json:"NetUsed"`
	EnergyLimit        uint64 `json:"EnergyLimit"`
	EnergyUsed         uint64 `json:"EnergyUsed"`
}

// AvailableEnergy returns the unspent energy budget.
func (r *AccountResources) AvailableEnergy() uint64 {
	if r.EnergyUsed >= r.EnergyLimit {
		return 0
	}
	return r.EnergyLimit - r.EnergyUsed
}

// AvailableBandwidth returns the unspent bandwidth budget, free quota
// included.
func (r *AccountResources) AvailableBandwidth() uint64 {
	var avail uint64
	if r.FreeBandwidthUsed < r.FreeBandwidthLimit {
		avail += r.FreeBandwidthLimit - r.FreeBandwidthUsed
	}
	if r.BandwidthUsed < r.BandwidthLimit {
		avail += r.BandwidthLimit - r.BandwidthUsed
	}
	return avail
}

type apiReturn struct {
	Result  bool   `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type triggerResponse struct {
	Result      apiReturn              `json:"result"`
	Transaction map[string]interface{} `json:"transaction"`
}

type broadcastResponse struct {
	Result  bool   `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type transactionInfo struct {
	ID          string `json:"id"`
	BlockNumber uint64 `json:"blockNumber"`
	Result      string `json:"result"`
	Receipt     struct {
		Result           string `json:"result"`
		EnergyUsageTotal uint64 `json:"energy_usage_total"`
	} `json:"receipt"`
}

// TriggerContract builds, signs and broadcasts one contract call carrying
// the given calldata. Returns the transaction id the chain will know the
// call by.
func (c *Client) TriggerContract(ctx context.Context, contract Address, data []byte) (string, error) {
	req := map[string]interface{}{
		"owner_address":    hex.EncodeToString(c.owner.Payload()),
		"contract_address": hex.EncodeToString(contract.Payload()),
		"data":             hex.EncodeToString(data),
		"fee_limit":        c.feeLimit,
		"call_value":       0,
	}
	var resp triggerResponse
	if err := c.post(ctx, "/wallet/triggersmartcontract", req, &resp); err != nil {
		return "", err
	}
	if !resp.Result.Result {
		return "", lucerr.Newf(lucerr.Validation, "node rejected the contract call: %s %s", resp.Result.Code, decodeHexMessage(resp.Result.Message))
	}
	txid, err := c.signTransaction(resp.Transaction)
	if err != nil {
		return "", err
	}
	var bres broadcastResponse
	if err := c.post(ctx, "/wallet/broadcasttransaction", resp.Transaction, &bres); err != nil {
		return "", err
	}
	if !bres.Result {
		broadcastErrors.Inc()
		return "", lucerr.Newf(lucerr.Validation, "broadcast rejected: %s %s", bres.Code, decodeHexMessage(bres.Message))
	}
	broadcastsTotal.Inc()
	c.log.WithFields(logrus.Fields{
		"contract": contract,
		"txid":     txid,
	}).Info("payment transaction broadcast")
	return txid, nil
}

// TransferUSDT submits a single TRC-20 transfer from the owner account.
func (c *Client) TransferUSDT(ctx context.Context, to Address, units uint64) (string, error) {
	return c.TriggerContract(ctx, c.usdt, transferData(to, units))
}

// TransactionStatus polls one transaction. A transaction the node has not
// indexed yet is pending, not an error.
func (c *Client) TransactionStatus(ctx context.Context, txid string) (PaymentStatus, error) {
	var info transactionInfo
	if err := c.post(ctx, "/wallet/gettransactioninfobyid", map[string]string{"value": txid}, &info); err != nil {
		return "", err
	}
	switch {
	case info.ID == "":
		return PaymentPending, nil
	case info.Result == "FAILED":
		return PaymentFailed, nil
	case info.Receipt.Result == "" || info.Receipt.Result == "SUCCESS":
		return PaymentConfirmed, nil
	default:
		return PaymentFailed, nil
	}
}

// AccountResources reads the owner account's resource budget.
func (c *Client) AccountResources(ctx context.Context) (*AccountResources, error) {
	var res AccountResources
	req := map[string]string{"address": hex.EncodeToString(c.owner.Payload())}
	if err := c.post(ctx, "/wallet/getaccountresource", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// signTransaction signs the node-built transaction in place and returns its
// id. The id is recomputed locally; a node answering with an id that does
// not match its own raw data is not trusted.
func (c *Client) signTransaction(tx map[string]interface{}) (string, error) {
	rawHex, _ := tx["raw_data_hex"].(string)
	if rawHex == "" {
		return "", lucerr.New(lucerr.ChainUnavailable, "node returned a transaction without raw data")
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", lucerr.Wrap(lucerr.ChainUnavailable, err, "decoding transaction raw data")
	}
	digest := sha256.Sum256(raw)
	txid := hex.EncodeToString(digest[:])
	if want, _ := tx["txID"].(string); want != "" && want != txid {
		return "", lucerr.Newf(lucerr.Integrity, "transaction id %s does not match its raw data", want)
	}

	sig, _ := ecdsa.SignCompact(c.key, digest[:], false)
	// Compact form carries the recovery byte first; the chain wants r||s||v.
	rsv := make([]byte, 65)
	copy(rsv, sig[1:])
	rsv[64] = sig[0] - 27
	tx["signature"] = []string{hex.EncodeToString(rsv)}
	return txid, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return lucerr.Wrap(lucerr.ChainUnavailable, err, "calling payment chain node")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lucerr.Newf(lucerr.ChainUnavailable, "payment chain node answered %s for %s", resp.Status, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return lucerr.Wrap(lucerr.ChainUnavailable, err, "decoding payment chain response")
	}
	return nil
}

// decodeHexMessage renders the node's hex-encoded error strings readable.
func decodeHexMessage(s string) string {
	if b, err := hex.DecodeString(s); err == nil && len(b) > 0 {
		return string(b)
	}
	return s
}
