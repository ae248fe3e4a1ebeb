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

// Package chainclient talks to the primary chain through a remote
// EVM-compatible node. It encodes the LucidAnchors and LucidChunkStore
// contract calls, estimates gas before every submission and refuses to
// submit above the configured circuit breaker, and turns receipts into
// plain status values.
//
// Transport failures surface as ChainUnavailable after retries; errors
// the node itself reports (reverts, bad params) are returned as-is since
// retrying cannot fix them.
package chainclient

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
	"github.com/lucid-rdp/go-lucid/rpc"
)

// Status of a submitted transaction as reported by the node.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

var (
	submissionsTotal = metrics.NewCounter("chain", "submissions_total", "Contract calls submitted to the primary chain")
	breakerTripped   = metrics.NewCounter("chain", "circuit_breaker_total", "Submissions refused because the gas estimate exceeded the breaker")
	gasEstimated     = metrics.NewHistogram("chain", "gas_estimate", "Gas estimates returned by the node")
)

// Result describes the outcome of a contract submission.
type Result struct {
	TxID        string
	BlockNumber uint64
	GasUsed     uint64
	Status      Status
}

// TxStatus is the polled state of a transaction. BlockNumber and GasUsed are
// zero while the transaction is pending.
type TxStatus struct {
	Status      Status
	BlockNumber uint64
	GasUsed     uint64
}

// Config carries the endpoints and contract addresses of the primary chain.
type Config struct {
	Endpoint           string         // HTTP JSON-RPC endpoint, required
	WSEndpoint         string         // websocket endpoint for subscriptions, optional
	From               common.Address // sender account managed by the node
	AnchorsContract    common.Address // LucidAnchors deployment
	ChunkStoreContract common.Address // LucidChunkStore deployment
	GasCircuitBreaker  uint64         // zero means params.GasCircuitBreaker
	RetryMaxElapsed    time.Duration  // zero means 15s of transport retries
}

// Client wraps a JSON-RPC connection to a primary-chain node.
type Client struct {
	rpc     *rpc.Client
	cfg     Config
	breaker uint64
	log     *logrus.Entry
}

// New connects a client to the configured HTTP endpoint. The connection is
// lazy; no request is made until the first call.
func New(cfg Config) (*Client, error) {
	rc, err := rpc.Dial(cfg.Endpoint)
	if err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "primary-chain endpoint")
	}
	breaker := cfg.GasCircuitBreaker
	if breaker == 0 {
		breaker = params.GasCircuitBreaker
	}
	if cfg.RetryMaxElapsed == 0 {
		cfg.RetryMaxElapsed = 15 * time.Second
	}
	return &Client{
		rpc:     rc,
		cfg:     cfg,
		breaker: breaker,
		log:     logrus.WithField("component", "chainclient"),
	}, nil
}

// Close releases the underlying HTTP connections.
func (c *Client) Close() {
	c.rpc.Close()
}

// callMsg is the eth_call/eth_estimateGas/eth_sendTransaction parameter
// object. All values travel as 0x-prefixed hex.
type callMsg struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Gas  string `json:"gas,omitempty"`
	Data string `json:"data"`
}

// receipt is the subset of eth_getTransactionReceipt we consume.
type receipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	GasUsed         string `json:"gasUsed"`
	Status          string `json:"status"`
}

// RegisterSession submits a registerSession call anchoring a session manifest
// on chain. The six parameters are encoded in contract order. The returned
// Result usually carries StatusPending; callers poll TransactionStatus for
// confirmation.
func (c *Client) RegisterSession(ctx context.Context, sessionID string, manifestHash common.Hash, startedAt time.Time, owner common.Address, merkleRoot common.Hash, chunkCount uint64) (*Result, error) {
	if sessionID == "" {
		return nil, lucerr.New(lucerr.Validation, "sessionID is required")
	}
	if c.cfg.AnchorsContract.IsZero() {
		return nil, lucerr.New(lucerr.Validation, "anchors contract address not configured")
	}
	data := registerSessionData(sessionID, manifestHash, uint64(startedAt.UTC().Unix()), owner, merkleRoot, chunkCount)
	res, err := c.submit(ctx, c.cfg.AnchorsContract, data)
	if err != nil {
		return nil, fmt.Errorf("registerSession %s: %w", sessionID, err)
	}
	c.log.WithFields(logrus.Fields{
		"sessionId": sessionID,
		"txid":      res.TxID,
		"status":    res.Status,
	}).Info("session registered on chain")
	return res, nil
}

// StoreChunkMetadata submits a storeChunkMetadata call recording one chunk's
// ciphertext hash and size.
func (c *Client) StoreChunkMetadata(ctx context.Context, sessionID string, chunkIdx uint64, ciphertextHash common.Hash, sizeBytes uint64) (*Result, error) {
	if sessionID == "" {
		return nil, lucerr.New(lucerr.Validation, "sessionID is required")
	}
	if c.cfg.ChunkStoreContract.IsZero() {
		return nil, lucerr.New(lucerr.Validation, "chunk store contract address not configured")
	}
	data := storeChunkMetadataData(sessionID, chunkIdx, ciphertextHash, sizeBytes)
	res, err := c.submit(ctx, c.cfg.ChunkStoreContract, data)
	if err != nil {
		return nil, fmt.Errorf("storeChunkMetadata %s[%d]: %w", sessionID, chunkIdx, err)
	}
	return res, nil
}

// TransactionStatus polls the receipt of a transaction. A missing receipt
// means the transaction is still pending, not an error.
func (c *Client) TransactionStatus(ctx context.Context, txID string) (*TxStatus, error) {
	var rcpt receipt
	err := c.call(ctx, &rcpt, "eth_getTransactionReceipt", txID)
	if errors.Is(err, rpc.ErrNoResult) {
		return &TxStatus{Status: StatusPending}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transaction status %s: %w", txID, err)
	}
	st := &TxStatus{Status: StatusFailed}
	if rcpt.Status == "0x1" {
		st.Status = StatusSuccess
	}
	if n, err := parseQuantity(rcpt.BlockNumber); err == nil {
		st.BlockNumber = n
	}
	if g, err := parseQuantity(rcpt.GasUsed); err == nil {
		st.GasUsed = g
	}
	return st, nil
}

// submit estimates gas for the call, enforces the circuit breaker and sends
// the transaction. The receipt is probed once so fast chains can report a
// final status immediately; otherwise the result is pending.
func (c *Client) submit(ctx context.Context, to common.Address, data []byte) (*Result, error) {
	call := callMsg{From: c.cfg.From.Hex(), To: to.Hex(), Data: hexData(data)}

	var estHex string
	if err := c.call(ctx, &estHex, "eth_estimateGas", call); err != nil {
		return nil, err
	}
	est, err := parseQuantity(estHex)
	if err != nil {
		return nil, lucerr.Wrap(lucerr.ChainUnavailable, err, "malformed gas estimate")
	}
	gasEstimated.Observe(float64(est))
	if est > c.breaker {
		breakerTripped.Inc()
		return nil, lucerr.Newf(lucerr.GasLimitExceeded, "gas estimate %d exceeds circuit breaker %d", est, c.breaker)
	}
	call.Gas = hexQuantity(est)

	var txHash string
	if err := c.call(ctx, &txHash, "eth_sendTransaction", call); err != nil {
		return nil, err
	}
	submissionsTotal.Inc()

	res := &Result{TxID: txHash, Status: StatusPending}
	if st, err := c.TransactionStatus(ctx, txHash); err == nil {
		res.Status = st.Status
		res.BlockNumber = st.BlockNumber
		res.GasUsed = st.GasUsed
	}
	return res, nil
}

// call performs one JSON-RPC call with exponential backoff on transport
// failures. Node-reported errors and empty results are permanent.
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	op := func() error {
		err := c.rpc.CallContext(ctx, result, method, args...)
		if err == nil {
			return nil
		}
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) || errors.Is(err, rpc.ErrNoResult) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.log.WithError(err).WithField("method", method).Debug("transient rpc failure, retrying")
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = c.cfg.RetryMaxElapsed
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err == nil {
		return nil
	}
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) || errors.Is(err, rpc.ErrNoResult) {
		return err
	}
	return lucerr.Wrap(lucerr.ChainUnavailable, err, method)
}

// SessionRegisteredEvent is one decoded SessionRegistered contract log.
// SessionDigest is the on-chain BLAKE3 digest of the session identifier.
type SessionRegisteredEvent struct {
	SessionDigest common.Hash
	Owner         common.Address
	MerkleRoot    common.Hash
	ChunkCount    uint64
	TxHash        string
	BlockNumber   uint64
}

// Subscription is a live SessionRegistered event stream. Unsubscribe tears
// down the websocket connection backing it.
type Subscription struct {
	ws   *rpc.WSClient
	raw  *rpc.Subscription
	errc chan error
	quit chan struct{}
	once sync.Once
}

// Err delivers at most one terminal subscription error.
func (s *Subscription) Err() <-chan error { return s.errc }

// Unsubscribe stops the event stream and closes the websocket.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.raw.Unsubscribe()
		s.ws.Close()
	})
}

// logRecord is the eth_subscription log payload.
type logRecord struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	Removed         bool     `json:"removed"`
}

// SubscribeSessionRegistered opens a websocket log subscription filtered to
// SessionRegistered events of the anchors contract and decodes each log onto
// sink. The caller owns sink and must drain it.
func (c *Client) SubscribeSessionRegistered(ctx context.Context, sink chan<- SessionRegisteredEvent) (*Subscription, error) {
	if c.cfg.WSEndpoint == "" {
		return nil, lucerr.New(lucerr.Validation, "websocket endpoint not configured")
	}
	ws, err := rpc.DialWS(ctx, c.cfg.WSEndpoint)
	if err != nil {
		return nil, lucerr.Wrap(lucerr.ChainUnavailable, err, "dialing websocket")
	}
	filter := map[string]interface{}{
		"address": c.cfg.AnchorsContract.Hex(),
		"topics":  []string{"0x" + eventTopic(sessionRegisteredSig).Hex()},
	}
	rawCh := make(chan json.RawMessage, 16)
	raw, err := ws.Subscribe(ctx, rawCh, "logs", filter)
	if err != nil {
		ws.Close()
		return nil, lucerr.Wrap(lucerr.ChainUnavailable, err, "subscribing to logs")
	}
	sub := &Subscription{
		ws:   ws,
		raw:  raw,
		errc: make(chan error, 1),
		quit: make(chan struct{}),
	}
	go c.forwardEvents(sub, rawCh, sink)
	return sub, nil
}

func (c *Client) forwardEvents(sub *Subscription, rawCh <-chan json.RawMessage, sink chan<- SessionRegisteredEvent) {
	for {
		select {
		case <-sub.quit:
			return
		case err := <-sub.raw.Err():
			select {
			case sub.errc <- err:
			default:
			}
			return
		case msg := <-rawCh:
			ev, err := decodeSessionRegistered(msg)
			if err != nil {
				c.log.WithError(err).Warn("dropping undecodable SessionRegistered log")
				continue
			}
			if ev == nil { // reorged-out or foreign log
				continue
			}
			select {
			case sink <- *ev:
			case <-sub.quit:
				return
			}
		}
	}
}

// decodeSessionRegistered unpacks one log into an event. Returns (nil, nil)
// for logs that should be silently skipped.
func decodeSessionRegistered(raw json.RawMessage) (*SessionRegisteredEvent, error) {
	var rec logRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling log: %w", err)
	}
	if rec.Removed {
		return nil, nil
	}
	if len(rec.Topics) < 3 {
		return nil, fmt.Errorf("log has %d topics, want 3", len(rec.Topics))
	}
	if common.HexToHash(rec.Topics[0]) != eventTopic(sessionRegisteredSig) {
		return nil, nil
	}
	data := common.FromHex(rec.Data)
	if len(data) < 64 {
		return nil, fmt.Errorf("log data is %d bytes, want 64", len(data))
	}
	ev := &SessionRegisteredEvent{
		SessionDigest: common.HexToHash(rec.Topics[1]),
		Owner:         common.BytesToAddress(common.FromHex(rec.Topics[2])),
		MerkleRoot:    common.BytesToHash(data[:32]),
		ChunkCount:    binary.BigEndian.Uint64(data[56:64]),
		TxHash:        rec.TransactionHash,
	}
	if n, err := parseQuantity(rec.BlockNumber); err == nil {
		ev.BlockNumber = n
	}
	return ev, nil
}
