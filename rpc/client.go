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

// Package rpc implements the JSON-RPC 2.0 client side used to talk to the
// primary chain node. It is transport-plain: errors come back either as
// *Error (the node replied with an error object) or as ordinary transport
// errors; classification into the platform taxonomy happens a layer up.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a single call when the caller's context carries no
// deadline of its own.
const DefaultTimeout = 20 * time.Second

const vsn = "2.0"

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("json-rpc error %d", e.Code)
	}
	return e.Message
}

// ErrorCode returns the node-assigned error code.
func (e *Error) ErrorCode() int { return e.Code }

type jsonrpcMessage struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// BatchElem is one element of a batch request.
type BatchElem struct {
	Method string
	Args   []interface{}
	// Result must be a pointer; it is unmarshaled from the response.
	Result interface{}
	// Error holds the per-element outcome after BatchCallContext returns.
	Error error
}

// Client is a JSON-RPC client over HTTP POST. Safe for concurrent use.
type Client struct {
	endpoint  string
	http      *http.Client
	idCounter atomic.Uint64
}

// Dial creates a client for the given HTTP endpoint.
func Dial(endpoint string) (*Client, error) {
	return DialWithClient(endpoint, &http.Client{Timeout: DefaultTimeout})
}

// DialWithClient creates a client using a caller-supplied http.Client,
// which tests use to point at an httptest server.
func DialWithClient(endpoint string, hc *http.Client) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	return &Client{endpoint: endpoint, http: hc}, nil
}

// Endpoint reports the node URL this client talks to.
func (c *Client) Endpoint() string { return c.endpoint }

// Close releases idle transport connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// CallContext performs a single JSON-RPC call. A non-nil result must be a
// pointer, into which the response result is unmarshaled. A null result
// for a non-nil target yields ErrNoResult.
func (c *Client) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	msg, err := c.newMessage(method, args...)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, msg)
	if err != nil {
		return err
	}
	var rm jsonrpcMessage
	if err := json.Unmarshal(resp, &rm); err != nil {
		return fmt.Errorf("invalid json-rpc response: %w", err)
	}
	return decodeResult(&rm, result)
}

// BatchCallContext sends all elements as one JSON-RPC batch. Transport
// failure is returned directly; per-element errors land in their Error
// fields.
func (c *Client) BatchCallContext(ctx context.Context, batch []BatchElem) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]*jsonrpcMessage, len(batch))
	byID := make(map[string]int, len(batch))
	for i := range batch {
		msg, err := c.newMessage(batch[i].Method, batch[i].Args...)
		if err != nil {
			return err
		}
		msgs[i] = msg
		byID[string(msg.ID)] = i
	}
	resp, err := c.post(ctx, msgs)
	if err != nil {
		return err
	}
	var rms []jsonrpcMessage
	if err := json.Unmarshal(resp, &rms); err != nil {
		return fmt.Errorf("invalid json-rpc batch response: %w", err)
	}
	for i := range rms {
		idx, ok := byID[string(rms[i].ID)]
		if !ok {
			continue
		}
		batch[idx].Error = decodeResult(&rms[i], batch[idx].Result)
	}
	return nil
}

// ErrNoResult is returned when the node answers with a null result where
// the caller expected a value.
var ErrNoResult = fmt.Errorf("json-rpc response has no result")

func decodeResult(rm *jsonrpcMessage, result interface{}) error {
	if rm.Error != nil {
		return rm.Error
	}
	if result == nil {
		return nil
	}
	if len(rm.Result) == 0 || string(rm.Result) == "null" {
		return ErrNoResult
	}
	if err := json.Unmarshal(rm.Result, result); err != nil {
		return fmt.Errorf("decoding json-rpc result: %w", err)
	}
	return nil
}

func (c *Client) newMessage(method string, args ...interface{}) (*jsonrpcMessage, error) {
	id := c.idCounter.Add(1)
	msg := &jsonrpcMessage{
		Version: vsn,
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
	}
	if len(args) > 0 {
		params, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding json-rpc params: %w", err)
		}
		msg.Params = params
	}
	return msg, nil
}

func (c *Client) post(ctx context.Context, body interface{}) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}
