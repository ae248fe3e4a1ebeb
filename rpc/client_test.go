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

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every call with a canned handler keyed by method.
func echoServer(t *testing.T, handlers map[string]func(params json.RawMessage) (interface{}, *Error)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))

		reply := func(m jsonrpcMessage) jsonrpcMessage {
			out := jsonrpcMessage{Version: vsn, ID: m.ID}
			h, ok := handlers[m.Method]
			if !ok {
				out.Error = &Error{Code: -32601, Message: "method not found"}
				return out
			}
			res, rpcErr := h(m.Params)
			if rpcErr != nil {
				out.Error = rpcErr
				return out
			}
			data, err := json.Marshal(res)
			require.NoError(t, err)
			out.Result = data
			return out
		}

		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
			var msgs []jsonrpcMessage
			require.NoError(t, json.Unmarshal(raw, &msgs))
			outs := make([]jsonrpcMessage, len(msgs))
			for i, m := range msgs {
				outs[i] = reply(m)
			}
			require.NoError(t, json.NewEncoder(w).Encode(outs))
			return
		}
		var m jsonrpcMessage
		require.NoError(t, json.Unmarshal(raw, &m))
		require.NoError(t, json.NewEncoder(w).Encode(reply(m)))
	}))
}

func TestCallContext(t *testing.T) {
	srv := echoServer(t, map[string]func(json.RawMessage) (interface{}, *Error){
		"eth_blockNumber": func(json.RawMessage) (interface{}, *Error) {
			return "0x10", nil
		},
	})
	defer srv.Close()

	c, err := Dial(srv.URL)
	require.NoError(t, err)
	defer c.Close()

	var out string
	require.NoError(t, c.CallContext(context.Background(), &out, "eth_blockNumber"))
	assert.Equal(t, "0x10", out)
}

func TestCallContextParamsEncoding(t *testing.T) {
	srv := echoServer(t, map[string]func(json.RawMessage) (interface{}, *Error){
		"eth_getBalance": func(params json.RawMessage) (interface{}, *Error) {
			var args []string
			if err := json.Unmarshal(params, &args); err != nil || len(args) != 2 {
				return nil, &Error{Code: -32602, Message: "invalid params"}
			}
			return args[0] + "/" + args[1], nil
		},
	})
	defer srv.Close()

	c, err := Dial(srv.URL)
	require.NoError(t, err)

	var out string
	require.NoError(t, c.CallContext(context.Background(), &out, "eth_getBalance", "0xabc", "latest"))
	assert.Equal(t, "0xabc/latest", out)
}

func TestCallContextServerError(t *testing.T) {
	srv := echoServer(t, map[string]func(json.RawMessage) (interface{}, *Error){
		"eth_sendRawTransaction": func(json.RawMessage) (interface{}, *Error) {
			return nil, &Error{Code: -32000, Message: "nonce too low"}
		},
	})
	defer srv.Close()

	c, err := Dial(srv.URL)
	require.NoError(t, err)

	var out string
	err = c.CallContext(context.Background(), &out, "eth_sendRawTransaction", "0x00")
	require.Error(t, err)
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32000, rpcErr.ErrorCode())
	assert.Equal(t, "nonce too low", rpcErr.Error())
}

func TestCallContextNullResult(t *testing.T) {
	srv := echoServer(t, map[string]func(json.RawMessage) (interface{}, *Error){
		"eth_getTransactionReceipt": func(json.RawMessage) (interface{}, *Error) {
			return nil, nil
		},
	})
	defer srv.Close()

	c, err := Dial(srv.URL)
	require.NoError(t, err)

	var out map[string]interface{}
	err = c.CallContext(context.Background(), &out, "eth_getTransactionReceipt", "0xdead")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestCallContextTransportError(t *testing.T) {
	c, err := Dial("http://127.0.0.1:1") // nothing listens here
	require.NoError(t, err)
	var out string
	err = c.CallContext(context.Background(), &out, "eth_blockNumber")
	require.Error(t, err)
	var rpcErr *Error
	assert.False(t, errors.As(err, &rpcErr), "transport failures are not rpc errors")
}

func TestBatchCallContext(t *testing.T) {
	srv := echoServer(t, map[string]func(json.RawMessage) (interface{}, *Error){
		"eth_blockNumber": func(json.RawMessage) (interface{}, *Error) { return "0x2a", nil },
		"eth_chainId":     func(json.RawMessage) (interface{}, *Error) { return "0x1", nil },
		"eth_bad":         func(json.RawMessage) (interface{}, *Error) { return nil, &Error{Code: -32000, Message: "boom"} },
	})
	defer srv.Close()

	c, err := Dial(srv.URL)
	require.NoError(t, err)

	var h, id, bad string
	batch := []BatchElem{
		{Method: "eth_blockNumber", Result: &h},
		{Method: "eth_chainId", Result: &id},
		{Method: "eth_bad", Result: &bad},
	}
	require.NoError(t, c.BatchCallContext(context.Background(), batch))
	assert.NoError(t, batch[0].Error)
	assert.NoError(t, batch[1].Error)
	require.Error(t, batch[2].Error)
	assert.Equal(t, "0x2a", h)
	assert.Equal(t, "0x1", id)
}

func TestWSSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req jsonrpcMessage
		require.NoError(t, conn.ReadJSON(&req))
		require.Equal(t, subscribeMethod, req.Method)
		require.NoError(t, conn.WriteJSON(jsonrpcMessage{
			Version: vsn, ID: req.ID, Result: json.RawMessage(`"0xsub1"`),
		}))

		// Push two notifications, one for a foreign subscription.
		notify := func(subID, payload string) {
			params, _ := json.Marshal(subscriptionNotification{
				Subscription: subID,
				Result:       json.RawMessage(payload),
			})
			require.NoError(t, conn.WriteJSON(jsonrpcMessage{
				Version: vsn, Method: notificationMethod, Params: params,
			}))
		}
		notify("0xother", `{"ignored":true}`)
		notify("0xsub1", `{"sessionId":"sess-1"}`)

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := DialWS(context.Background(), wsURL)
	require.NoError(t, err)
	defer c.Close()

	ch := make(chan json.RawMessage, 4)
	sub, err := c.Subscribe(context.Background(), ch, "sessionRegistered")
	require.NoError(t, err)
	assert.Equal(t, "0xsub1", sub.ID)

	select {
	case raw := <-ch:
		assert.JSONEq(t, `{"sessionId":"sess-1"}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	select {
	case raw := <-ch:
		t.Fatalf("unexpected extra notification: %s", raw)
	default:
	}
}

func TestWSFailFansOutToSubscribers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		var req jsonrpcMessage
		require.NoError(t, conn.ReadJSON(&req))
		require.NoError(t, conn.WriteJSON(jsonrpcMessage{
			Version: vsn, ID: req.ID, Result: json.RawMessage(`"0xsub2"`),
		}))
		conn.Close() // drop the connection under the client
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := DialWS(context.Background(), wsURL)
	require.NoError(t, err)

	ch := make(chan json.RawMessage, 1)
	sub, err := c.Subscribe(context.Background(), ch, "sessionRegistered")
	require.NoError(t, err)

	select {
	case err := <-sub.Err():
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription error")
	}
}
