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
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	subscribeMethod    = "eth_subscribe"
	unsubscribeMethod  = "eth_unsubscribe"
	notificationMethod = "eth_subscription"
)

// ErrClientClosed is delivered to subscription error channels when the
// websocket connection goes away.
var ErrClientClosed = errors.New("rpc: websocket client closed")

// WSClient is a JSON-RPC client over a websocket, used for eth_subscribe
// push notifications. One read loop serves every subscription.
type WSClient struct {
	conn      *websocket.Conn
	idCounter uint64

	mu      sync.Mutex
	pending map[string]chan *jsonrpcMessage
	subs    map[string]*Subscription
	closed  bool

	writeMu sync.Mutex
	log     *log.Entry
}

// Subscription is one active eth_subscribe stream.
type Subscription struct {
	ID string

	client *WSClient
	ch     chan<- json.RawMessage
	errc   chan error
	once   sync.Once
}

// Err delivers at most one terminal error; an explicit unsubscribe does
// not produce one.
func (s *Subscription) Err() <-chan error { return s.errc }

// Unsubscribe tears the stream down and notifies the node.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.dropSubscription(s.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var ok bool
		_ = s.client.call(ctx, &ok, unsubscribeMethod, s.ID)
	})
}

type subscriptionNotification struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// DialWS connects the websocket endpoint and starts the read loop.
func DialWS(ctx context.Context, endpoint string) (*WSClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: DefaultTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket %s: %w", endpoint, err)
	}
	return newWSClient(conn), nil
}

func newWSClient(conn *websocket.Conn) *WSClient {
	w := &WSClient{
		conn:    conn,
		pending: make(map[string]chan *jsonrpcMessage),
		subs:    make(map[string]*Subscription),
		log:     log.WithField("component", "rpc-ws"),
	}
	go w.readLoop()
	return w
}

// Subscribe issues eth_subscribe with the given params and streams the
// notification payloads into ch. The channel is never closed; watch Err
// for the connection dropping.
func (w *WSClient) Subscribe(ctx context.Context, ch chan<- json.RawMessage, params ...interface{}) (*Subscription, error) {
	var subID string
	if err := w.call(ctx, &subID, subscribeMethod, params...); err != nil {
		return nil, err
	}
	sub := &Subscription{
		ID:     subID,
		client: w,
		ch:     ch,
		errc:   make(chan error, 1),
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClientClosed
	}
	w.subs[subID] = sub
	w.mu.Unlock()
	return sub, nil
}

// Close shuts the connection down; every live subscription sees
// ErrClientClosed.
func (w *WSClient) Close() error {
	w.fail(ErrClientClosed)
	return w.conn.Close()
}

// call performs one request/response exchange over the socket.
func (w *WSClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClientClosed
	}
	w.idCounter++
	id := fmt.Sprintf("%d", w.idCounter)
	respc := make(chan *jsonrpcMessage, 1)
	w.pending[id] = respc
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}()

	msg := &jsonrpcMessage{Version: vsn, ID: json.RawMessage(id), Method: method}
	if len(args) > 0 {
		params, err := json.Marshal(args)
		if err != nil {
			return err
		}
		msg.Params = params
	}
	w.writeMu.Lock()
	err := w.conn.WriteJSON(msg)
	w.writeMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case rm := <-respc:
		return decodeResult(rm, result)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WSClient) readLoop() {
	for {
		var rm jsonrpcMessage
		if err := w.conn.ReadJSON(&rm); err != nil {
			w.fail(err)
			return
		}
		switch {
		case rm.Method == notificationMethod:
			var notif subscriptionNotification
			if err := json.Unmarshal(rm.Params, &notif); err != nil {
				w.log.WithError(err).Warn("malformed subscription notification")
				continue
			}
			w.mu.Lock()
			sub := w.subs[notif.Subscription]
			w.mu.Unlock()
			if sub != nil {
				sub.ch <- notif.Result
			}
		case len(rm.ID) > 0:
			w.mu.Lock()
			respc := w.pending[string(rm.ID)]
			w.mu.Unlock()
			if respc != nil {
				cp := rm
				respc <- &cp
			}
		}
	}
}

func (w *WSClient) dropSubscription(id string) {
	w.mu.Lock()
	delete(w.subs, id)
	w.mu.Unlock()
}

// fail marks the client dead and fans the error out to subscribers.
func (w *WSClient) fail(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	subs := make([]*Subscription, 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	w.subs = make(map[string]*Subscription)
	w.mu.Unlock()

	for _, s := range subs {
		select {
		case s.errc <- err:
		default:
		}
	}
}
