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
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DryRunClient satisfies ChainClient without touching a chain: every
// contract call is acknowledged with a fabricated transaction id and every
// fabricated transaction confirms immediately. Strictly a development and
// test surface; production routers are built over the real client.
type DryRunClient struct {
	mu    sync.Mutex
	txids map[string]struct{}
	log   *logrus.Entry
}

func NewDryRunClient() *DryRunClient {
	return &DryRunClient{
		txids: make(map[string]struct{}),
		log:   logrus.WithField("component", "payout_dryrun"),
	}
}

func (d *DryRunClient) TriggerContract(ctx context.Context, contract Address, data []byte) (string, error) {
	txid := "dryrun-" + uuid.NewString()
	d.mu.Lock()
	d.txids[txid] = struct{}{}
	d.mu.Unlock()
	d.log.WithFields(logrus.Fields{
		"contract": contract,
		"bytes":    len(data),
		"txid":     txid,
	}).Info("dry-run contract call")
	return txid, nil
}

func (d *DryRunClient) TransactionStatus(ctx context.Context, txid string) (PaymentStatus, error) {
	d.mu.Lock()
	_, ok := d.txids[txid]
	d.mu.Unlock()
	if !ok {
		return PaymentPending, nil
	}
	return PaymentConfirmed, nil
}

func (d *DryRunClient) AccountResources(ctx context.Context) (*AccountResources, error) {
	return &AccountResources{
		FreeBandwidthLimit: math.MaxInt64,
		BandwidthLimit:     math.MaxInt64,
		EnergyLimit:        math.MaxInt64,
	}, nil
}

// NewDryRunRouter builds a router over the dry-run client.
func NewDryRunRouter(store Store, cfg RouterConfig) (*Router, error) {
	return NewRouter(store, NewDryRunClient(), cfg)
}
