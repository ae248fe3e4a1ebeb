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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
)

type fakePayoutStore struct {
	mu       sync.Mutex
	order    []string
	payouts  map[string]*PayoutRequest
	batches  map[string]*PayoutBatch
	batchLog map[string][]PayoutStatus
}

func newFakePayoutStore() *fakePayoutStore {
	return &fakePayoutStore{
		payouts:  map[string]*PayoutRequest{},
		batches:  map[string]*PayoutBatch{},
		batchLog: map[string][]PayoutStatus{},
	}
}

func (f *fakePayoutStore) InsertPayout(_ context.Context, p *PayoutRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.payouts[p.PayoutID] = &cp
	f.order = append(f.order, p.PayoutID)
	return nil
}

func applyUpdate(p *PayoutRequest, u PayoutUpdate) {
	if u.Status != "" {
		p.Status = u.Status
	}
	if u.BatchID != "" {
		p.BatchID = u.BatchID
	}
	if u.TxID != "" {
		p.TxID = u.TxID
	}
	if u.ErrorMessage != "" {
		p.ErrorMessage = u.ErrorMessage
	}
	if u.ProcessedAt != nil {
		p.ProcessedAt = u.ProcessedAt
	}
}

func (f *fakePayoutStore) UpdatePayouts(_ context.Context, payoutIDs []string, u PayoutUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range payoutIDs {
		if p, ok := f.payouts[id]; ok {
			applyUpdate(p, u)
		}
	}
	return nil
}

func (f *fakePayoutStore) PayoutByID(_ context.Context, payoutID string) (*PayoutRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payouts[payoutID]
	if !ok {
		return nil, lucerr.Newf(lucerr.NotFound, "payout %s", payoutID)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePayoutStore) PayoutsByRecipient(_ context.Context, recipient Address) ([]*PayoutRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*PayoutRequest
	for _, id := range f.order {
		if p := f.payouts[id]; p.RecipientAddress == recipient {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePayoutStore) PendingPayouts(_ context.Context) ([]*PayoutRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*PayoutRequest
	for _, id := range f.order {
		if p := f.payouts[id]; p.Status == PayoutPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePayoutStore) InsertBatch(_ context.Context, b *PayoutBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *b
	f.batches[b.BatchID] = &cp
	f.batchLog[b.BatchID] = []PayoutStatus{b.Status}
	return nil
}

func (f *fakePayoutStore) UpdateBatch(_ context.Context, batchID string, u PayoutUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return lucerr.Newf(lucerr.NotFound, "payout batch %s", batchID)
	}
	if u.Status != "" {
		b.Status = u.Status
		f.batchLog[batchID] = append(f.batchLog[batchID], u.Status)
	}
	if u.TxID != "" {
		b.TxID = u.TxID
	}
	if u.ErrorMessage != "" {
		b.ErrorMessage = u.ErrorMessage
	}
	if u.ProcessedAt != nil {
		b.ProcessedAt = u.ProcessedAt
	}
	return nil
}

func (f *fakePayoutStore) BatchByID(_ context.Context, batchID string) (*PayoutBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return nil, lucerr.Newf(lucerr.NotFound, "payout batch %s", batchID)
	}
	cp := *b
	return &cp, nil
}

func (f *fakePayoutStore) payout(t *testing.T, id string) *PayoutRequest {
	t.Helper()
	p, err := f.PayoutByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fakePayoutStore) allBatches() []*PayoutBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*PayoutBatch
	for _, b := range f.batches {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

func (f *fakePayoutStore) transitions(batchID string) []PayoutStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PayoutStatus(nil), f.batchLog[batchID]...)
}

type paymentCall struct {
	contract Address
	data     []byte
}

type fakePayments struct {
	mu         sync.Mutex
	calls      []paymentCall
	txSeq      int
	triggerErr error
	res        AccountResources
	statuses   map[string]PaymentStatus

	gate      chan struct{}
	started   chan struct{}
	startOnce sync.Once
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		res:      AccountResources{EnergyLimit: 10_000_000, BandwidthLimit: 1_000_000},
		statuses: map[string]PaymentStatus{},
	}
}

func (f *fakePayments) TriggerContract(_ context.Context, contract Address, data []byte) (string, error) {
	f.startOnce.Do(func() {
		if f.started != nil {
			close(f.started)
		}
	})
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	f.txSeq++
	txid := fmt.Sprintf("fake-tx-%d", f.txSeq)
	f.calls = append(f.calls, paymentCall{contract: contract, data: append([]byte(nil), data...)})
	f.statuses[txid] = PaymentConfirmed
	return txid, nil
}

func (f *fakePayments) TransactionStatus(_ context.Context, txid string) (PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.statuses[txid]; ok {
		return st, nil
	}
	return PaymentPending, nil
}

func (f *fakePayments) AccountResources(_ context.Context) (*AccountResources, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.res
	return &cp, nil
}

func (f *fakePayments) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePayments) call(i int) paymentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func testRouterConfig(t *testing.T) RouterConfig {
	t.Helper()
	return RouterConfig{
		RouterV0:  testAddr(t, 0xE0),
		RouterKYC: testAddr(t, 0xE1),
	}
}

func newTestRouter(t *testing.T) (*Router, *fakePayoutStore, *fakePayments) {
	t.Helper()
	store := newFakePayoutStore()
	chain := newFakePayments()
	r, err := NewRouter(store, chain, testRouterConfig(t))
	require.NoError(t, err)
	return r, store, chain
}

// kycRequest builds a compliance-signed KYC payout request.
func kycRequest(recipient Address, amount float64) *PayoutRequest {
	kycHash := "sha256:doc-" + string(recipient)[1:9]
	return &PayoutRequest{
		RecipientAddress: recipient,
		AmountUSDT:       amount,
		Router:           RouterKYC,
		ReasonCode:       "session_rewards",
		KYCHash:          kycHash,
		ComplianceSig:    crypto.ComplianceSignature(string(recipient), kycHash),
	}
}

func TestNewRouterValidation(t *testing.T) {
	store, chain, cfg := newFakePayoutStore(), newFakePayments(), testRouterConfig(t)

	_, err := NewRouter(nil, chain, cfg)
	assert.True(t, lucerr.Is(err, lucerr.Validation))

	_, err = NewRouter(store, nil, cfg)
	assert.True(t, lucerr.Is(err, lucerr.Validation), "a payment client is required")

	bad := cfg
	bad.RouterV0 = "not-an-address"
	_, err = NewRouter(store, chain, bad)
	assert.True(t, lucerr.Is(err, lucerr.Validation))
}

func TestCreatePayoutAssignsIdentity(t *testing.T) {
	r, store, _ := newTestRouter(t)

	p := &PayoutRequest{
		RecipientAddress: testAddr(t, 0x21),
		AmountUSDT:       25.5,
		Router:           RouterV0,
		ReasonCode:       "session_rewards",
	}
	require.NoError(t, r.CreatePayout(context.Background(), p))

	assert.Contains(t, p.PayoutID, "pay-")
	assert.Equal(t, PayoutPending, p.Status)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Empty(t, p.TxID)
	assert.Nil(t, p.ProcessedAt)

	stored := store.payout(t, p.PayoutID)
	assert.Equal(t, p.RecipientAddress, stored.RecipientAddress)
	assert.Equal(t, 25.5, stored.AmountUSDT)
}

func TestCreatePayoutValidation(t *testing.T) {
	r, store, _ := newTestRouter(t)

	cases := []struct {
		name string
		req  *PayoutRequest
		kind lucerr.Kind
	}{
		{"bad recipient", &PayoutRequest{RecipientAddress: "bogus", AmountUSDT: 5, Router: RouterV0}, lucerr.Validation},
		{"below minimum", &PayoutRequest{RecipientAddress: testAddr(t, 0x21), AmountUSDT: 0.5, Router: RouterV0}, lucerr.Validation},
		{"above maximum", &PayoutRequest{RecipientAddress: testAddr(t, 0x21), AmountUSDT: 20_000, Router: RouterV0}, lucerr.Validation},
		{"unknown router", &PayoutRequest{RecipientAddress: testAddr(t, 0x21), AmountUSDT: 5, Router: "express"}, lucerr.Validation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.CreatePayout(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, lucerr.Is(err, tc.kind))
		})
	}

	pending, err := store.PendingPayouts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "refused requests are never persisted")
}

func TestCreatePayoutKycGate(t *testing.T) {
	r, _, _ := newTestRouter(t)
	recipient := testAddr(t, 0x31)

	missing := &PayoutRequest{RecipientAddress: recipient, AmountUSDT: 10, Router: RouterKYC}
	err := r.CreatePayout(context.Background(), missing)
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.KycRejected))

	forged := kycRequest(recipient, 10)
	forged.ComplianceSig = crypto.ComplianceSignature(string(testAddr(t, 0x32)), forged.KYCHash)
	err = r.CreatePayout(context.Background(), forged)
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.KycRejected), "a signature for another recipient does not transfer")

	require.NoError(t, r.CreatePayout(context.Background(), kycRequest(recipient, 10)))
}

func TestProcessPendingDispatchesOneBatchTransaction(t *testing.T) {
	r, store, chain := newTestRouter(t)
	ctx := context.Background()

	first := &PayoutRequest{RecipientAddress: testAddr(t, 0x41), AmountUSDT: 25.5, Router: RouterV0, ReasonCode: "session_rewards"}
	second := &PayoutRequest{RecipientAddress: testAddr(t, 0x42), AmountUSDT: 10.0, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, first))
	require.NoError(t, r.CreatePayout(ctx, second))

	// The unverified KYC request never enters the queue.
	unverified := &PayoutRequest{RecipientAddress: testAddr(t, 0x43), AmountUSDT: 5, Router: RouterKYC}
	err := r.CreatePayout(ctx, unverified)
	assert.True(t, lucerr.Is(err, lucerr.KycRejected))

	n, err := r.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Equal(t, 1, chain.callCount(), "one batch means one chain transaction")
	call := chain.call(0)
	assert.Equal(t, testAddr(t, 0xE0), call.contract)
	assert.Equal(t, selector(disburseSig), call.data[:4])

	a, b := store.payout(t, first.PayoutID), store.payout(t, second.PayoutID)
	assert.Equal(t, PayoutCompleted, a.Status)
	assert.Equal(t, PayoutCompleted, b.Status)
	assert.Equal(t, "fake-tx-1", a.TxID)
	assert.Equal(t, a.TxID, b.TxID, "batch members share the chain transaction")
	assert.Equal(t, a.BatchID, b.BatchID)
	require.NotNil(t, a.ProcessedAt)

	batch, err := store.BatchByID(ctx, a.BatchID)
	require.NoError(t, err)
	assert.Equal(t, PayoutCompleted, batch.Status)
	assert.Equal(t, 35.5, batch.TotalUSDT)
	assert.ElementsMatch(t, []string{first.PayoutID, second.PayoutID}, batch.PayoutIDs)
	assert.Equal(t, a.TxID, batch.TxID)

	assert.Equal(t,
		[]PayoutStatus{PayoutPending, PayoutProcessing, PayoutCompleted},
		store.transitions(a.BatchID),
		"a batch walks pending, processing, completed")
}

func TestProcessPendingRoutesByRouterType(t *testing.T) {
	r, store, chain := newTestRouter(t)
	ctx := context.Background()

	plain := &PayoutRequest{RecipientAddress: testAddr(t, 0x51), AmountUSDT: 5, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, plain))
	gated := kycRequest(testAddr(t, 0x52), 7)
	require.NoError(t, r.CreatePayout(ctx, gated))

	n, err := r.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Equal(t, 2, chain.callCount(), "router types never share a batch")
	assert.Equal(t, testAddr(t, 0xE0), chain.call(0).contract)
	assert.Equal(t, selector(disburseSig), chain.call(0).data[:4])
	assert.Equal(t, testAddr(t, 0xE1), chain.call(1).contract)
	assert.Equal(t, selector(disburseVerifiedSig), chain.call(1).data[:4])

	assert.NotEqual(t, store.payout(t, plain.PayoutID).TxID, store.payout(t, gated.PayoutID).TxID)
	assert.Len(t, store.allBatches(), 2)
}

func TestProcessPendingChunksLargeSets(t *testing.T) {
	store, chain := newFakePayoutStore(), newFakePayments()
	cfg := testRouterConfig(t)
	cfg.BatchSize = 2
	r, err := NewRouter(store, chain, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		p := &PayoutRequest{RecipientAddress: testAddr(t, byte(0x60+i)), AmountUSDT: 2, Router: RouterV0, ReasonCode: "session_rewards"}
		require.NoError(t, r.CreatePayout(ctx, p))
		ids = append(ids, p.PayoutID)
	}

	n, err := r.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, chain.callCount())

	var sizes []int
	for _, b := range store.allBatches() {
		sizes = append(sizes, len(b.PayoutIDs))
		assert.Equal(t, PayoutCompleted, b.Status)
	}
	assert.ElementsMatch(t, []int{2, 2, 1}, sizes)

	// FIFO: the oldest two requests form the first batch.
	firstBatch, err := store.BatchByID(ctx, store.payout(t, ids[0]).BatchID)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], ids[1]}, firstBatch.PayoutIDs)
}

func TestProcessPendingSingleFlight(t *testing.T) {
	r, store, chain := newTestRouter(t)
	ctx := context.Background()

	p := &PayoutRequest{RecipientAddress: testAddr(t, 0x71), AmountUSDT: 3, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, p))

	gate := make(chan struct{})
	chain.gate = gate
	chain.started = make(chan struct{})

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.ProcessPending(ctx)
		done <- result{n, err}
	}()

	select {
	case <-chain.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never reached the chain")
	}

	n, err := r.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a concurrent run is a no-op")

	close(gate)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.n)
	assert.Equal(t, PayoutCompleted, store.payout(t, p.PayoutID).Status)
}

func TestProcessPendingInsufficientEnergy(t *testing.T) {
	r, store, chain := newTestRouter(t)
	ctx := context.Background()
	chain.res = AccountResources{EnergyLimit: 1000, BandwidthLimit: 1_000_000}

	p := &PayoutRequest{RecipientAddress: testAddr(t, 0x81), AmountUSDT: 4, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, p))

	n, err := r.ProcessPending(ctx)
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.InsufficientEnergy))
	assert.Zero(t, n)
	assert.Zero(t, chain.callCount(), "a starved account submits nothing")
	assert.Empty(t, store.allBatches())
	assert.Equal(t, PayoutPending, store.payout(t, p.PayoutID).Status, "requests wait for the budget to regenerate")
}

func TestProcessPendingBatchFailureSettlesMembers(t *testing.T) {
	r, store, chain := newTestRouter(t)
	ctx := context.Background()
	chain.triggerErr = lucerr.New(lucerr.Validation, "node rejected the contract call: CONTRACT_VALIDATE_ERROR")

	first := &PayoutRequest{RecipientAddress: testAddr(t, 0x91), AmountUSDT: 6, Router: RouterV0, ReasonCode: "session_rewards"}
	second := &PayoutRequest{RecipientAddress: testAddr(t, 0x92), AmountUSDT: 8, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, first))
	require.NoError(t, r.CreatePayout(ctx, second))

	n, err := r.ProcessPending(ctx)
	require.NoError(t, err, "a failed batch is an outcome, not a run failure")
	assert.Equal(t, 2, n)

	a, b := store.payout(t, first.PayoutID), store.payout(t, second.PayoutID)
	for _, p := range []*PayoutRequest{a, b} {
		assert.Equal(t, PayoutFailed, p.Status)
		assert.Contains(t, p.ErrorMessage, "node rejected")
		assert.NotNil(t, p.ProcessedAt)
		assert.Empty(t, p.TxID)
	}

	batch, err := store.BatchByID(ctx, a.BatchID)
	require.NoError(t, err)
	assert.Equal(t, PayoutFailed, batch.Status)
	assert.Contains(t, batch.ErrorMessage, "node rejected")
	assert.Equal(t,
		[]PayoutStatus{PayoutPending, PayoutProcessing, PayoutFailed},
		store.transitions(a.BatchID))
}

func TestProcessPendingEmptyQueue(t *testing.T) {
	r, _, chain := newTestRouter(t)
	n, err := r.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, chain.callCount())
}

func TestCancelPayout(t *testing.T) {
	r, store, _ := newTestRouter(t)
	ctx := context.Background()

	p := &PayoutRequest{RecipientAddress: testAddr(t, 0xA1), AmountUSDT: 9, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, p))
	require.NoError(t, r.CancelPayout(ctx, p.PayoutID))
	assert.Equal(t, PayoutCancelled, store.payout(t, p.PayoutID).Status)

	n, err := r.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "cancelled requests never dispatch")

	err = r.CancelPayout(ctx, p.PayoutID)
	assert.True(t, lucerr.Is(err, lucerr.Validation), "only pending requests cancel")

	err = r.CancelPayout(ctx, "pay-missing")
	assert.True(t, lucerr.Is(err, lucerr.NotFound))
}

func TestCheckPayoutStatus(t *testing.T) {
	r, store, chain := newTestRouter(t)
	ctx := context.Background()

	p := &PayoutRequest{RecipientAddress: testAddr(t, 0xB1), AmountUSDT: 12, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, p))

	status, err := r.CheckPayoutStatus(ctx, p.Record())
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, status, "an undispatched request is pending")

	n, err := r.ProcessPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	completed := store.payout(t, p.PayoutID)
	status, err = r.CheckPayoutStatus(ctx, completed.Record())
	require.NoError(t, err)
	assert.Equal(t, PaymentConfirmed, status)

	// Without the txid the stored request still resolves.
	status, err = r.CheckPayoutStatus(ctx, PayoutRecord{PayoutID: p.PayoutID})
	require.NoError(t, err)
	assert.Equal(t, PaymentConfirmed, status)

	chain.triggerErr = lucerr.New(lucerr.Validation, "refused")
	failed := &PayoutRequest{RecipientAddress: testAddr(t, 0xB2), AmountUSDT: 12, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, failed))
	_, err = r.ProcessPending(ctx)
	require.NoError(t, err)

	status, err = r.CheckPayoutStatus(ctx, PayoutRecord{PayoutID: failed.PayoutID})
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, status)
}

func TestPayoutsForReturnsRecipientHistory(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()
	alice, bob := testAddr(t, 0xC1), testAddr(t, 0xC2)

	for _, amount := range []float64{5, 10} {
		p := &PayoutRequest{RecipientAddress: alice, AmountUSDT: amount, Router: RouterV0, ReasonCode: "session_rewards"}
		require.NoError(t, r.CreatePayout(ctx, p))
	}
	other := &PayoutRequest{RecipientAddress: bob, AmountUSDT: 3, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, other))

	got, err := r.PayoutsFor(ctx, alice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 5.0, got[0].AmountUSDT)
	assert.Equal(t, 10.0, got[1].AmountUSDT)
}

func TestDryRunRouterCompletesWithoutChain(t *testing.T) {
	store := newFakePayoutStore()
	r, err := NewDryRunRouter(store, testRouterConfig(t))
	require.NoError(t, err)
	ctx := context.Background()

	p := &PayoutRequest{RecipientAddress: testAddr(t, 0xD1), AmountUSDT: 15, Router: RouterV0, ReasonCode: "session_rewards"}
	require.NoError(t, r.CreatePayout(ctx, p))

	n, err := r.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done := store.payout(t, p.PayoutID)
	assert.Equal(t, PayoutCompleted, done.Status)
	assert.Contains(t, done.TxID, "dryrun-")

	status, err := r.CheckPayoutStatus(ctx, done.Record())
	require.NoError(t, err)
	assert.Equal(t, PaymentConfirmed, status)
}
