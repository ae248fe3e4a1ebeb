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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
)

var (
	payoutsCreated   = metrics.NewCounter("payout", "requests_total", "Payout requests accepted")
	payoutsRejected  = metrics.NewCounter("payout", "requests_rejected_total", "Payout requests refused at creation")
	batchesCompleted = metrics.NewCounter("payout", "batches_completed_total", "Payout batches submitted and accepted by the chain")
	batchesFailed    = metrics.NewCounter("payout", "batches_failed_total", "Payout batches that failed submission")
	usdtRouted       = metrics.NewCounter("payout", "usdt_routed_total", "USDT routed through completed batches")
)

// PayoutUpdate describes one status transition applied to requests or
// batches. Zero-valued fields are left untouched.
type PayoutUpdate struct {
	Status       PayoutStatus
	BatchID      string
	TxID         string
	ErrorMessage string
	ProcessedAt  *time.Time
}

// Store is the payout persistence surface. The router is the only writer
// of the payout collections.
type Store interface {
	InsertPayout(ctx context.Context, p *PayoutRequest) error
	UpdatePayouts(ctx context.Context, payoutIDs []string, u PayoutUpdate) error
	PayoutByID(ctx context.Context, payoutID string) (*PayoutRequest, error)
	PayoutsByRecipient(ctx context.Context, recipient Address) ([]*PayoutRequest, error)
	PendingPayouts(ctx context.Context) ([]*PayoutRequest, error)
	InsertBatch(ctx context.Context, b *PayoutBatch) error
	UpdateBatch(ctx context.Context, batchID string, u PayoutUpdate) error
	BatchByID(ctx context.Context, batchID string) (*PayoutBatch, error)
}

// ChainClient is the slice of the payment-chain client the router uses.
type ChainClient interface {
	TriggerContract(ctx context.Context, contract Address, data []byte) (string, error)
	TransactionStatus(ctx context.Context, txid string) (PaymentStatus, error)
	AccountResources(ctx context.Context) (*AccountResources, error)
}

// RouterConfig carries the payout dispatch knobs and the two router
// contract deployments.
type RouterConfig struct {
	RouterV0  Address // PayoutRouterV0 deployment, required
	RouterKYC Address // PayoutRouterKYC deployment, required

	BatchSize int // zero means params.PayoutBatchSize

	// Resource guardrail: a run is refused when the energy a batch needs
	// exceeds the available budget by more than the overdraft fraction.
	EnergyPerPayout      uint64  // zero means 15000
	BandwidthPerBatch    uint64  // zero means 350
	MaxResourceOverdraft float64 // zero means 0.10
}

// Router validates payout requests, groups them into batches and dispatches
// each batch as one contract call on the payment chain.
type Router struct {
	cfg    RouterConfig
	store  Store
	client ChainClient
	log    *logrus.Entry

	// Only one batch run may be in flight per instance.
	processing atomic.Bool
}

// NewRouter wires a router over its store and payment client. The client is
// required: payouts are never simulated against a missing chain.
func NewRouter(store Store, client ChainClient, cfg RouterConfig) (*Router, error) {
	if store == nil {
		return nil, lucerr.New(lucerr.Validation, "a payout store is required")
	}
	if client == nil {
		return nil, lucerr.New(lucerr.Validation, "a payment client is required")
	}
	if _, err := ParseAddress(string(cfg.RouterV0)); err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "router V0 contract")
	}
	if _, err := ParseAddress(string(cfg.RouterKYC)); err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "router KYC contract")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = params.PayoutBatchSize
	}
	if cfg.EnergyPerPayout == 0 {
		cfg.EnergyPerPayout = 15000
	}
	if cfg.BandwidthPerBatch == 0 {
		cfg.BandwidthPerBatch = 350
	}
	if cfg.MaxResourceOverdraft <= 0 {
		cfg.MaxResourceOverdraft = 0.10
	}
	return &Router{
		cfg:    cfg,
		store:  store,
		client: client,
		log:    logrus.WithField("component", "payout"),
	}, nil
}

// CreatePayout validates one request and persists it pending. The id,
// status and creation time are assigned here; KYC-gated requests must carry
// verifiable compliance material or they are refused outright.
func (r *Router) CreatePayout(ctx context.Context, p *PayoutRequest) error {
	if p == nil {
		return lucerr.New(lucerr.Validation, "payout request is nil")
	}
	if _, err := ParseAddress(string(p.RecipientAddress)); err != nil {
		payoutsRejected.Inc()
		return err
	}
	if _, err := UnitsFromUSDT(p.AmountUSDT); err != nil {
		payoutsRejected.Inc()
		return err
	}
	if !p.Router.Valid() {
		payoutsRejected.Inc()
		return lucerr.Newf(lucerr.Validation, "unknown router type %q", p.Router)
	}
	if p.Router == RouterKYC {
		if p.KYCHash == "" || p.ComplianceSig == "" {
			payoutsRejected.Inc()
			return lucerr.New(lucerr.KycRejected, "kyc_gated payout lacks compliance material")
		}
		if !crypto.VerifyComplianceSignature(p.ComplianceSig, string(p.RecipientAddress), p.KYCHash) {
			payoutsRejected.Inc()
			return lucerr.New(lucerr.KycRejected, "compliance signature verification failed")
		}
	}

	p.PayoutID = "pay-" + uuid.NewString()
	p.Status = PayoutPending
	p.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	p.BatchID = ""
	p.TxID = ""
	p.ErrorMessage = ""
	p.ProcessedAt = nil

	if err := r.store.InsertPayout(ctx, p); err != nil {
		return err
	}
	payoutsCreated.Inc()
	r.log.WithFields(logrus.Fields{
		"payout":    p.PayoutID,
		"recipient": p.RecipientAddress,
		"amount":    p.AmountUSDT,
		"router":    p.Router,
	}).Info("payout request accepted")
	return nil
}

// Payout returns one request by id.
func (r *Router) Payout(ctx context.Context, payoutID string) (*PayoutRequest, error) {
	return r.store.PayoutByID(ctx, payoutID)
}

// PayoutsFor returns every request addressed to a recipient.
func (r *Router) PayoutsFor(ctx context.Context, recipient Address) ([]*PayoutRequest, error) {
	return r.store.PayoutsByRecipient(ctx, recipient)
}

// Batch returns one batch by id.
func (r *Router) Batch(ctx context.Context, batchID string) (*PayoutBatch, error) {
	return r.store.BatchByID(ctx, batchID)
}

// CancelPayout withdraws a request that has not entered a batch yet.
func (r *Router) CancelPayout(ctx context.Context, payoutID string) error {
	p, err := r.store.PayoutByID(ctx, payoutID)
	if err != nil {
		return err
	}
	if p.Status != PayoutPending {
		return lucerr.Newf(lucerr.Validation, "payout %s is %s, only pending payouts can be cancelled", payoutID, p.Status)
	}
	return r.store.UpdatePayouts(ctx, []string{payoutID}, PayoutUpdate{Status: PayoutCancelled})
}

// ProcessPending runs one dispatch round: load pending requests, group by
// router type, cut batches and submit each as a single contract call. At
// most one round is in flight per instance; a concurrent call is a no-op
// reporting zero. Returns the number of requests that left the pending
// state.
func (r *Router) ProcessPending(ctx context.Context) (int, error) {
	if !r.processing.CompareAndSwap(false, true) {
		r.log.Debug("payout run already in flight")
		return 0, nil
	}
	defer r.processing.Store(false)

	pending, err := r.store.PendingPayouts(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	byRouter := map[RouterType][]*PayoutRequest{}
	for _, p := range pending {
		byRouter[p.Router] = append(byRouter[p.Router], p)
	}

	processed := 0
	for _, router := range []RouterType{RouterV0, RouterKYC} {
		queue := byRouter[router]
		for len(queue) > 0 {
			n := len(queue)
			if n > r.cfg.BatchSize {
				n = r.cfg.BatchSize
			}
			batch, rest := queue[:n], queue[n:]
			if err := r.checkResources(ctx, len(batch)); err != nil {
				return processed, err
			}
			processed += len(batch)
			r.submitBatch(ctx, router, batch)
			queue = rest
		}
	}
	return processed, nil
}

// checkResources refuses a batch whose declared energy or bandwidth need
// exceeds the account's available budget beyond the overdraft fraction.
// Refused requests stay pending; the budget regenerates.
func (r *Router) checkResources(ctx context.Context, batchLen int) error {
	res, err := r.client.AccountResources(ctx)
	if err != nil {
		return err
	}
	headroom := 1 + r.cfg.MaxResourceOverdraft
	needEnergy := float64(r.cfg.EnergyPerPayout) * float64(batchLen)
	if needEnergy > float64(res.AvailableEnergy())*headroom {
		return lucerr.Newf(lucerr.InsufficientEnergy, "batch of %d needs %.0f energy, account has %d", batchLen, needEnergy, res.AvailableEnergy())
	}
	if float64(r.cfg.BandwidthPerBatch) > float64(res.AvailableBandwidth())*headroom {
		return lucerr.Newf(lucerr.InsufficientEnergy, "batch needs %d bandwidth, account has %d", r.cfg.BandwidthPerBatch, res.AvailableBandwidth())
	}
	return nil
}

// submitBatch persists the batch, walks it through PROCESSING and settles
// every member on the batch outcome: one shared txid on success, the
// batch-level error on failure.
func (r *Router) submitBatch(ctx context.Context, router RouterType, reqs []*PayoutRequest) {
	ids := make([]string, 0, len(reqs))
	recipients := make([]Address, 0, len(reqs))
	units := make([]uint64, 0, len(reqs))
	kycHashes := make([]string, 0, len(reqs))
	total := 0.0
	for _, p := range reqs {
		u, err := UnitsFromUSDT(p.AmountUSDT)
		if err != nil {
			// Bounds were checked at creation; a stored request that no
			// longer converts is settled alone, outside any batch.
			r.failBatchless(ctx, p, err)
			continue
		}
		ids = append(ids, p.PayoutID)
		recipients = append(recipients, p.RecipientAddress)
		units = append(units, u)
		kycHashes = append(kycHashes, p.KYCHash)
		total += p.AmountUSDT
	}
	if len(ids) == 0 {
		return
	}

	b := &PayoutBatch{
		BatchID:   "batch-" + uuid.NewString(),
		Router:    router,
		PayoutIDs: ids,
		TotalUSDT: total,
		Status:    PayoutPending,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := r.store.InsertBatch(ctx, b); err != nil {
		r.log.WithError(err).Warn("payout batch not persisted, leaving requests pending")
		return
	}
	if err := r.store.UpdatePayouts(ctx, ids, PayoutUpdate{Status: PayoutProcessing, BatchID: b.BatchID}); err != nil {
		r.log.WithError(err).WithField("batch", b.BatchID).Warn("payout requests not marked processing")
		return
	}
	if err := r.store.UpdateBatch(ctx, b.BatchID, PayoutUpdate{Status: PayoutProcessing}); err != nil {
		r.log.WithError(err).WithField("batch", b.BatchID).Warn("payout batch not marked processing")
		return
	}

	contract, data := r.cfg.RouterV0, disburseData(recipients, units)
	if router == RouterKYC {
		contract, data = r.cfg.RouterKYC, disburseVerifiedData(recipients, units, kycHashes)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	txid, err := r.client.TriggerContract(ctx, contract, data)
	if err != nil {
		batchesFailed.Inc()
		r.log.WithError(err).WithFields(logrus.Fields{
			"batch":    b.BatchID,
			"requests": len(ids),
		}).Warn("payout batch failed")
		r.settle(ctx, b.BatchID, ids, PayoutUpdate{Status: PayoutFailed, ErrorMessage: err.Error(), ProcessedAt: &now})
		return
	}

	batchesCompleted.Inc()
	usdtRouted.Add(total)
	r.log.WithFields(logrus.Fields{
		"batch":    b.BatchID,
		"requests": len(ids),
		"total":    total,
		"txid":     txid,
	}).Info("payout batch completed")
	r.settle(ctx, b.BatchID, ids, PayoutUpdate{Status: PayoutCompleted, TxID: txid, ProcessedAt: &now})
}

// settle applies the final batch outcome to the batch record and every
// member request.
func (r *Router) settle(ctx context.Context, batchID string, ids []string, u PayoutUpdate) {
	if err := r.store.UpdateBatch(ctx, batchID, u); err != nil {
		r.log.WithError(err).WithField("batch", batchID).Error("batch outcome not persisted")
	}
	if err := r.store.UpdatePayouts(ctx, ids, u); err != nil {
		r.log.WithError(err).WithField("batch", batchID).Error("request outcomes not persisted")
	}
}

// failBatchless settles a single malformed request outside any batch.
func (r *Router) failBatchless(ctx context.Context, p *PayoutRequest, cause error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := r.store.UpdatePayouts(ctx, []string{p.PayoutID}, PayoutUpdate{Status: PayoutFailed, ErrorMessage: cause.Error(), ProcessedAt: &now}); err != nil {
		r.log.WithError(err).WithField("payout", p.PayoutID).Error("request outcome not persisted")
	}
}

// CheckPayoutStatus reports the chain-side state of one payout. Requests
// that never reached the chain answer from their stored status.
func (r *Router) CheckPayoutStatus(ctx context.Context, rec PayoutRecord) (PaymentStatus, error) {
	if rec.TxID != "" {
		return r.client.TransactionStatus(ctx, rec.TxID)
	}
	p, err := r.store.PayoutByID(ctx, rec.PayoutID)
	if err != nil {
		return "", err
	}
	switch p.Status {
	case PayoutCompleted:
		return r.client.TransactionStatus(ctx, p.TxID)
	case PayoutFailed, PayoutCancelled:
		return PaymentFailed, nil
	default:
		return PaymentPending, nil
	}
}

// Run dispatches pending payouts on a fixed cadence until the context ends.
// Payout rounds are independent; a failed round is logged and the next one
// starts fresh.
func (r *Router) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := r.ProcessPending(ctx)
		if err != nil {
			r.log.WithError(err).Warn("payout round failed")
			continue
		}
		if n > 0 {
			r.log.WithField("processed", n).Info("payout round complete")
		}
	}
}
