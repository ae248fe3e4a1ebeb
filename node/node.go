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

// Package node assembles the Lucid services into one process: store, block
// chain, mempool, consensus engine, session pipeline, anchoring sweeper,
// payout router and chain synchronizer.
package node

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/anchor"
	"github.com/lucid-rdp/go-lucid/chainclient"
	"github.com/lucid-rdp/go-lucid/chainsync"
	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/consensus/ledger"
	"github.com/lucid-rdp/go-lucid/consensus/poot"
	"github.com/lucid-rdp/go-lucid/core"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/luciddb"
	"github.com/lucid-rdp/go-lucid/merkle"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
	"github.com/lucid-rdp/go-lucid/session"
	"github.com/lucid-rdp/go-lucid/session/chunker"
	"github.com/lucid-rdp/go-lucid/session/encryptor"
	"github.com/lucid-rdp/go-lucid/tron"
)

var (
	ErrNodeRunning = errors.New("node already running")
	ErrNodeStopped = errors.New("node not started")
)

// Node hosts the full service stack over one Mongo connection. Services are
// built eagerly in New; Start only spawns the background loops, so a
// construction failure surfaces before anything runs.
type Node struct {
	cfg *Config
	log *logrus.Entry

	store    *luciddb.Store
	chain    *core.BlockChain
	pool     *core.TxPool
	engine   *poot.Engine
	ledger   *ledger.Ledger
	chainc   *chainclient.Client
	anchors  *anchor.Service
	pipeline *session.Orchestrator
	payments *tron.Client
	router   *tron.Router
	peer     *chainsync.Client
	syncer   *chainsync.Synchronizer

	metricsSrv *http.Server

	lock    sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds every service against the configured backends. The config must
// already be validated; New trusts its key and address material. On any
// failure the store connection is released before returning.
func New(ctx context.Context, cfg *Config) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, err
	}

	store, err := luciddb.Open(ctx, luciddb.Config{
		URI:            cfg.MongoURL,
		Database:       cfg.MongoDatabase,
		ConnectTimeout: cfg.MongoConnectTimeout,
		MaxPoolSize:    cfg.MongoMaxPoolSize,
	})
	if err != nil {
		return nil, err
	}
	var chainc *chainclient.Client
	fail := func(err error) (*Node, error) {
		if chainc != nil {
			chainc.Close()
		}
		store.Close(context.Background())
		return nil, err
	}

	if err := store.EnsureIndexes(ctx); err != nil {
		return fail(err)
	}

	chain, err := core.NewBlockChain(ctx, store, core.Config{
		StoragePath: filepath.Join(cfg.DataDir, "blocks"),
	})
	if err != nil {
		return fail(err)
	}
	pool, err := core.NewTxPool(ctx, core.TxPoolConfig{}, store, chain)
	if err != nil {
		return fail(err)
	}

	chainc, err = chainclient.New(chainclient.Config{
		Endpoint:           cfg.ChainRPCURL,
		WSEndpoint:         cfg.ChainWSURL,
		From:               common.HexToAddress(cfg.FromAddress),
		AnchorsContract:    common.HexToAddress(cfg.AnchorsContract),
		ChunkStoreContract: common.HexToAddress(cfg.ChunkStoreContract),
	})
	if err != nil {
		return fail(err)
	}
	anchors := anchor.NewDefault(chainc, store)

	ch, err := chunker.New(chunker.Config{
		Dir:        filepath.Join(cfg.DataDir, "chunks"),
		TargetSize: cfg.ChunkTargetSize,
	})
	if err != nil {
		return fail(err)
	}
	enc, err := encryptor.New(encryptor.Config{
		Dir:       filepath.Join(cfg.DataDir, "encrypted"),
		MasterKey: cfg.masterKeyBytes(),
		KeyID:     cfg.MasterKeyID,
	})
	if err != nil {
		return fail(err)
	}
	builder := merkle.NewBuilder(filepath.Join(cfg.DataDir, "merkle"))
	pipeline := session.New(ch, enc, builder, anchors, store, session.Config{
		EncryptWorkers: cfg.EncryptWorkers,
	})

	engine := poot.New(store, poot.Config{
		ClusterSize: cfg.ClusterSize,
		VRFSeed:     []byte(cfg.VRFSeed),
	})
	workLedger := ledger.New(store)

	usdt := tron.Address(cfg.USDTContract)
	payments, err := tron.NewClient(tron.ClientConfig{
		Network:      tron.Network(cfg.TronNetwork),
		PrivateKey:   cfg.TronPrivateKey,
		Endpoint:     cfg.TronEndpoint,
		USDTContract: usdt,
	})
	if err != nil {
		return fail(err)
	}
	routerV0, err := tron.ParseAddress(cfg.RouterV0Address)
	if err != nil {
		return fail(err)
	}
	routerKYC, err := tron.ParseAddress(cfg.RouterKYCAddress)
	if err != nil {
		return fail(err)
	}
	router, err := tron.NewRouter(tron.NewMongoStore(store), payments, tron.RouterConfig{
		RouterV0:  routerV0,
		RouterKYC: routerKYC,
	})
	if err != nil {
		return fail(err)
	}

	n := &Node{
		cfg:      cfg,
		log:      logrus.WithField("component", "node"),
		store:    store,
		chain:    chain,
		pool:     pool,
		engine:   engine,
		ledger:   workLedger,
		chainc:   chainc,
		anchors:  anchors,
		pipeline: pipeline,
		payments: payments,
		router:   router,
	}

	if cfg.PeerRPCURL != "" {
		peer, err := chainsync.Dial(cfg.PeerRPCURL)
		if err != nil {
			return fail(err)
		}
		n.peer = peer
		n.syncer = chainsync.New(peer, chain, chainsync.Config{})
	}
	return n, nil
}

// Start spawns the background loops: the slot driver, the anchor sweeper,
// the payout round, the peer synchronizer and the metrics listener.
func (n *Node) Start() error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.started {
		return ErrNodeRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.started = true

	n.spawn(func() { n.slotLoop(ctx) })
	n.spawn(func() { n.anchors.Run(ctx, n.cfg.AnchorSweepInterval) })
	n.spawn(func() { n.router.Run(ctx, n.cfg.PayoutInterval) })
	if n.syncer != nil {
		n.spawn(func() { n.syncer.Run(ctx, n.cfg.SyncInterval) })
	}
	if n.cfg.MetricsAddr != "" {
		n.metricsSrv = &http.Server{Addr: n.cfg.MetricsAddr, Handler: metrics.Handler()}
		srv := n.metricsSrv
		n.spawn(func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.log.WithError(err).Error("metrics listener failed")
			}
		})
	}

	n.log.WithFields(logrus.Fields{
		"nodeId":  n.cfg.NodeID,
		"height":  n.chain.CurrentHeight(),
		"syncing": n.syncer != nil,
	}).Info("node started")
	return nil
}

func (n *Node) spawn(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// Stop cancels the loops, waits for them to drain and releases every
// backend connection. The context bounds the metrics shutdown and the final
// store disconnect.
func (n *Node) Stop(ctx context.Context) error {
	n.lock.Lock()
	if !n.started {
		n.lock.Unlock()
		return ErrNodeStopped
	}
	n.started = false
	cancel := n.cancel
	n.lock.Unlock()

	cancel()
	if n.metricsSrv != nil {
		if err := n.metricsSrv.Shutdown(ctx); err != nil {
			n.log.WithError(err).Warn("metrics listener did not shut down cleanly")
		}
	}
	n.wg.Wait()

	n.pool.Stop()
	n.chainc.Close()
	if n.peer != nil {
		n.peer.Close()
	}
	err := n.store.Close(ctx)
	n.log.Info("node stopped")
	return err
}

// slotLoop drives consensus on slot boundaries. Each tick decides the
// schedule for the slot that just opened; when this node holds the slot it
// drains the mempool into a block.
func (n *Node) slotLoop(ctx context.Context) {
	for {
		wait := time.Until(poot.SlotStart(poot.SlotAt(time.Now()) + 1))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		slot := poot.SlotAt(time.Now())
		sched, err := n.engine.RunSlot(ctx, slot)
		if err != nil {
			n.log.WithError(err).WithField("slot", slot).Warn("slot decision failed")
			continue
		}
		if n.cfg.NodeID == "" || sched.Primary != n.cfg.NodeID {
			continue
		}
		if err := n.produceBlock(ctx, slot); err != nil {
			n.log.WithError(err).WithField("slot", slot).Warn("block production failed")
		}
	}
}

// produceBlock assembles, signs and commits the next block from pending
// transactions. A slot with an empty pool passes without a block.
func (n *Node) produceBlock(ctx context.Context, slot uint64) error {
	txs := n.pool.PendingForBlock(params.MaxBlockTransactions)
	if len(txs) == 0 {
		n.log.WithField("slot", slot).Debug("no pending transactions, slot passes")
		return nil
	}
	b, err := n.chain.CreateBlock(txs, n.cfg.NodeID)
	if err != nil {
		return err
	}
	b.Signature = crypto.FieldSignature(n.cfg.NodeID, b.Hash.Hex())
	if err := n.chain.AddBlock(ctx, b); err != nil {
		return err
	}
	n.pool.OnBlockCommitted(ctx, txs, b.Height)
	n.log.WithFields(logrus.Fields{
		"slot":         slot,
		"height":       b.Height,
		"transactions": len(txs),
	}).Info("block produced")
	return nil
}

// Store exposes the shared document store.
func (n *Node) Store() *luciddb.Store { return n.store }

// Chain exposes the block chain.
func (n *Node) Chain() *core.BlockChain { return n.chain }

// Pool exposes the mempool.
func (n *Node) Pool() *core.TxPool { return n.pool }

// Engine exposes the consensus engine.
func (n *Node) Engine() *poot.Engine { return n.engine }

// Ledger exposes the task-proof ledger.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Anchors exposes the anchoring service.
func (n *Node) Anchors() *anchor.Service { return n.anchors }

// Pipeline exposes the session pipeline.
func (n *Node) Pipeline() *session.Orchestrator { return n.pipeline }

// Router exposes the payout router.
func (n *Node) Router() *tron.Router { return n.router }
