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

// Package luciddb is the document-store layer shared by every component.
// It owns collection names, index creation and the typed accessors; apart
// from the payout router, which manages its own documents, no other
// package speaks BSON. Writes go to the primary, reads may be served by
// secondaries.
package luciddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/lucid-rdp/go-lucid/lucerr"
)

// ErrDuplicateKey is returned when a unique index rejects a write. Callers
// decide whether that is a race to tolerate or a duplicate to reject.
var ErrDuplicateKey = errors.New("luciddb: duplicate key")

// Config collects the store connection knobs.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// DefaultConfig returns the connection defaults; URI and Database still
// have to be supplied.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    64,
	}
}

// Store wraps one mongo client bound to the platform database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *log.Entry
}

// Open connects, pings and returns the store. Writes carry majority
// concern; reads prefer secondaries, matching the sharded deployment.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, lucerr.New(lucerr.Validation, "store URI and database are required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.SecondaryPreferred()).
		SetRegistry(newRegistry())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, "connecting to document store")
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, "pinging document store")
	}

	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		log:    log.WithField("component", "luciddb"),
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Collection exposes a raw collection handle for owners that manage their
// own documents (the payout router does).
func (s *Store) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// EnsureIndexes creates the full index set. Safe to run on every startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	for name, models := range collectionIndexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return lucerr.Wrap(lucerr.StoreUnavailable, err, fmt.Sprintf("creating indexes on %s", name))
		}
	}
	s.log.WithField("collections", len(collectionIndexes)).Info("indexes ensured")
	return nil
}

// mapWriteErr normalizes driver write errors: unique violations become
// ErrDuplicateKey, the rest surface as store unavailability.
func mapWriteErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	}
	return lucerr.Wrap(lucerr.StoreUnavailable, err, op)
}

// mapReadErr normalizes driver read errors: missing documents become the
// NotFound kind.
func mapReadErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return lucerr.New(lucerr.NotFound, op)
	}
	return lucerr.Wrap(lucerr.StoreUnavailable, err, op)
}
