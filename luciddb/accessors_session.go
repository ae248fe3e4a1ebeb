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

package luciddb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lucid-rdp/go-lucid/core/types"
)

// UpsertManifest writes a session manifest keyed by session id. Submitting
// the same session twice keeps a single record.
func (s *Store) UpsertManifest(ctx context.Context, m *types.SessionManifest) error {
	_, err := s.db.Collection(ColSessions).ReplaceOne(ctx,
		bson.D{{Key: "sessionId", Value: m.SessionID}},
		m,
		options.Replace().SetUpsert(true),
	)
	return mapWriteErr(err, "upserting session manifest")
}

// ManifestBySession fetches a session manifest.
func (s *Store) ManifestBySession(ctx context.Context, sessionID string) (*types.SessionManifest, error) {
	var m types.SessionManifest
	err := s.db.Collection(ColSessions).FindOne(ctx, bson.D{{Key: "sessionId", Value: sessionID}}).Decode(&m)
	if err != nil {
		return nil, mapReadErr(err, "manifest by session")
	}
	return &m, nil
}

// UpsertChunk writes chunk metadata keyed by (sessionId, sequenceIndex);
// pipeline resumes overwrite rather than duplicate.
func (s *Store) UpsertChunk(ctx context.Context, c *types.ChunkMetadata) error {
	_, err := s.db.Collection(ColChunks).ReplaceOne(ctx,
		bson.D{
			{Key: "sessionId", Value: c.SessionID},
			{Key: "sequenceIndex", Value: c.SequenceIndex},
		},
		c,
		options.Replace().SetUpsert(true),
	)
	return mapWriteErr(err, "upserting chunk metadata")
}

// ChunksBySession returns a session's chunk metadata in sequence order.
func (s *Store) ChunksBySession(ctx context.Context, sessionID string) ([]*types.ChunkMetadata, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequenceIndex", Value: 1}})
	cur, err := s.db.Collection(ColChunks).Find(ctx, bson.D{{Key: "sessionId", Value: sessionID}}, opts)
	if err != nil {
		return nil, mapReadErr(err, "chunks by session")
	}
	defer cur.Close(ctx)

	var chunks []*types.ChunkMetadata
	if err := cur.All(ctx, &chunks); err != nil {
		return nil, mapReadErr(err, "decoding chunks")
	}
	return chunks, nil
}

// UpsertPipelineState persists the orchestrator's progress record.
func (s *Store) UpsertPipelineState(ctx context.Context, st *types.PipelineState) error {
	_, err := s.db.Collection(ColPipelineStates).ReplaceOne(ctx,
		bson.D{{Key: "sessionId", Value: st.SessionID}},
		st,
		options.Replace().SetUpsert(true),
	)
	return mapWriteErr(err, "upserting pipeline state")
}

// PipelineStateBySession fetches the progress record of a session.
func (s *Store) PipelineStateBySession(ctx context.Context, sessionID string) (*types.PipelineState, error) {
	var st types.PipelineState
	err := s.db.Collection(ColPipelineStates).FindOne(ctx, bson.D{{Key: "sessionId", Value: sessionID}}).Decode(&st)
	if err != nil {
		return nil, mapReadErr(err, "pipeline state by session")
	}
	return &st, nil
}

// UpsertAnchor writes the anchoring record of a session. One record per
// session; re-anchoring overwrites the previous attempt.
func (s *Store) UpsertAnchor(ctx context.Context, a *types.SessionAnchor) error {
	_, err := s.db.Collection(ColAnchors).ReplaceOne(ctx,
		bson.D{{Key: "sessionId", Value: a.SessionID}},
		a,
		options.Replace().SetUpsert(true),
	)
	return mapWriteErr(err, "upserting session anchor")
}

// AnchorBySession fetches the anchoring record of a session.
func (s *Store) AnchorBySession(ctx context.Context, sessionID string) (*types.SessionAnchor, error) {
	var a types.SessionAnchor
	err := s.db.Collection(ColAnchors).FindOne(ctx, bson.D{{Key: "sessionId", Value: sessionID}}).Decode(&a)
	if err != nil {
		return nil, mapReadErr(err, "anchor by session")
	}
	return &a, nil
}

// AnchorByID fetches an anchoring record by its locally-assigned id.
func (s *Store) AnchorByID(ctx context.Context, anchoringID string) (*types.SessionAnchor, error) {
	var a types.SessionAnchor
	err := s.db.Collection(ColAnchors).FindOne(ctx, bson.D{{Key: "anchoringId", Value: anchoringID}}).Decode(&a)
	if err != nil {
		return nil, mapReadErr(err, "anchor by id")
	}
	return &a, nil
}

// PendingAnchors returns anchors awaiting confirmation, oldest first.
func (s *Store) PendingAnchors(ctx context.Context, limit int64) ([]*types.SessionAnchor, error) {
	opts := options.Find().SetSort(bson.D{{Key: "submittedAt", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := s.db.Collection(ColAnchors).Find(ctx, bson.D{{Key: "status", Value: types.AnchorStatusPending}}, opts)
	if err != nil {
		return nil, mapReadErr(err, "pending anchors")
	}
	defer cur.Close(ctx)

	var anchors []*types.SessionAnchor
	if err := cur.All(ctx, &anchors); err != nil {
		return nil, mapReadErr(err, "decoding pending anchors")
	}
	return anchors, nil
}

// MarkAnchorConfirmed records a confirmation: status, block number and
// confirmation time in one update.
func (s *Store) MarkAnchorConfirmed(ctx context.Context, anchoringID string, blockNumber uint64, confirmedAt time.Time) error {
	_, err := s.db.Collection(ColAnchors).UpdateOne(ctx,
		bson.D{{Key: "anchoringId", Value: anchoringID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: types.AnchorStatusConfirmed},
			{Key: "blockNumber", Value: blockNumber},
			{Key: "confirmedAt", Value: confirmedAt.UTC()},
		}}},
	)
	return mapWriteErr(err, "marking anchor confirmed")
}

// MarkAnchorFailed records a failed submission with its error message.
func (s *Store) MarkAnchorFailed(ctx context.Context, anchoringID, errorMessage string) error {
	_, err := s.db.Collection(ColAnchors).UpdateOne(ctx,
		bson.D{{Key: "anchoringId", Value: anchoringID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: types.AnchorStatusFailed},
			{Key: "errorMessage", Value: errorMessage},
		}}},
	)
	return mapWriteErr(err, "marking anchor failed")
}

// AnchorCountsByStatus groups anchoring records by status.
func (s *Store) AnchorCountsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.countByStatus(ctx, ColAnchors)
}

// AverageConfirmationDelay aggregates the mean submit-to-confirm latency of
// confirmed anchors.
func (s *Store) AverageConfirmationDelay(ctx context.Context) (time.Duration, error) {
	pipe := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "status", Value: types.AnchorStatusConfirmed}}}},
		{{Key: "$project", Value: bson.D{
			{Key: "deltaMs", Value: bson.D{{Key: "$subtract", Value: bson.A{"$confirmedAt", "$submittedAt"}}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avgMs", Value: bson.D{{Key: "$avg", Value: "$deltaMs"}}},
		}}},
	}
	cur, err := s.db.Collection(ColAnchors).Aggregate(ctx, pipe)
	if err != nil {
		return 0, mapReadErr(err, "aggregating confirmation delay")
	}
	defer cur.Close(ctx)

	var rows []struct {
		AvgMs float64 `bson:"avgMs"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, mapReadErr(err, "decoding confirmation delay")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return time.Duration(rows[0].AvgMs * float64(time.Millisecond)), nil
}
