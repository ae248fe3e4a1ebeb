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

package chunker

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/params"
)

func newTestChunker(t *testing.T, target int64) *Chunker {
	t.Helper()
	c, err := New(Config{Dir: t.TempDir(), TargetSize: target})
	require.NoError(t, err)
	return c
}

// randomBytes is seeded so failures reproduce.
func randomBytes(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestTargetSizeClamping(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{0, params.DefaultChunkSize},
		{1, params.MinChunkSize},
		{4 * params.MiB, params.MinChunkSize},
		{12 * params.MiB, 12 * params.MiB},
		{64 * params.MiB, params.MaxChunkSize},
	}
	for _, tc := range cases {
		c := newTestChunker(t, tc.in)
		assert.Equal(t, tc.want, c.TargetSize(), "target %d", tc.in)
	}
}

func TestChunkBufferEmptyInput(t *testing.T) {
	c := newTestChunker(t, 0)
	metas, err := c.ChunkBuffer("sess-empty", nil)
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestChunkBufferSingleByte(t *testing.T) {
	c := newTestChunker(t, 0)
	metas, err := c.ChunkBuffer("sess-one", []byte{0x42})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, int64(1), metas[0].OriginalSize)
	assert.Equal(t, uint32(0), metas[0].SequenceIndex)
}

func TestChunkBufferSplitsAndRoundTrips(t *testing.T) {
	c := newTestChunker(t, params.MinChunkSize)
	data := randomBytes(1, int(params.MinChunkSize)*2+12345)

	metas, err := c.ChunkBuffer("sess-split", data)
	require.NoError(t, err)
	require.Len(t, metas, 3)

	assert.Equal(t, int64(params.MinChunkSize), metas[0].OriginalSize)
	assert.Equal(t, int64(params.MinChunkSize), metas[1].OriginalSize)
	assert.Equal(t, int64(12345), metas[2].OriginalSize)

	var joined []byte
	for i, meta := range metas {
		assert.Equal(t, uint32(i), meta.SequenceIndex)
		assert.FileExists(t, meta.LocalPath)
		assert.Equal(t, meta.ChunkID()+".zst", filepath.Base(meta.LocalPath))

		plain, err := c.ReadChunk(meta)
		require.NoError(t, err)
		joined = append(joined, plain...)
	}
	assert.True(t, bytes.Equal(data, joined), "reassembled stream differs")
}

func TestChunkStreamEmitsFinalPartial(t *testing.T) {
	c := newTestChunker(t, params.MinChunkSize)
	data := randomBytes(2, int(params.MinChunkSize)+777)

	out, errs := c.ChunkStream(context.Background(), "sess-stream", bytes.NewReader(data))
	var metas []int64
	for meta := range out {
		metas = append(metas, meta.OriginalSize)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []int64{params.MinChunkSize, 777}, metas)
}

func TestChunkStreamCancel(t *testing.T) {
	c := newTestChunker(t, params.MinChunkSize)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, errs := c.ChunkStream(ctx, "sess-cancel", bytes.NewReader(randomBytes(3, 1024)))
	for range out {
	}
	err := <-errs
	require.Error(t, err)
	assert.Equal(t, lucerr.PipelineCanceled, lucerr.KindOf(err))
}

func TestReadChunkDetectsTamper(t *testing.T) {
	c := newTestChunker(t, 0)
	metas, err := c.ChunkBuffer("sess-tamper", randomBytes(4, 2048))
	require.NoError(t, err)
	require.Len(t, metas, 1)

	// Re-compress different bytes into the same artifact path.
	forged := c.enc.EncodeAll(randomBytes(5, 2048), nil)
	require.NoError(t, os.WriteFile(metas[0].LocalPath, forged, 0o644))

	_, err = c.ReadChunk(metas[0])
	require.Error(t, err)
	assert.Equal(t, lucerr.Integrity, lucerr.KindOf(err))
}

func TestCleanupSessionRemovesOnlyOwnArtifacts(t *testing.T) {
	c := newTestChunker(t, 0)
	_, err := c.ChunkBuffer("sess-a", randomBytes(6, 4096))
	require.NoError(t, err)
	keep, err := c.ChunkBuffer("sess-b", randomBytes(7, 4096))
	require.NoError(t, err)

	removed, err := c.CleanupSession("sess-a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.FileExists(t, keep[0].LocalPath)

	removed, err = c.CleanupSession("sess-a")
	require.NoError(t, err)
	assert.Zero(t, removed)
}
