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

// Package chunker cuts a session byte stream into ordered, compressed
// chunks. Each chunk is written to local disk as a zstd artifact named
// <sessionId>_chunk_<6-digit index>.zst and described by a ChunkMetadata
// record carrying the pre-compression SHA-256.
package chunker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
)

var (
	chunksCreatedCounter   = metrics.NewCounter("chunker", "chunks_created_total", "Chunks cut and compressed")
	chunkBytesInCounter    = metrics.NewCounter("chunker", "bytes_in_total", "Raw bytes consumed")
	chunkBytesOutCounter   = metrics.NewCounter("chunker", "bytes_compressed_total", "Compressed bytes written")
	chunkIntegrityFailures = metrics.NewCounter("chunker", "integrity_failures_total", "Re-read hash mismatches")
)

// Config holds the chunker knobs. TargetSize outside [MinChunkSize,
// MaxChunkSize] is clamped, zero means DefaultChunkSize.
type Config struct {
	Dir        string
	TargetSize int64
}

// Chunker cuts byte streams into compressed chunk artifacts. Safe for
// concurrent use; the zstd coders are stateless in EncodeAll/DecodeAll
// mode.
type Chunker struct {
	dir        string
	targetSize int64

	enc *zstd.Encoder
	dec *zstd.Decoder
	log *log.Entry
}

// New returns a chunker writing artifacts under cfg.Dir, creating the
// directory if needed.
func New(cfg Config) (*Chunker, error) {
	if cfg.Dir == "" {
		return nil, lucerr.New(lucerr.Validation, "chunker directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, "creating chunk directory")
	}
	target := cfg.TargetSize
	if target == 0 {
		target = params.DefaultChunkSize
	}
	if target < params.MinChunkSize {
		target = params.MinChunkSize
	} else if target > params.MaxChunkSize {
		target = params.MaxChunkSize
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "creating zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "creating zstd decoder")
	}
	return &Chunker{
		dir:        cfg.Dir,
		targetSize: target,
		enc:        enc,
		dec:        dec,
		log:        log.WithField("component", "chunker"),
	}, nil
}

// TargetSize reports the clamped chunk target in bytes.
func (c *Chunker) TargetSize() int64 { return c.targetSize }

// ChunkBuffer splits data into target-size chunks (the last chunk may be
// smaller), compresses and stores each, and returns the ordered metadata.
// Empty input yields zero chunks.
func (c *Chunker) ChunkBuffer(sessionID string, data []byte) ([]*types.ChunkMetadata, error) {
	if sessionID == "" {
		return nil, lucerr.New(lucerr.Validation, "session id is required")
	}
	var metas []*types.ChunkMetadata
	for off, idx := int64(0), uint32(0); off < int64(len(data)); idx++ {
		end := off + c.targetSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		meta, err := c.writeChunk(sessionID, idx, data[off:end])
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
		off = end
	}
	return metas, nil
}

// ChunkStream consumes r, emitting a chunk whenever the accumulator
// reaches the target size; a final partial buffer becomes the last chunk.
// The metadata channel is closed when the stream ends; errs delivers at
// most one error. Cancellation via ctx stops between chunks.
func (c *Chunker) ChunkStream(ctx context.Context, sessionID string, r io.Reader) (<-chan *types.ChunkMetadata, <-chan error) {
	out := make(chan *types.ChunkMetadata)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		if sessionID == "" {
			errs <- lucerr.New(lucerr.Validation, "session id is required")
			return
		}
		var (
			idx uint32
			buf = make([]byte, 0, c.targetSize)
			tmp = make([]byte, 256*1024)
		)
		emit := func(chunk []byte) error {
			meta, err := c.writeChunk(sessionID, idx, chunk)
			if err != nil {
				return err
			}
			idx++
			select {
			case out <- meta:
				return nil
			case <-ctx.Done():
				return lucerr.Wrap(lucerr.PipelineCanceled, ctx.Err(), "chunk stream canceled")
			}
		}
		for {
			if err := ctx.Err(); err != nil {
				errs <- lucerr.Wrap(lucerr.PipelineCanceled, err, "chunk stream canceled")
				return
			}
			n, err := r.Read(tmp)
			if n > 0 {
				buf = append(buf, tmp[:n]...)
				for int64(len(buf)) >= c.targetSize {
					if emitErr := emit(buf[:c.targetSize]); emitErr != nil {
						errs <- emitErr
						return
					}
					buf = append(buf[:0], buf[c.targetSize:]...)
				}
			}
			if err == io.EOF {
				if len(buf) > 0 {
					if emitErr := emit(buf); emitErr != nil {
						errs <- emitErr
						return
					}
				}
				return
			}
			if err != nil {
				errs <- fmt.Errorf("reading session stream: %w", err)
				return
			}
		}
	}()
	return out, errs
}

// ReadChunk loads and decompresses a chunk artifact, re-verifying the
// stored pre-compression SHA-256. A mismatch is an integrity failure.
func (c *Chunker) ReadChunk(meta *types.ChunkMetadata) ([]byte, error) {
	compressed, err := os.ReadFile(meta.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lucerr.Wrap(lucerr.NotFound, err, "reading chunk artifact")
		}
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, "reading chunk artifact")
	}
	plain, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		chunkIntegrityFailures.Inc()
		return nil, lucerr.Wrap(lucerr.Integrity, err, "decompressing chunk artifact")
	}
	sum := sha256.Sum256(plain)
	if common.Hash(sum) != meta.PlaintextSHA256 {
		chunkIntegrityFailures.Inc()
		return nil, lucerr.Newf(lucerr.Integrity, "chunk %s hash mismatch", meta.ChunkID())
	}
	return plain, nil
}

// ReadCompressed loads a chunk's compressed artifact without decompressing,
// verifying the stored compressed-bytes BLAKE3. The result is what the
// encryptor seals.
func (c *Chunker) ReadCompressed(meta *types.ChunkMetadata) ([]byte, error) {
	compressed, err := os.ReadFile(meta.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lucerr.Wrap(lucerr.NotFound, err, "reading chunk artifact")
		}
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, "reading chunk artifact")
	}
	if crypto.Blake3Hash(compressed) != meta.CompressedBlake3 {
		chunkIntegrityFailures.Inc()
		return nil, lucerr.Newf(lucerr.Integrity, "chunk %s compressed artifact mismatch", meta.ChunkID())
	}
	return compressed, nil
}

// CleanupSession removes every artifact belonging to a session, returning
// how many files were deleted. Encrypted artifacts colocated under the
// same prefix are removed too.
func (c *Chunker) CleanupSession(sessionID string) (int, error) {
	if sessionID == "" {
		return 0, lucerr.New(lucerr.Validation, "session id is required")
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, sessionID+"_chunk_*"))
	if err != nil {
		return 0, lucerr.Wrap(lucerr.Validation, err, "globbing chunk artifacts")
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return removed, lucerr.Wrap(lucerr.StoreUnavailable, err, "removing chunk artifact")
		}
		removed++
	}
	if removed > 0 {
		c.log.WithFields(log.Fields{"session": sessionID, "files": removed}).Debug("session artifacts removed")
	}
	return removed, nil
}

// writeChunk compresses one cut and persists it, returning the metadata.
func (c *Chunker) writeChunk(sessionID string, idx uint32, chunk []byte) (*types.ChunkMetadata, error) {
	sum := sha256.Sum256(chunk)
	compressed := c.enc.EncodeAll(chunk, nil)

	meta := &types.ChunkMetadata{
		SessionID:        sessionID,
		SequenceIndex:    idx,
		PlaintextSHA256:  common.Hash(sum),
		CompressedBlake3: crypto.Blake3Hash(compressed),
		OriginalSize:     int64(len(chunk)),
		CompressedSize:   int64(len(compressed)),
		CompressionRatio: float64(len(compressed)) / float64(len(chunk)),
		CreatedAt:        time.Now().UTC(),
	}
	meta.LocalPath = filepath.Join(c.dir, meta.ChunkID()+".zst")

	if err := writeFileAtomic(meta.LocalPath, compressed); err != nil {
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, fmt.Sprintf("writing chunk %s", meta.ChunkID()))
	}
	chunksCreatedCounter.Inc()
	chunkBytesInCounter.Add(float64(len(chunk)))
	chunkBytesOutCounter.Add(float64(len(compressed)))
	return meta, nil
}

// writeFileAtomic writes via a temp file and rename so a crashed run never
// leaves a half-written artifact behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
