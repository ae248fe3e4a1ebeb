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

// Package encryptor seals session chunks with XChaCha20-Poly1305. Every
// chunk gets its own key, derived from a versioned master key and a fresh
// 32-byte salt through HKDF over BLAKE2b-512. The artifact layout is
// [salt(32) | nonce(24) | tag(16) | ciphertext], so a file is always
// decryptable from itself plus the master key version named by its ref.
package encryptor

import (
	"crypto/rand"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
)

const (
	// MasterKeySize is the required master key length.
	MasterKeySize = 32

	// SaltSize is the per-chunk HKDF salt length.
	SaltSize = 32

	// infoPrefix is the fixed HKDF info prefix; the full info string is
	// infoPrefix + sessionId + ":" + chunkId.
	infoPrefix = "lucid-chunk-encryption:"
)

var (
	chunksEncryptedCounter = metrics.NewCounter("encryptor", "chunks_encrypted_total", "Chunks sealed")
	chunksDecryptedCounter = metrics.NewCounter("encryptor", "chunks_decrypted_total", "Chunks opened")
	tagFailureCounter      = metrics.NewCounter("encryptor", "tag_failures_total", "Authentication tag rejections")
)

// Ref points at one encrypted chunk artifact. It carries everything needed
// to open the file again except the master key itself.
type Ref struct {
	ChunkID   string    `json:"chunkId"`
	SessionID string    `json:"sessionId"`
	Nonce     []byte    `json:"nonce"`
	Tag       []byte    `json:"tag"`
	KeyID     string    `json:"keyId"`
	FilePath  string    `json:"filePath"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds the encryptor knobs. A nil MasterKey means generate one.
type Config struct {
	Dir       string
	MasterKey []byte
	KeyID     string
}

type cacheKey struct {
	sessionID string
	chunkID   string
	saltHex   string
}

// Encryptor seals and opens chunk artifacts. Master keys are versioned:
// rotation installs a new current version but keeps old versions readable,
// since every ref names the version that sealed it.
type Encryptor struct {
	dir string

	mu        sync.RWMutex
	keys      map[string][]byte
	currentID string
	keySeq    int
	cache     map[cacheKey][]byte

	log *log.Entry
}

// New returns an encryptor writing artifacts under cfg.Dir. The initial
// master key version is labeled cfg.KeyID, "key-001" when unset.
func New(cfg Config) (*Encryptor, error) {
	if cfg.Dir == "" {
		return nil, lucerr.New(lucerr.Validation, "encryptor directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, "creating encrypted chunk directory")
	}
	master := cfg.MasterKey
	if master == nil {
		master = make([]byte, MasterKeySize)
		if _, err := rand.Read(master); err != nil {
			return nil, lucerr.Wrap(lucerr.Validation, err, "generating master key")
		}
	}
	if len(master) != MasterKeySize {
		return nil, lucerr.Newf(lucerr.Validation, "master key must be %d bytes, got %d", MasterKeySize, len(master))
	}
	keyID := cfg.KeyID
	if keyID == "" {
		keyID = "key-001"
	}
	e := &Encryptor{
		dir:       cfg.Dir,
		keys:      map[string][]byte{keyID: append([]byte(nil), master...)},
		currentID: keyID,
		keySeq:    1,
		cache:     make(map[cacheKey][]byte),
		log:       log.WithField("component", "encryptor"),
	}
	return e, nil
}

// CurrentKeyID reports the master key version new chunks are sealed with.
func (e *Encryptor) CurrentKeyID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentID
}

// EncryptChunk seals plaintext under a fresh salt and nonce and writes the
// artifact <chunkId>.enc. An empty keyID selects the current master key
// version; a named version must exist.
func (e *Encryptor) EncryptChunk(plaintext []byte, chunkID, sessionID, keyID string) (*Ref, error) {
	if chunkID == "" || sessionID == "" {
		return nil, lucerr.New(lucerr.Validation, "chunk id and session id are required")
	}
	e.mu.RLock()
	if keyID == "" {
		keyID = e.currentID
	}
	master, ok := e.keys[keyID]
	e.mu.RUnlock()
	if !ok {
		return nil, lucerr.Newf(lucerr.Validation, "unknown master key version %q", keyID)
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "generating salt")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "generating nonce")
	}

	key, err := e.deriveKey(master, salt, sessionID, chunkID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "creating cipher")
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ct := sealed[:len(sealed)-aead.Overhead()]
	tag := sealed[len(sealed)-aead.Overhead():]

	buf := make([]byte, 0, params.ChunkFileHeaderSize+len(ct))
	buf = append(buf, salt...)
	buf = append(buf, nonce...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)

	path := filepath.Join(e.dir, chunkID+".enc")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, fmt.Sprintf("writing encrypted chunk %s", chunkID))
	}
	chunksEncryptedCounter.Inc()

	return &Ref{
		ChunkID:   chunkID,
		SessionID: sessionID,
		Nonce:     append([]byte(nil), nonce...),
		Tag:       append([]byte(nil), tag...),
		KeyID:     keyID,
		FilePath:  path,
		Size:      int64(len(buf)),
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecryptChunk opens an encrypted artifact, re-deriving the chunk key from
// the salt stored in the file. Tag rejection is an integrity failure and
// leaves the derived-key cache untouched.
func (e *Encryptor) DecryptChunk(ref *Ref) ([]byte, error) {
	data, err := os.ReadFile(ref.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, lucerr.Wrap(lucerr.NotFound, err, "reading encrypted chunk")
		}
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, "reading encrypted chunk")
	}
	if len(data) < params.ChunkFileHeaderSize {
		return nil, lucerr.Newf(lucerr.Integrity, "encrypted chunk %s truncated: %d bytes", ref.ChunkID, len(data))
	}
	salt := data[:SaltSize]
	nonce := data[SaltSize : SaltSize+chacha20poly1305.NonceSizeX]
	tag := data[SaltSize+chacha20poly1305.NonceSizeX : params.ChunkFileHeaderSize]
	ct := data[params.ChunkFileHeaderSize:]

	e.mu.RLock()
	master, ok := e.keys[ref.KeyID]
	e.mu.RUnlock()
	if !ok {
		return nil, lucerr.Newf(lucerr.Validation, "unknown master key version %q", ref.KeyID)
	}
	key, err := e.deriveKey(master, salt, ref.SessionID, ref.ChunkID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "creating cipher")
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		tagFailureCounter.Inc()
		return nil, lucerr.Newf(lucerr.Integrity, "chunk %s failed authentication", ref.ChunkID)
	}
	chunksDecryptedCounter.Inc()
	return plaintext, nil
}

// RotateMasterKey installs a new current master key version and clears the
// derived-key cache. Old versions stay registered so existing refs remain
// readable. A nil newKey means generate one; the active key is returned.
func (e *Encryptor) RotateMasterKey(newKey []byte) ([]byte, error) {
	if newKey == nil {
		newKey = make([]byte, MasterKeySize)
		if _, err := rand.Read(newKey); err != nil {
			return nil, lucerr.Wrap(lucerr.Validation, err, "generating master key")
		}
	}
	if len(newKey) != MasterKeySize {
		return nil, lucerr.Newf(lucerr.Validation, "master key must be %d bytes, got %d", MasterKeySize, len(newKey))
	}
	e.mu.Lock()
	e.keySeq++
	id := fmt.Sprintf("key-%03d", e.keySeq)
	e.keys[id] = append([]byte(nil), newKey...)
	e.currentID = id
	e.cache = make(map[cacheKey][]byte)
	e.mu.Unlock()

	e.log.WithField("keyId", id).Info("master key rotated")
	return newKey, nil
}

// deriveKey runs HKDF(BLAKE2b-512, master, salt, info) for a chunk,
// consulting the derived-key cache first. The info string format is part
// of the artifact contract and must not change.
func (e *Encryptor) deriveKey(master, salt []byte, sessionID, chunkID string) ([]byte, error) {
	ck := cacheKey{sessionID: sessionID, chunkID: chunkID, saltHex: fmt.Sprintf("%x", salt)}
	e.mu.RLock()
	if key, ok := e.cache[ck]; ok {
		e.mu.RUnlock()
		return key, nil
	}
	e.mu.RUnlock()

	info := infoPrefix + sessionID + ":" + chunkID
	r := hkdf.New(func() hash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	}, master, salt, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "deriving chunk key")
	}

	e.mu.Lock()
	e.cache[ck] = key
	e.mu.Unlock()
	return key, nil
}

// cachedKeys reports the derived-key cache size, for tests.
func (e *Encryptor) cachedKeys() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
