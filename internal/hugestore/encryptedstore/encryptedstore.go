// Package encryptedstore wraps a hugestore.Store with AES-256-CTR
// encryption: the caller's content hash (of the plaintext) is itself
// encrypted to produce the hash under which the inner store holds the
// ciphertext, so the inner store never sees plaintext hashes.
package encryptedstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"math/big"

	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugelog"
	"github.com/hugefs/hugefs/internal/hugestore"
)

var logger = hugelog.New("store.encrypted")

// KeyFingerprint identifies the symmetric key used by a Store,
// without revealing it: the hash of the key's raw bytes.
type KeyFingerprint = hugehash.Hash

// Store wraps an inner hugestore.Store, encrypting blob content and
// the hash used to address it under a single 32-byte AES-256 key.
//
// Mutable files are not supported: a mutable file's content changes
// as it is written, but the hash used to derive its ciphertext
// identity is the *plaintext* hash, which isn't known until the file
// is finished. CreateFile and OpenFile therefore always report
// ok=false, forcing writers onto a plain store that is finalized and
// then copied through Add.
type Store struct {
	inner hugestore.Store
	key   [32]byte
}

// New wraps inner with encryption under key, a raw 32-byte AES-256
// key.
func New(inner hugestore.Store, key [32]byte) *Store {
	return &Store{inner: inner, key: key}
}

// Fingerprint returns the fingerprint hugefs uses to identify a key
// without exposing it.
func Fingerprint(key [32]byte) KeyFingerprint {
	return hugehash.SumBytes(key[:])
}

func (s *Store) GetConfig() (hugestore.Config, error) {
	fp := Fingerprint(s.key)
	return hugestore.Config{KeyFingerprint: &fp}, nil
}

func (s *Store) URL() string {
	return "encrypted+" + s.inner.URL()
}

func (s *Store) block() (cipher.Block, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("constructing AES cipher: %w", err)
	}
	return block, nil
}

// cipherHash maps a plaintext content hash to the hash the inner
// store addresses its ciphertext by: the hash itself used as a
// counter-mode IV, applied to the hash's own bytes. This is safe
// because the keystream block(s) consumed mapping the hash are never
// reused — streamAt always begins body encryption at a byte offset
// past hugehash.Size, shifting the counter beyond what this call
// consumes.
func (s *Store) cipherHash(plainHash hugehash.Hash) (hugehash.Hash, error) {
	block, err := s.block()
	if err != nil {
		return hugehash.Hash{}, err
	}

	stream := cipher.NewCTR(block, plainHash[:aes.BlockSize])

	cipherHash := plainHash
	stream.XORKeyStream(cipherHash[:], plainHash[:])

	logger.Debugf("mapped hash %s -> %s", plainHash.Hex(), cipherHash.Hex())
	return cipherHash, nil
}

// streamAt returns a CTR keystream for plainHash's body, seeked to
// body byte offset (i.e. already shifted past the hugehash.Size
// bytes consumed by cipherHash).
func (s *Store) streamAt(plainHash hugehash.Hash, offset uint64) (cipher.Stream, error) {
	block, err := s.block()
	if err != nil {
		return nil, err
	}

	return seekedCTR(block, plainHash[:aes.BlockSize], uint64(hugehash.Size)+offset), nil
}

// seekedCTR returns a CTR stream for iv, advanced to byteOffset
// without processing the skipped bytes: the counter embedded in the
// IV is incremented by the number of whole blocks skipped, and at
// most one partial block is then discarded.
func seekedCTR(block cipher.Block, iv []byte, byteOffset uint64) cipher.Stream {
	blockSize := uint64(block.BlockSize())
	blockIndex := byteOffset / blockSize
	within := byteOffset % blockSize

	counter := new(big.Int).SetBytes(iv)
	counter.Add(counter, new(big.Int).SetUint64(blockIndex))
	counter.Mod(counter, new(big.Int).Lsh(big.NewInt(1), uint(blockSize)*8))

	seeked := make([]byte, blockSize)
	counter.FillBytes(seeked)

	stream := cipher.NewCTR(block, seeked)
	if within > 0 {
		discard := make([]byte, within)
		stream.XORKeyStream(discard, discard)
	}
	return stream
}

func (s *Store) Add(ctx context.Context, plainHash hugehash.Hash, data []byte) error {
	cipherHash, err := s.cipherHash(plainHash)
	if err != nil {
		return err
	}

	stream, err := s.streamAt(plainHash, 0)
	if err != nil {
		return err
	}

	ciphertext := make([]byte, len(data))
	stream.XORKeyStream(ciphertext, data)

	return s.inner.Add(ctx, cipherHash, ciphertext)
}

func (s *Store) Has(ctx context.Context, plainHash hugehash.Hash) (bool, error) {
	cipherHash, err := s.cipherHash(plainHash)
	if err != nil {
		return false, err
	}
	return s.inner.Has(ctx, cipherHash)
}

func (s *Store) Get(ctx context.Context, plainHash hugehash.Hash, offset uint64, size int) ([]byte, error) {
	cipherHash, err := s.cipherHash(plainHash)
	if err != nil {
		return nil, err
	}

	data, err := s.inner.Get(ctx, cipherHash, offset, size)
	if err != nil {
		return nil, err
	}

	stream, err := s.streamAt(plainHash, offset)
	if err != nil {
		return nil, err
	}
	stream.XORKeyStream(data, data)

	return data, nil
}

// CreateFile always reports ok=false: see the Store doc comment.
func (s *Store) CreateFile(_ context.Context) (hugestore.MutableFile, bool, error) {
	return nil, false, nil
}

// OpenFile always reports ok=false: see the Store doc comment.
func (s *Store) OpenFile(_ context.Context, _ hugestore.MutableFileID) (hugestore.MutableFile, bool, error) {
	return nil, false, nil
}
