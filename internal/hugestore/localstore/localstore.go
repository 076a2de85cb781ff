// Package localstore implements hugestore.Store over a local
// directory: content-addressed blobs live under "ca/", in-progress
// mutable files under "mutable/".
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugelog"
	"github.com/hugefs/hugefs/internal/hugestore"
)

var logger = hugelog.New("store.local")

// Store is a hugestore.Store backed by a local directory tree.
type Store struct {
	root   string
	config hugestore.Config
}

// storeConfigFile is the on-disk shape of root/store-config.json.
type storeConfigFile struct {
	KeyFingerprintHex string `json:"key_fingerprint,omitempty"`
}

// Open opens (creating if necessary) a LocalStore rooted at dir. A
// store-config.json describing the store's Config may already exist
// in dir; if absent, an empty config is used.
func Open(dir string) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving store root: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "mutable"), 0o755); err != nil {
		return nil, fmt.Errorf("creating mutable dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "ca"), 0o755); err != nil {
		return nil, fmt.Errorf("creating ca dir: %w", err)
	}

	config, err := loadConfig(root)
	if err != nil {
		return nil, err
	}

	return &Store{root: root, config: config}, nil
}

func loadConfig(root string) (hugestore.Config, error) {
	path := filepath.Join(root, "store-config.json")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return hugestore.Config{}, nil
	}
	if err != nil {
		return hugestore.Config{}, fmt.Errorf("reading store config: %w", err)
	}

	var raw storeConfigFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return hugestore.Config{}, fmt.Errorf("parsing store config: %w", err)
	}

	cfg := hugestore.Config{}
	if raw.KeyFingerprintHex != "" {
		fp, err := hugehash.FromHex(raw.KeyFingerprintHex)
		if err != nil {
			return hugestore.Config{}, fmt.Errorf("parsing key fingerprint: %w", err)
		}
		cfg.KeyFingerprint = &fp
	}

	return cfg, nil
}

func (s *Store) pathForHash(h hugehash.Hash) string {
	return filepath.Join(s.root, "ca", h.Hex())
}

func (s *Store) mutablePath(id hugestore.MutableFileID) string {
	return filepath.Join(s.root, "mutable", string(id))
}

func (s *Store) GetConfig() (hugestore.Config, error) {
	return s.config, nil
}

func (s *Store) URL() string {
	return s.root
}

func (s *Store) Add(_ context.Context, fileHash hugehash.Hash, data []byte) error {
	path := s.pathForHash(fileHash)

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	logger.Debugf("writing %s", path)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return hugeerr.Wrap(hugeerr.KindStorageError, path, err)
	}

	return nil
}

func (s *Store) Has(_ context.Context, fileHash hugehash.Hash) (bool, error) {
	_, err := os.Stat(s.pathForHash(fileHash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, hugeerr.Wrap(hugeerr.KindStorageError, s.pathForHash(fileHash), err)
}

func (s *Store) Get(_ context.Context, fileHash hugehash.Hash, offset uint64, size int) ([]byte, error) {
	path := s.pathForHash(fileHash)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, hugeerr.New(hugeerr.KindNoSuchHash, fileHash.Hex())
		}
		return nil, hugeerr.Wrap(hugeerr.KindStorageError, path, err)
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, hugeerr.Wrap(hugeerr.KindStorageError, path, err)
	}

	return buf[:n], nil
}

func (s *Store) CreateFile(_ context.Context) (hugestore.MutableFile, bool, error) {
	id := newMutableFileID()
	path := s.mutablePath(id)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, true, hugeerr.Wrap(hugeerr.KindStorageError, path, err)
	}

	return &mutableFile{root: s.root, path: path, id: id, f: f, keep: false}, true, nil
}

func (s *Store) OpenFile(_ context.Context, id hugestore.MutableFileID) (hugestore.MutableFile, bool, error) {
	path := s.mutablePath(id)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, true, hugeerr.Wrap(hugeerr.KindStorageError, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, true, hugeerr.Wrap(hugeerr.KindStorageError, path, err)
	}

	return &mutableFile{root: s.root, path: path, id: id, f: f, keep: true, length: uint64(info.Size())}, true, nil
}

func newMutableFileID() hugestore.MutableFileID {
	return hugestore.MutableFileID(fmt.Sprintf("%d.%d", os.Getpid(), time.Now().UnixNano()))
}

// mutableFile is a LocalStore-backed hugestore.MutableFile. A single
// mutex serializes read/write/finish/set-length against the
// underlying *os.File, matching local_store.rs's futures::lock::Mutex
// around the file handle.
type mutableFile struct {
	mu     sync.Mutex
	root   string
	path   string
	id     hugestore.MutableFileID
	f      *os.File
	length uint64
	keep   bool
	closed bool
}

func (m *mutableFile) ID() hugestore.MutableFileID {
	return m.id
}

func (m *mutableFile) Len() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.length
}

func (m *mutableFile) Write(_ context.Context, offset uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.f.WriteAt(data, int64(offset)); err != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, m.path, err)
	}

	if end := offset + uint64(len(data)); end > m.length {
		m.length = end
	}
	return nil
}

func (m *mutableFile) Read(_ context.Context, offset uint64, size uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, size)
	n, err := m.f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, hugeerr.Wrap(hugeerr.KindStorageError, m.path, err)
	}
	return buf[:n], nil
}

func (m *mutableFile) SetLength(_ context.Context, length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.f.Truncate(int64(length)); err != nil {
		return hugeerr.Wrap(hugeerr.KindStorageError, m.path, err)
	}
	m.length = length
	return nil
}

func (m *mutableFile) Finish(_ context.Context) (uint64, hugehash.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.f.Seek(0, io.SeekStart); err != nil {
		return 0, hugehash.Hash{}, hugeerr.Wrap(hugeerr.KindStorageError, m.path, err)
	}

	hash, err := hugehash.Sum(m.f)
	if err != nil {
		return 0, hugehash.Hash{}, hugeerr.Wrap(hugeerr.KindStorageError, m.path, err)
	}

	finalPath := filepath.Join(m.root, "ca", hash.Hex())

	if _, err := os.Stat(finalPath); err == nil {
		if err := os.Remove(m.path); err != nil {
			return 0, hugehash.Hash{}, hugeerr.Wrap(hugeerr.KindStorageError, m.path, err)
		}
	} else if err := os.Rename(m.path, finalPath); err != nil {
		return 0, hugehash.Hash{}, hugeerr.Wrap(hugeerr.KindStorageError, m.path, err)
	}

	m.keep = true // the path has been consumed one way or another; Close must not touch it again
	return m.length, hash, nil
}

func (m *mutableFile) Keep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keep = true
}

func (m *mutableFile) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	err := m.f.Close()
	if !m.keep {
		os.Remove(m.path)
	}
	return err
}
