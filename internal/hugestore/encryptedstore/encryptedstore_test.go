package encryptedstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestore"
	"github.com/hugefs/hugefs/internal/hugestore/encryptedstore"
)

// memStore is a minimal in-memory hugestore.Store used only to
// exercise encryptedstore without touching a filesystem.
type memStore struct {
	blobs map[hugehash.Hash][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: map[hugehash.Hash][]byte{}}
}

func (m *memStore) Add(_ context.Context, h hugehash.Hash, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[h] = cp
	return nil
}

func (m *memStore) Has(_ context.Context, h hugehash.Hash) (bool, error) {
	_, ok := m.blobs[h]
	return ok, nil
}

func (m *memStore) Get(_ context.Context, h hugehash.Hash, offset uint64, size int) ([]byte, error) {
	data, ok := m.blobs[h]
	if !ok {
		return nil, hugeerr.New(hugeerr.KindNoSuchHash, h.Hex())
	}
	end := offset + uint64(size)
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[offset:end], nil
}

func (m *memStore) CreateFile(_ context.Context) (hugestore.MutableFile, bool, error) {
	return nil, false, nil
}

func (m *memStore) OpenFile(_ context.Context, _ hugestore.MutableFileID) (hugestore.MutableFile, bool, error) {
	return nil, false, nil
}

func (m *memStore) GetConfig() (hugestore.Config, error) {
	return hugestore.Config{}, nil
}

func (m *memStore) URL() string {
	return "mem://test"
}

func key() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestAddGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := newMemStore()
	es := encryptedstore.New(inner, key())

	plaintext := []byte("the eagle flies at midnight, repeated many times over to span blocks")
	hash := hugehash.SumBytes(plaintext)

	require.NoError(t, es.Add(ctx, hash, plaintext))

	got, err := es.Get(ctx, hash, 0, len(plaintext))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestInnerStoreNeverSeesPlaintext(t *testing.T) {
	ctx := context.Background()
	inner := newMemStore()
	es := encryptedstore.New(inner, key())

	plaintext := []byte("sensitive content that must not appear in the inner store")
	hash := hugehash.SumBytes(plaintext)
	require.NoError(t, es.Add(ctx, hash, plaintext))

	_, ok := inner.blobs[hash]
	require.False(t, ok, "inner store must not hold a blob under the plaintext hash")

	found := false
	for _, blob := range inner.blobs {
		if string(blob) == string(plaintext) {
			found = true
		}
	}
	require.False(t, found, "inner store must not hold the plaintext bytes")
}

func TestPartialReadAtOffset(t *testing.T) {
	ctx := context.Background()
	inner := newMemStore()
	es := encryptedstore.New(inner, key())

	plaintext := make([]byte, 1000)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}
	hash := hugehash.SumBytes(plaintext)
	require.NoError(t, es.Add(ctx, hash, plaintext))

	for _, offset := range []int{0, 1, 15, 16, 17, 200, 999} {
		got, err := es.Get(ctx, hash, uint64(offset), 1)
		require.NoError(t, err)
		require.Equal(t, plaintext[offset:offset+1], got, "offset %d", offset)
	}
}

func TestCreateFileUnsupported(t *testing.T) {
	es := encryptedstore.New(newMemStore(), key())
	_, ok, err := es.CreateFile(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
