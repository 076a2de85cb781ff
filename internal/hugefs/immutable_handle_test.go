package hugefs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestate"
	"github.com/hugefs/hugefs/internal/hugestore"
	"github.com/hugefs/hugefs/internal/hugestore/localstore"
)

// countingStore wraps a hugestore.Store and counts Get calls, so a
// test can assert a sticky handle stops probing a store once another
// store has latched.
type countingStore struct {
	hugestore.Store
	gets int
}

func (s *countingStore) Get(ctx context.Context, fileHash hugehash.Hash, offset uint64, size int) ([]byte, error) {
	s.gets++
	return s.Store.Get(ctx, fileHash, offset, size)
}

// newFailoverState builds a catalog plus two local stores, writes
// content only into the second store, and finalizes an inode
// pointing at it, returning the fixture for exercising readImmutable's
// fail-over across stores the way OpenFile+ReadFile would drive it.
func newFailoverState(t *testing.T) (state *hugestate.State, store1 *countingStore, store2 hugestore.Store, data []byte, ino hugecatalog.Ino, hash hugehash.Hash) {
	t.Helper()
	ctx := context.Background()

	cat, err := hugecatalog.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	inner1, err := localstore.Open(t.TempDir())
	require.NoError(t, err)
	store1 = &countingStore{Store: inner1}

	store2, err = localstore.Open(t.TempDir())
	require.NoError(t, err)

	data = []byte("replicated only on the second store")

	mf, ok, err := store2.CreateFile(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mf.Write(ctx, 0, data))

	state = hugestate.New(cat, []hugestore.Store{store1, store2})

	st, err := cat.CreateInode(ctx, cat.RootIno(), "content", true,
		0o644, 1000, 1000, hugecatalog.NewFileKind{Kind: hugecatalog.KindMutableRegular, MutableFileID: mf.ID()})
	require.NoError(t, err)
	require.NoError(t, cat.UpdateLengthAtLeast(ctx, st.Ino, uint64(len(data))))

	length, hash, err := mf.Finish(ctx)
	require.NoError(t, err)
	require.NoError(t, cat.Finalize(ctx, st.Ino, length, hash))

	has, err := store1.Store.Has(ctx, hash)
	require.NoError(t, err)
	require.False(t, has, "fixture bug: store1 must not hold the hash")

	return state, store1, store2, data, st.Ino, hash
}

// TestNewImmutableHandleStartsUnlatched builds an immutable handle
// from a finalized inode's hash, the way OpenFile's immutable branch
// does, and checks the handle carries no committed store yet and that
// building it made no Get against the first store.
func TestNewImmutableHandleStartsUnlatched(t *testing.T) {
	state, store1, _, _, ino, hash := newFailoverState(t)
	s := &server{state: state, handles: newHandleTable()}

	st, err := state.Catalog.Stat(context.Background(), ino)
	require.NoError(t, err)
	require.Equal(t, hugecatalog.KindImmutableRegular, st.Kind)
	require.Equal(t, hash, st.Hash)

	handleID := s.handles.add(&immutableHandle{hash: st.Hash})

	h, ok := s.handles.get(handleID)
	require.True(t, ok)
	ih, ok := h.(*immutableHandle)
	require.True(t, ok)
	require.Nil(t, ih.stickyStore(), "handle must start with no latched store")
	require.Zero(t, store1.gets, "constructing the handle must not have probed any store")
}

// TestReadImmutableFailsOverAndLatches drives the actual fail-over
// scenario ReadFile hits through s.readImmutable: only the second
// configured store holds the hash, so the first read must skip past
// KindNoSuchHash from the first store, succeed against the second,
// and latch it so a later read never calls the first store's Get
// again. This is spec's "S3 fail-over read" scenario.
func TestReadImmutableFailsOverAndLatches(t *testing.T) {
	state, store1, store2, data, _, hash := newFailoverState(t)
	s := &server{state: state, handles: newHandleTable()}

	h := &immutableHandle{hash: hash}

	got, err := s.readImmutable(context.Background(), h, 0, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, 1, store1.gets, "must have tried the first store once")
	require.Same(t, store2, h.stickyStore(), "must latch the store that actually answered")

	got, err = s.readImmutable(context.Background(), h, 0, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, 1, store1.gets, "a latched handle must not re-probe the first store")
}

// TestReadImmutableReturnsNoSuchHashWhenNoStoreHasIt checks the
// not-found tail of the probe loop still surfaces KindNoSuchHash
// rather than leaving a stale error from an earlier store.
func TestReadImmutableReturnsNoSuchHashWhenNoStoreHasIt(t *testing.T) {
	state, _, _, _, _, _ := newFailoverState(t)
	s := &server{state: state, handles: newHandleTable()}

	missing := hugehash.SumBytes([]byte("never written anywhere"))
	h := &immutableHandle{hash: missing}

	_, err := s.readImmutable(context.Background(), h, 0, 16)
	require.Equal(t, hugeerr.KindNoSuchHash, hugeerr.KindOf(err))
	require.Nil(t, h.stickyStore())
}
