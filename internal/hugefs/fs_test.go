package hugefs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugefs"
	"github.com/hugefs/hugefs/internal/hugestate"
	"github.com/hugefs/hugefs/internal/hugestore"
	"github.com/hugefs/hugefs/internal/hugestore/localstore"
)

// newTestState wires a fresh catalog and a single local store,
// returning the hugestate.State a server would be built from.
func newTestState(t *testing.T) *hugestate.State {
	t.Helper()
	cat, err := hugecatalog.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store, err := localstore.Open(t.TempDir())
	require.NoError(t, err)

	return hugestate.New(cat, []hugestore.Store{store})
}

func TestServerConfigRejectsIllegalPermBits(t *testing.T) {
	state := newTestState(t)
	_, err := hugefs.NewServer(hugefs.ServerConfig{
		State:    state,
		FilePerm: os.ModeSetuid | 0o644,
	})
	require.Error(t, err)
}

func TestNewServerSucceedsWithValidConfig(t *testing.T) {
	state := newTestState(t)
	_, err := hugefs.NewServer(hugefs.ServerConfig{
		State:    state,
		UID:      1000,
		GID:      1000,
		FilePerm: 0o644,
		DirPerm:  0o755,
	})
	require.NoError(t, err)
}

// TestCatalogAndStoreWiringMatchesWhatFsOpsWouldDo exercises the same
// sequence a kernel CreateFile+WriteFile+Finalize would drive, but
// directly against the catalog and store so it can run without a
// mounted kernel fuse connection.
func TestCatalogAndStoreWiringMatchesWhatFsOpsWouldDo(t *testing.T) {
	state := newTestState(t)
	ctx := context.Background()

	store := state.Stores[0]
	mf, ok, err := store.CreateFile(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mf.Write(ctx, 0, []byte("hello world")))

	st, err := state.Catalog.CreateInode(ctx, state.Catalog.RootIno(), "greeting", true,
		0o644, 1000, 1000, hugecatalog.NewFileKind{Kind: hugecatalog.KindMutableRegular, MutableFileID: mf.ID()})
	require.NoError(t, err)
	require.NoError(t, state.Catalog.UpdateLengthAtLeast(ctx, st.Ino, 11))

	length, hash, err := mf.Finish(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 11, length)
	require.NoError(t, state.Catalog.Finalize(ctx, st.Ino, length, hash))

	final, err := state.Catalog.Stat(ctx, st.Ino)
	require.NoError(t, err)
	require.Equal(t, hugecatalog.KindImmutableRegular, final.Kind)

	data, err := store.Get(ctx, final.Hash, 0, 11)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}
