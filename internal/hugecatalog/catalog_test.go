package hugecatalog_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestore"
)

func open(t *testing.T) *hugecatalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := hugecatalog.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRootBootstrap(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	st, err := c.Stat(ctx, c.RootIno())
	require.NoError(t, err)
	require.Equal(t, hugecatalog.KindDirectory, st.Kind)
	require.EqualValues(t, 0, st.Length)
}

func TestCreateLookupDirectory(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	st, err := c.CreateInode(ctx, c.RootIno(), "subdir", true, 0o755, 1000, 1000, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)
	require.Equal(t, hugecatalog.KindDirectory, st.Kind)

	found, err := c.Lookup(ctx, c.RootIno(), "subdir")
	require.NoError(t, err)
	require.Equal(t, st.Ino, found.Ino)
}

func TestCreateExclusiveRejectsDuplicate(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	_, err := c.CreateInode(ctx, c.RootIno(), "f", true, 0o644, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)

	_, err = c.CreateInode(ctx, c.RootIno(), "f", true, 0o644, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.Error(t, err)
	require.Equal(t, hugeerr.KindEntryExists, hugeerr.KindOf(err))
}

func TestDirectoryLengthTracksLiveEntries(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	_, err := c.CreateInode(ctx, c.RootIno(), "a", true, 0o644, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)
	_, err = c.CreateInode(ctx, c.RootIno(), "b", true, 0o644, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)

	root, err := c.Stat(ctx, c.RootIno())
	require.NoError(t, err)
	require.EqualValues(t, 2, root.Length)

	require.NoError(t, c.RemoveEntry(ctx, c.RootIno(), "a"))

	root, err = c.Stat(ctx, c.RootIno())
	require.NoError(t, err)
	require.EqualValues(t, 1, root.Length)
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	dir, err := c.CreateInode(ctx, c.RootIno(), "dir", true, 0o755, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)

	_, err = c.CreateInode(ctx, dir.Ino, "child", true, 0o644, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)

	err = c.RemoveEntry(ctx, c.RootIno(), "dir")
	require.Error(t, err)
	require.Equal(t, hugeerr.KindNotEmpty, hugeerr.KindOf(err))
}

func TestRename(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	_, err := c.CreateInode(ctx, c.RootIno(), "old", true, 0o644, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)

	require.NoError(t, c.Rename(ctx, c.RootIno(), "old", c.RootIno(), "new"))

	_, err = c.Lookup(ctx, c.RootIno(), "old")
	require.Error(t, err)

	_, err = c.Lookup(ctx, c.RootIno(), "new")
	require.NoError(t, err)
}

func TestMutableFileLifecycleThroughCatalog(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	st, err := c.CreateInode(ctx, c.RootIno(), "m", true, 0o644, 0, 0,
		hugecatalog.NewFileKind{Kind: hugecatalog.KindMutableRegular, MutableFileID: "123.456"})
	require.NoError(t, err)
	require.Equal(t, hugestore.MutableFileID("123.456"), st.MutableFileID)

	require.NoError(t, c.UpdateLengthAtLeast(ctx, st.Ino, 100))
	require.NoError(t, c.UpdateLengthAtLeast(ctx, st.Ino, 50)) // must not shrink

	st, err = c.Stat(ctx, st.Ino)
	require.NoError(t, err)
	require.EqualValues(t, 100, st.Length)

	hash := hugehash.SumBytes([]byte("final contents"))
	require.NoError(t, c.Finalize(ctx, st.Ino, 14, hash))

	st, err = c.Stat(ctx, st.Ino)
	require.NoError(t, err)
	require.Equal(t, hugecatalog.KindImmutableRegular, st.Kind)
	require.Equal(t, hash, st.Hash)
	require.EqualValues(t, 14, st.Length)
}

func TestSymlink(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	st, err := c.CreateInode(ctx, c.RootIno(), "link", true, 0o777, 0, 0,
		hugecatalog.NewFileKind{Kind: hugecatalog.KindSymlink, SymlinkTarget: "target/path"})
	require.NoError(t, err)

	target, err := c.Readlink(ctx, st.Ino)
	require.NoError(t, err)
	require.Equal(t, "target/path", target)
}

func TestHardLinkSharesInode(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	hash := hugehash.SumBytes([]byte("immutable content"))
	st, err := c.CreateInode(ctx, c.RootIno(), "orig", true, 0o644, 0, 0,
		hugecatalog.NewFileKind{Kind: hugecatalog.KindImmutableRegular, Hash: hash, Length: 17})
	require.NoError(t, err)

	_, err = c.Link(ctx, st.Ino, c.RootIno(), "linked")
	require.NoError(t, err)

	a, err := c.Lookup(ctx, c.RootIno(), "orig")
	require.NoError(t, err)
	b, err := c.Lookup(ctx, c.RootIno(), "linked")
	require.NoError(t, err)
	require.Equal(t, a.Ino, b.Ino)
	require.EqualValues(t, 2, b.NLink)
}

func TestAggregates(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	hash := hugehash.SumBytes([]byte("twelve bytes"))
	_, err := c.CreateInode(ctx, c.RootIno(), "f", true, 0o644, 0, 0,
		hugecatalog.NewFileKind{Kind: hugecatalog.KindImmutableRegular, Hash: hash, Length: 12})
	require.NoError(t, err)

	agg, err := c.Aggregates(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, agg.InodeCount, uint64(2)) // root + f
	require.EqualValues(t, 12, agg.TotalFileBytes)
}

func TestLookupPath(t *testing.T) {
	c := open(t)
	ctx := context.Background()

	dir, err := c.CreateInode(ctx, c.RootIno(), "a", true, 0o755, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)
	file, err := c.CreateInode(ctx, dir.Ino, "b", true, 0o644, 0, 0, hugecatalog.NewFileKind{Kind: hugecatalog.KindDirectory})
	require.NoError(t, err)

	ino, err := c.LookupPath(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, file.Ino, ino)
}
