package localstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestore/localstore"
)

func TestAddHasGet(t *testing.T) {
	ctx := context.Background()
	s, err := localstore.Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("hello, hugefs")
	h := hugehash.SumBytes(data)

	has, err := s.Has(ctx, h)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, s.Add(ctx, h, data))

	has, err = s.Has(ctx, h)
	require.NoError(t, err)
	require.True(t, has)

	got, err := s.Get(ctx, h, 0, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := localstore.Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("idempotent")
	h := hugehash.SumBytes(data)

	require.NoError(t, s.Add(ctx, h, data))
	require.NoError(t, s.Add(ctx, h, data))
}

func TestMutableFileLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := localstore.Open(t.TempDir())
	require.NoError(t, err)

	f, ok, err := s.CreateFile(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.Write(ctx, 0, []byte("hello")))
	require.NoError(t, f.Write(ctx, 5, []byte(", world")))
	require.EqualValues(t, 12, f.Len())

	got, err := f.Read(ctx, 0, 12)
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(got))

	length, hash, err := f.Finish(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 12, length)
	require.Equal(t, hugehash.SumBytes([]byte("hello, world")), hash)
	require.NoError(t, f.Close())

	has, err := s.Has(ctx, hash)
	require.NoError(t, err)
	require.True(t, has)
}

func TestOpenFileReopensByID(t *testing.T) {
	ctx := context.Background()
	s, err := localstore.Open(t.TempDir())
	require.NoError(t, err)

	f, _, err := s.CreateFile(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Write(ctx, 0, []byte("partial")))
	id := f.ID()
	f.Keep()
	require.NoError(t, f.Close())

	reopened, ok, err := s.OpenFile(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, reopened)

	got, err := reopened.Read(ctx, 0, 7)
	require.NoError(t, err)
	require.Equal(t, "partial", string(got))
	require.NoError(t, reopened.Close())
}

func TestOpenFileMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := localstore.Open(t.TempDir())
	require.NoError(t, err)

	f, ok, err := s.OpenFile(ctx, "99999.12345")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, f)
}

func TestCreateFileDiscardedWithoutKeep(t *testing.T) {
	ctx := context.Background()
	s, err := localstore.Open(t.TempDir())
	require.NoError(t, err)

	f, _, err := s.CreateFile(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Write(ctx, 0, []byte("discard me")))
	id := f.ID()
	require.NoError(t, f.Close())

	_, ok, err := s.OpenFile(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}
