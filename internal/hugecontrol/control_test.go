package hugecontrol_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugecontrol"
	"github.com/hugefs/hugefs/internal/hugestate"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestore"
	"github.com/hugefs/hugefs/internal/hugestore/localstore"
)

func newState(t *testing.T) (*hugestate.State, *localstore.Store) {
	t.Helper()
	cat, err := hugecatalog.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store, err := localstore.Open(t.TempDir())
	require.NoError(t, err)

	return hugestate.New(cat, []hugestore.Store{store}), store
}

func TestStatusOnDirectory(t *testing.T) {
	state, _ := newState(t)

	var out strings.Builder
	req := hugecontrol.Request{Status: &hugecontrol.StatusRequest{Path: "/"}}
	reqBytes, err := json.Marshal(req)
	require.NoError(t, err)

	err = hugecontrol.HandleSession(context.Background(), state, strings.NewReader(string(reqBytes)+"\n"), &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), `"type":"status"`)
	require.Contains(t, out.String(), `"directory"`)
}

func TestStatusOnUnknownPathReturnsError(t *testing.T) {
	state, _ := newState(t)

	var out strings.Builder
	req := hugecontrol.Request{Status: &hugecontrol.StatusRequest{Path: "/nope"}}
	reqBytes, err := json.Marshal(req)
	require.NoError(t, err)

	err = hugecontrol.HandleSession(context.Background(), state, strings.NewReader(string(reqBytes)+"\n"), &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), `"type":"error"`)
}

func TestMalformedRequestReturnsError(t *testing.T) {
	state, _ := newState(t)

	var out strings.Builder
	err := hugecontrol.HandleSession(context.Background(), state, strings.NewReader("not json\n"), &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), `"type":"error"`)
}

func TestMirrorOnSingleStoreHasNothingToDo(t *testing.T) {
	state, store := newState(t)
	ctx := context.Background()

	hash := hugehash.SumBytes([]byte("content"))
	require.NoError(t, store.Add(ctx, hash, []byte("content")))

	_, err := state.Catalog.CreateInode(ctx, state.Catalog.RootIno(), "f", true, 0o644, 0, 0,
		hugecatalog.NewFileKind{Kind: hugecatalog.KindImmutableRegular, Hash: hash, Length: 7})
	require.NoError(t, err)

	var out strings.Builder
	req := hugecontrol.Request{Mirror: &hugecontrol.MirrorRequest{Path: "/f", Store: store.URL()}}
	reqBytes, err := json.Marshal(req)
	require.NoError(t, err)

	err = hugecontrol.HandleSession(ctx, state, strings.NewReader(string(reqBytes)+"\n"), &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), `"type":"mirror"`)
	require.Contains(t, out.String(), `"from":""`)
}
