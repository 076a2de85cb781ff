// Package hugestate holds the State shared by the fuse filesystem
// engine and the control channel: a catalog bound to an ordered list
// of content stores. It exists as its own package so hugefs and
// hugecontrol can both depend on it without depending on each other.
package hugestate

import (
	"context"
	"strings"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestore"
)

// State is the shared, lock-free-at-this-layer state bound into both
// the fuse filesystem and the control channel: a catalog plus the
// ordered stores consulted for content. Stores are tried in order for
// Get/Has; the first store whose CreateFile/OpenFile returns ok=true
// is used for new mutable files.
type State struct {
	Catalog *hugecatalog.Catalog
	Stores  []hugestore.Store
}

// New binds catalog to stores, in preference order.
func New(catalog *hugecatalog.Catalog, stores []hugestore.Store) *State {
	return &State{Catalog: catalog, Stores: stores}
}

// StoreByURL finds the store whose URL() equals url.
func (s *State) StoreByURL(url string) (hugestore.Store, bool) {
	for _, st := range s.Stores {
		if st.URL() == url {
			return st, true
		}
	}
	return nil, false
}

// LookupPath resolves a slash-separated absolute path into an inode
// number, splitting on "/" and rejecting "." and ".." components.
func (s *State) LookupPath(ctx context.Context, path string) (hugecatalog.Ino, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return s.Catalog.RootIno(), nil
	}

	var components []string
	for _, c := range strings.Split(path, "/") {
		if c == "" || c == "." || c == ".." {
			return 0, hugeerr.New(hugeerr.KindBadPath, path)
		}
		components = append(components, c)
	}
	return s.Catalog.LookupPath(ctx, components)
}

// WhichStoresHave reports the URLs of every store currently holding
// fileHash, in store order. Used to answer a control Status request.
func (s *State) WhichStoresHave(ctx context.Context, fileHash hugehash.Hash) ([]string, error) {
	var urls []string
	for _, st := range s.Stores {
		ok, err := st.Has(ctx, fileHash)
		if err != nil {
			return nil, err
		}
		if ok {
			urls = append(urls, st.URL())
		}
	}
	return urls, nil
}
