package hugefs

import (
	"context"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"

	"github.com/hugefs/hugefs/internal/hugecatalog"
	"github.com/hugefs/hugefs/internal/hugeerr"
	"github.com/hugefs/hugefs/internal/hugestore"
)

// dirHandle snapshots a directory's entries at OpenDir time, served
// back to the kernel in ReadDir calls one dirent at a time. Taking
// the snapshot once avoids re-querying the catalog mid-listing if the
// directory changes underneath an in-progress readdir(3) loop.
type dirHandle struct {
	entries []hugecatalog.DirEntry
}

// mutableHandleState tracks where a mutable-rw file handle sits in
// its lifecycle: Open means created but not yet written to, Writing
// once the first write or setLength lands, Closed once released. A
// control Finalize request opens its own handle on the mutable file,
// so no Finalising state is tracked here.
type mutableHandleState int

const (
	mutableOpen mutableHandleState = iota
	mutableWriting
	mutableClosed
)

// mutableHandle is the open-file-handle state for a kernel open() of
// a not-yet-finalized file: a live hugestore.MutableFile plus the
// inode it backs, so WriteFile can keep the catalog's recorded length
// in sync with the bytes actually written.
type mutableHandle struct {
	mu    sync.Mutex
	ino   hugecatalog.Ino
	file  hugestore.MutableFile
	state mutableHandleState
}

func (h *mutableHandle) read(ctx context.Context, offset int64, size uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Read(ctx, uint64(offset), size)
}

func (h *mutableHandle) write(ctx context.Context, offset int64, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = mutableWriting
	return h.file.Write(ctx, uint64(offset), data)
}

func (h *mutableHandle) setLength(ctx context.Context, length uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = mutableWriting
	return h.file.SetLength(ctx, length)
}

func (h *mutableHandle) release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == mutableClosed {
		return nil
	}
	h.state = mutableClosed
	// Keep the backing file on disk; a later control Finalize request
	// (or a fresh OpenFile after remount) must be able to resume it.
	h.file.Keep()
	return h.file.Close()
}

// immutableHandle is an open handle on a content-addressed file: it
// holds only the hash at Open time, per a NoSticky/Sticky(store)
// state machine. The first successful Get latches store, so every
// later ReadFile on this handle goes straight there instead of
// re-probing the whole store list; until then, store is nil and each
// read tries every store in order.
type immutableHandle struct {
	hash [64]byte

	mu    sync.Mutex
	store hugestore.Store // nil until the first successful read latches it
}

// stickyStore returns the latched store, or nil if none has latched
// yet.
func (h *immutableHandle) stickyStore() hugestore.Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store
}

// latch records store as this handle's sticky store, if none is
// latched yet. Concurrent reads that both succeed against different
// stores race harmlessly: whichever latches first wins, and later
// reads all converge on it.
func (h *immutableHandle) latch(store hugestore.Store) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.store == nil {
		h.store = store
	}
}

// controlHandle is the per-open state of the control pseudo-file: a
// {Reading-Request, Processing, Responding} session. Write calls
// accumulate bytes into request until a newline is seen; the first
// Read call after that dispatches the request and caches the
// response, so repeated or partial reads (POSIX read(2) may be called
// with a small buffer) all see the same computed bytes.
type controlHandle struct {
	mu       sync.Mutex
	request  []byte
	complete bool
	response []byte
}

func (h *controlHandle) write(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.complete {
		return // a response has already been computed; ignore further writes
	}
	for _, b := range data {
		if b == '\n' {
			h.complete = true
			break
		}
		h.request = append(h.request, b)
	}
}

// read returns the response bytes starting at offset, dispatching the
// accumulated request on first call. dispatch must be non-nil; it runs
// while h.mu is held, so it never overlaps a write on the same handle.
func (h *controlHandle) read(offset int, size int, dispatch func(request []byte) []byte) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.response == nil {
		h.response = dispatch(h.request)
	}

	if offset >= len(h.response) {
		return nil
	}
	end := offset + size
	if end > len(h.response) {
		end = len(h.response)
	}
	return h.response[offset:end]
}

// handleTable is the fuse layer's map from fuseops.HandleID to one of
// *dirHandle, *mutableHandle, *immutableHandle or *controlHandle.
// Unlike the teacher's inode graph, hugefs keeps no long-lived inode
// objects: the catalog is queried fresh on every operation, so this
// table only needs to remember open *handles*, not inodes.
//
// INVARIANT: next >= 1
// INVARIANT: for every key k in entries, k < next
//
// GUARDED_BY(mu)
type handleTable struct {
	mu      syncutil.InvariantMutex
	next    fuseops.HandleID
	entries map[fuseops.HandleID]any
}

func newHandleTable() *handleTable {
	t := &handleTable{next: 1, entries: make(map[fuseops.HandleID]any)}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *handleTable) checkInvariants() {
	if t.next < 1 {
		panic("handleTable: next handle ID must never be less than 1")
	}
	for k := range t.entries {
		if k >= t.next {
			panic("handleTable: entry key exceeds next handle ID")
		}
	}
}

func (t *handleTable) add(v any) fuseops.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.entries[id] = v
	return id
}

func (t *handleTable) get(id fuseops.HandleID) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[id]
	return v, ok
}

func (t *handleTable) remove(id fuseops.HandleID) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.entries[id]
	delete(t.entries, id)
	return v, ok
}

func (t *handleTable) dirHandle(id fuseops.HandleID) (*dirHandle, error) {
	v, ok := t.get(id)
	if !ok {
		return nil, hugeerr.New(hugeerr.KindBadFileHandle, "")
	}
	dh, ok := v.(*dirHandle)
	if !ok {
		return nil, hugeerr.New(hugeerr.KindBadFileHandle, "not a directory handle")
	}
	return dh, nil
}
