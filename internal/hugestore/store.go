// Package hugestore defines the content-addressed backing store
// abstraction: Store and MutableFile. The chunked copy used to mirror
// a blob between two stores lives in package hugeio.
package hugestore

import (
	"context"

	"github.com/hugefs/hugefs/internal/hugehash"
)

// Config describes a store's identifying configuration, read once at
// mount time. KeyFingerprint is set by an encrypting adapter, and by
// a local store whose on-disk config records a key fingerprint.
type Config struct {
	KeyFingerprint *hugehash.Hash
}

// Store is a content-addressed blob store: content is retrieved by
// its hash, never by name. Implementations must be safe for
// concurrent use by multiple goroutines.
type Store interface {
	// Add stores data under its content hash, a no-op if the hash is
	// already present.
	Add(ctx context.Context, fileHash hugehash.Hash, data []byte) error

	// Has reports whether fileHash is present in the store.
	Has(ctx context.Context, fileHash hugehash.Hash) (bool, error)

	// Get reads size bytes starting at offset from the blob named by
	// fileHash. It may return fewer bytes than size at end of file.
	Get(ctx context.Context, fileHash hugehash.Hash, offset uint64, size int) ([]byte, error)

	// CreateFile begins a new mutable file, returning ok=false if this
	// store does not support creating files (e.g. a read-mostly remote
	// store).
	CreateFile(ctx context.Context) (file MutableFile, ok bool, err error)

	// OpenFile reopens a previously created, not-yet-finished mutable
	// file by ID, returning ok=false if this store has no such file or
	// does not support mutable files at all.
	OpenFile(ctx context.Context, id MutableFileID) (file MutableFile, ok bool, err error)

	// GetConfig returns this store's configuration.
	GetConfig() (Config, error)

	// URL identifies this store for display and for the control
	// channel's Mirror request (e.g. a filesystem path or an S3 URL).
	URL() string
}

// MutableFileID identifies an in-progress mutable file within a
// single store. It has the form "<pid>.<ns>" where ns is the
// wall-clock time in nanoseconds at creation, matching the layout
// a LocalStore assigns on disk.
type MutableFileID string

// MutableFile is a write handle on content that has not yet been
// assigned a content hash. Implementations must serialize concurrent
// Read/Write/Finish/SetLength calls internally.
type MutableFile interface {
	// ID returns the identifier this file can be reopened with via
	// Store.OpenFile.
	ID() MutableFileID

	// Write stores data at offset, extending the file if necessary.
	Write(ctx context.Context, offset uint64, data []byte) error

	// Read reads up to size bytes starting at offset.
	Read(ctx context.Context, offset uint64, size uint32) ([]byte, error)

	// Len returns the file's current length.
	Len() uint64

	// SetLength truncates or extends the file to length bytes.
	SetLength(ctx context.Context, length uint64) error

	// Finish hashes the file's full contents, moves it into the
	// store's content-addressed area under that hash (or discards it
	// as a duplicate if the hash is already present), and returns its
	// final length and hash. After Finish returns successfully this
	// handle must not be used again.
	Finish(ctx context.Context) (length uint64, hash hugehash.Hash, err error)

	// Keep marks that this handle's backing file should survive past
	// Close even if Finish was never called, so a later OpenFile by ID
	// can resume writing to it. Handles created via CreateFile default
	// to discard-on-close; handles returned by OpenFile default to
	// keep since they are already known to the catalog.
	Keep()

	// Close releases any resources (file descriptors) held by this
	// handle. If Keep was never called and Finish never ran, the
	// backing data is discarded.
	Close() error
}
