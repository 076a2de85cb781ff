// Package hugeerr defines the error taxonomy shared by the catalog,
// stores and filesystem engine, and maps it onto kernel errno values
// at the fuse boundary.
package hugeerr

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind identifies the class of failure, independent of the
// human-readable message wrapped around it.
type Kind int

const (
	// KindUnknown is the zero value; never constructed directly.
	KindUnknown Kind = iota
	KindNoSuchInode
	KindNoSuchEntry
	KindEntryExists
	KindNotDirectory
	KindIsDirectory
	KindNotEmpty
	KindNotImmutableFile
	KindNotMutableFile
	KindNotSymlink
	KindBadFileHandle
	KindNoSuchHash
	KindNoSuchMutableFile
	KindStorageError
	KindNoWritableStore
	KindNoSuchKey
	KindBadControlRequest
	KindBadControlResponse
	KindControlError
	KindControlMisc
	KindBadPath
	KindNotHugefs
	KindUnknownStore
)

func (k Kind) String() string {
	switch k {
	case KindNoSuchInode:
		return "no such inode"
	case KindNoSuchEntry:
		return "no such entry"
	case KindEntryExists:
		return "entry exists"
	case KindNotDirectory:
		return "not a directory"
	case KindIsDirectory:
		return "is a directory"
	case KindNotEmpty:
		return "directory not empty"
	case KindNotImmutableFile:
		return "not an immutable file"
	case KindNotMutableFile:
		return "not a mutable file"
	case KindNotSymlink:
		return "not a symlink"
	case KindBadFileHandle:
		return "bad file handle"
	case KindNoSuchHash:
		return "no such content hash"
	case KindNoSuchMutableFile:
		return "no such mutable file"
	case KindStorageError:
		return "storage error"
	case KindNoWritableStore:
		return "no writable store configured"
	case KindNoSuchKey:
		return "no such key"
	case KindBadControlRequest:
		return "bad control request"
	case KindBadControlResponse:
		return "bad control response"
	case KindControlError:
		return "control channel error"
	case KindControlMisc:
		return "miscellaneous control error"
	case KindBadPath:
		return "bad path"
	case KindNotHugefs:
		return "not a hugefs mount"
	case KindUnknownStore:
		return "unknown store"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type returned by every hugefs package.
// It carries a Kind for programmatic dispatch plus optional
// identifying detail and a wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap constructs an Error around an existing cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, else KindUnknown.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindUnknown
}

// Errno maps a hugefs error onto the syscall.Errno the fuse layer
// should return to the kernel, per the error taxonomy's mapping
// table. Errors that are not a *Error map to EIO.
func Errno(err error) error {
	if err == nil {
		return nil
	}

	switch KindOf(err) {
	case KindNoSuchEntry:
		return unix.ENOENT
	case KindEntryExists:
		return unix.EEXIST
	case KindNotDirectory:
		return unix.ENOTDIR
	case KindIsDirectory:
		return unix.EISDIR
	case KindNotEmpty:
		return unix.ENOTEMPTY
	case KindNotMutableFile:
		return unix.EPERM
	case KindNotSymlink:
		return unix.EINVAL
	case KindBadFileHandle:
		return unix.ENXIO
	case KindNoSuchHash, KindNoSuchMutableFile:
		return unix.ENOMEDIUM
	case KindNoWritableStore:
		return unix.EROFS
	default:
		// Everything else — KindNoSuchInode, KindNotImmutableFile,
		// KindStorageError, KindNoSuchKey, KindUnknownStore,
		// KindBadControlRequest, KindBadControlResponse,
		// KindControlError, KindControlMisc, KindBadPath,
		// KindNotHugefs, KindUnknown — maps to EIO per spec.md's
		// "anything else" clause.
		return unix.EIO
	}
}
