package hugeerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/hugefs/hugefs/internal/hugeerr"
)

func TestErrnoMapping(t *testing.T) {
	// Every Kind, mapped per spec.md §7's explicit table: everything
	// not named there falls to the "anything else" EIO default.
	cases := []struct {
		kind hugeerr.Kind
		want error
	}{
		{hugeerr.KindUnknown, unix.EIO},
		{hugeerr.KindNoSuchInode, unix.EIO},
		{hugeerr.KindNoSuchEntry, unix.ENOENT},
		{hugeerr.KindEntryExists, unix.EEXIST},
		{hugeerr.KindNotDirectory, unix.ENOTDIR},
		{hugeerr.KindIsDirectory, unix.EISDIR},
		{hugeerr.KindNotEmpty, unix.ENOTEMPTY},
		{hugeerr.KindNotImmutableFile, unix.EIO},
		{hugeerr.KindNotMutableFile, unix.EPERM},
		{hugeerr.KindNotSymlink, unix.EINVAL},
		{hugeerr.KindBadFileHandle, unix.ENXIO},
		{hugeerr.KindNoSuchHash, unix.ENOMEDIUM},
		{hugeerr.KindNoSuchMutableFile, unix.ENOMEDIUM},
		{hugeerr.KindStorageError, unix.EIO},
		{hugeerr.KindNoWritableStore, unix.EROFS},
		{hugeerr.KindNoSuchKey, unix.EIO},
		{hugeerr.KindBadControlRequest, unix.EIO},
		{hugeerr.KindBadControlResponse, unix.EIO},
		{hugeerr.KindControlError, unix.EIO},
		{hugeerr.KindControlMisc, unix.EIO},
		{hugeerr.KindBadPath, unix.EIO},
		{hugeerr.KindNotHugefs, unix.EIO},
		{hugeerr.KindUnknownStore, unix.EIO},
	}

	for _, c := range cases {
		err := hugeerr.New(c.kind, "")
		require.Equal(t, c.want, hugeerr.Errno(err), "kind %v", c.kind)
	}
}

func TestErrnoDefaultsToEIOForPlainErrors(t *testing.T) {
	require.Equal(t, unix.EIO, hugeerr.Errno(errors.New("boom")))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk on fire")
	err := hugeerr.Wrap(hugeerr.KindStorageError, "ca/abcd", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, hugeerr.KindStorageError, hugeerr.KindOf(err))
}
