// Package hugehash implements the content-addressing primitive used
// throughout hugefs: a fixed-width BLAKE2b-512 digest with hex and
// base64 string forms.
package hugehash

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Size is the digest width in bytes (512 bits).
const Size = 64

// Hash is a content hash: the BLAKE2b-512 digest of a file's bytes.
type Hash [Size]byte

// Sum hashes the full contents of r.
func Sum(r io.Reader) (Hash, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return Hash{}, fmt.Errorf("blake2b.New512: %w", err)
	}

	if _, err := io.Copy(h, r); err != nil {
		return Hash{}, fmt.Errorf("hashing content: %w", err)
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// SumBytes hashes a byte slice already held in memory.
func SumBytes(data []byte) Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		panic(err) // blake2b.New512 only errors on a bad key, which we never pass
	}
	h.Write(data)

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Hex returns the lowercase hex encoding of the digest, used as the
// on-disk filename for content-addressed blobs.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String returns the base64 encoding of the digest, the same form
// MarshalText produces.
func (h Hash) String() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler so Hash round-trips
// through JSON as its base64 string form.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	data, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decoding hash: %w", err)
	}
	if len(data) != Size {
		return fmt.Errorf("hash has wrong length %d, want %d", len(data), Size)
	}
	copy(h[:], data)
	return nil
}

// FromHex parses a lowercase hex digest, e.g. the filename a content
// store uses for a blob on disk.
func FromHex(s string) (Hash, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decoding hex hash: %w", err)
	}
	if len(data) != Size {
		return Hash{}, fmt.Errorf("hash has wrong length %d, want %d", len(data), Size)
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}

// FromBytes wraps a raw digest, as read back from a catalog pointer
// column.
func FromBytes(data []byte) (Hash, error) {
	if len(data) != Size {
		return Hash{}, fmt.Errorf("hash has wrong length %d, want %d", len(data), Size)
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}
