// Package hugeio holds small I/O helpers shared across store
// implementations and the engine.
package hugeio

import (
	"context"
	"fmt"

	"github.com/hugefs/hugefs/internal/hugehash"
	"github.com/hugefs/hugefs/internal/hugestore"
)

// chunkSize bounds how much of a blob is held in memory per Get call
// while copying between stores.
const chunkSize = 4 * 1024 * 1024

// CopyFile copies the blob named by fileHash, of the given size, from
// src to dst, reading it from src in bounded chunks before handing
// the assembled content to dst.Add (a Store has no partial-write
// entry point; content is always addressed by the hash of the whole
// blob).
func CopyFile(ctx context.Context, fileHash hugehash.Hash, size uint64, src, dst hugestore.Store) error {
	data := make([]byte, 0, size)

	for uint64(len(data)) < size {
		remaining := size - uint64(len(data))
		want := chunkSize
		if remaining < uint64(want) {
			want = int(remaining)
		}

		chunk, err := src.Get(ctx, fileHash, uint64(len(data)), want)
		if err != nil {
			return fmt.Errorf("reading %s from %s: %w", fileHash.Hex(), src.URL(), err)
		}
		if len(chunk) == 0 {
			break
		}
		data = append(data, chunk...)
	}

	if err := dst.Add(ctx, fileHash, data); err != nil {
		return fmt.Errorf("writing %s to %s: %w", fileHash.Hex(), dst.URL(), err)
	}

	return nil
}
