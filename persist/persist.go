// Package persist saves and restores cache snapshots for warm restarts.
//
// A snapshot is a msgpack document holding every live record, compressed
// with zstd. Sinks decide where the bytes go: a local file (written to a
// temporary file and renamed into place) or an S3 object.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/IvanBrykalov/refreshcache/compress"
)

// version is bumped when the record layout changes incompatibly.
const version = 1

// ErrVersion is returned when a snapshot was written by an incompatible
// release.
var ErrVersion = errors.New("persist: unsupported snapshot version")

// Record is one persisted cache entry. Key is the physical key
// (tenant-prefixed); Value is the payload exactly as stored.
type Record struct {
	Key        string        `msgpack:"k"`
	Value      []byte        `msgpack:"v"`
	StoredAt   int64         `msgpack:"s"`
	TTL        time.Duration `msgpack:"t"`
	Deadline   int64         `msgpack:"d"`
	Compressed bool          `msgpack:"c"`
}

type snapshot struct {
	Version int      `msgpack:"version"`
	SavedAt int64    `msgpack:"saved_at"`
	Records []Record `msgpack:"records"`
}

// Snapshotter stores and retrieves a whole snapshot. Load returns no
// records and no error when nothing was saved yet.
type Snapshotter interface {
	Save(ctx context.Context, records []Record) error
	Load(ctx context.Context) ([]Record, error)
}

// Encode serializes records into the snapshot wire format.
func Encode(records []Record, now time.Time) ([]byte, error) {
	body, err := msgpack.Marshal(&snapshot{Version: version, SavedAt: now.UnixNano(), Records: records})
	if err != nil {
		return nil, fmt.Errorf("persist: encode: %w", err)
	}
	z, err := compress.NewZstd()
	if err != nil {
		return nil, err
	}
	return z.Compress(body)
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	z, err := compress.NewZstd()
	if err != nil {
		return nil, err
	}
	body, err := z.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("persist: decode: %w", err)
	}
	var s snapshot
	if err := msgpack.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("persist: decode: %w", err)
	}
	if s.Version != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, s.Version)
	}
	return s.Records, nil
}

// Live drops records whose deadline passed before now.
func Live(records []Record, now int64) []Record {
	out := records[:0]
	for _, r := range records {
		if r.Deadline != 0 && now >= r.Deadline {
			continue
		}
		out = append(out, r)
	}
	return out
}
