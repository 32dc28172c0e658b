package chunk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dolthub/gozstd"

	"github.com/vaultkeep/backupcore/hash"
	"github.com/vaultkeep/backupcore/metrics"
)

// FSStore persists chunks as one compressed file per digest under a
// datastore's .chunks directory, fanned out two hex digits deep so no
// directory holds more than ~2^16th of the total chunk population —
// grounded on the pstart-mod-256 fan-out convention in the teacher's
// worker-task log directory layout, generalized to a digest prefix here.
type FSStore struct {
	root  string
	level int // gozstd compression level

	// inflight de-duplicates concurrent first-writers of the same digest so
	// two goroutines racing to insert new content never both hit the
	// filesystem for the same chunk. This is the module's own answer to the
	// Open Question in spec.md §9: the source assumes the chunk store is
	// thread-safe without re-checking; here the store provides that
	// guarantee itself.
	mu       sync.Mutex
	inflight map[hash.Hash]*sync.WaitGroup
}

// NewFSStore creates (if needed) root and returns a store rooted there.
// level is the gozstd compression level applied to chunk bytes before they
// are written to disk.
func NewFSStore(root string, level int) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("chunk store: create root %s: %w", root, err)
	}
	return &FSStore{root: root, level: level, inflight: make(map[hash.Hash]*sync.WaitGroup)}, nil
}

func (s *FSStore) path(digest hash.Hash) string {
	hex := digest.String()
	return filepath.Join(s.root, hex[:2], hex[2:4], hex)
}

func (s *FSStore) Has(_ context.Context, digest hash.Hash) (bool, error) {
	_, err := os.Stat(s.path(digest))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("chunk store: stat %s: %w", digest, err)
}

// Insert accepts a chunk already compressed by the uploading client (the
// upload protocol, per spec.md §6, ships compressed bytes). The store
// normalizes storage by decompressing and recompressing at its own
// canonical level before persisting — the same decompress-then-recompress
// shape as the teacher's archive rebuild path (nbs/archive_build.go's
// BuildArchive/UnArchive, which reads each chunk out of its source
// container and re-adds it to a new one at a chosen compression setting).
func (s *FSStore) Insert(ctx context.Context, digest hash.Hash, compressed []byte) (InsertResult, int, error) {
	// Claim the in-flight slot for this digest, or wait for whoever holds
	// it and then re-check the filesystem.
	s.mu.Lock()
	if wg, ok := s.inflight[digest]; ok {
		s.mu.Unlock()
		wg.Wait()
		return s.recheckAfterInflight(ctx, digest)
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	s.inflight[digest] = wg
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, digest)
		s.mu.Unlock()
		wg.Done()
	}()

	if has, err := s.Has(ctx, digest); err != nil {
		return 0, 0, err
	} else if has {
		n, err := s.compressedLen(digest)
		if err != nil {
			return 0, 0, err
		}
		metrics.ChunkDuplicates.Inc()
		return Duplicate, n, nil
	}

	raw, err := gozstd.Decompress(nil, compressed)
	if err != nil {
		return 0, 0, fmt.Errorf("chunk store: decompress %s: %w", digest, err)
	}
	canonical := gozstd.CompressLevel(nil, raw, s.level)

	path := s.path(digest)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, 0, fmt.Errorf("chunk store: mkdir for %s: %w", digest, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, canonical, 0o644); err != nil {
		return 0, 0, fmt.Errorf("chunk store: write %s: %w", digest, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, 0, fmt.Errorf("chunk store: commit %s: %w", digest, err)
	}

	metrics.ChunkInserts.Inc()
	metrics.ChunkBytesStored.Add(float64(len(canonical)))
	return Inserted, len(canonical), nil
}

func (s *FSStore) recheckAfterInflight(ctx context.Context, digest hash.Hash) (InsertResult, int, error) {
	has, err := s.Has(ctx, digest)
	if err != nil {
		return 0, 0, err
	}
	if !has {
		// The other writer's insert failed; caller should retry.
		return 0, 0, fmt.Errorf("chunk store: concurrent insert of %s did not complete", digest)
	}
	n, err := s.compressedLen(digest)
	if err != nil {
		return 0, 0, err
	}
	metrics.ChunkDuplicates.Inc()
	return Duplicate, n, nil
}

func (s *FSStore) compressedLen(digest hash.Hash) (int, error) {
	fi, err := os.Stat(s.path(digest))
	if err != nil {
		return 0, fmt.Errorf("chunk store: stat %s: %w", digest, err)
	}
	return int(fi.Size()), nil
}
