package worker

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/distfs/distfs/dfserr"
)

// chunkStore is the Worker's local chunk container: any durable byte
// container suffices per the spec's non-goals, so this rendition persists
// each chunk as two files under baseDir — the raw bytes under the ChunkId,
// and a ".digest" sidecar recording the MD5 hex digest computed at store
// time. index mirrors what's actually on disk so heartbeats and
// retrieve_chunk don't need to stat the directory on every call; it is
// rebuilt from disk on startup so a restarted Worker still advertises the
// chunks it already holds.
type chunkStore struct {
	baseDir string

	mu    sync.RWMutex
	index map[string]struct{}
}

func newChunkStore(baseDir string) (*chunkStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, dfserr.Internal(err, "create storage dir %s", baseDir)
	}
	cs := &chunkStore{baseDir: baseDir, index: make(map[string]struct{})}
	if err := cs.loadExisting(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *chunkStore) loadExisting() error {
	entries, err := os.ReadDir(cs.baseDir)
	if err != nil {
		return dfserr.Internal(err, "read storage dir %s", cs.baseDir)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) == ".digest" {
			continue
		}
		cs.index[name] = struct{}{}
	}
	return nil
}

func (cs *chunkStore) chunkPath(chunkId string) string  { return filepath.Join(cs.baseDir, chunkId) }
func (cs *chunkStore) digestPath(chunkId string) string { return filepath.Join(cs.baseDir, chunkId+".digest") }

// Store writes bytes under chunkId, overwriting any existing content, and
// persists the MD5 digest alongside it. Idempotent.
func (cs *chunkStore) Store(chunkId string, data []byte) error {
	sum := md5.Sum(data)
	digest := hex.EncodeToString(sum[:])

	if err := os.WriteFile(cs.chunkPath(chunkId), data, 0o644); err != nil {
		return dfserr.Internal(err, "store chunk %s", chunkId)
	}
	if err := os.WriteFile(cs.digestPath(chunkId), []byte(digest), 0o644); err != nil {
		return dfserr.Internal(err, "store digest for chunk %s", chunkId)
	}

	cs.mu.Lock()
	cs.index[chunkId] = struct{}{}
	cs.mu.Unlock()
	return nil
}

// Retrieve returns the full chunk bytes or a NotFound error; there are no
// partial reads.
func (cs *chunkStore) Retrieve(chunkId string) ([]byte, error) {
	cs.mu.RLock()
	_, known := cs.index[chunkId]
	cs.mu.RUnlock()
	if !known {
		return nil, dfserr.NotFound("chunk %s not found", chunkId)
	}

	data, err := os.ReadFile(cs.chunkPath(chunkId))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dfserr.NotFound("chunk %s not found", chunkId)
		}
		return nil, dfserr.Internal(err, "read chunk %s", chunkId)
	}
	return data, nil
}

// Delete removes a chunk and its digest. Deleting an absent chunk succeeds.
func (cs *chunkStore) Delete(chunkId string) error {
	cs.mu.Lock()
	delete(cs.index, chunkId)
	cs.mu.Unlock()

	if err := os.Remove(cs.chunkPath(chunkId)); err != nil && !os.IsNotExist(err) {
		return dfserr.Internal(err, "delete chunk %s", chunkId)
	}
	_ = os.Remove(cs.digestPath(chunkId))
	return nil
}

// ChunkIds returns a snapshot of every ChunkId currently held, for
// heartbeat reporting.
func (cs *chunkStore) ChunkIds() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	ids := make([]string, 0, len(cs.index))
	for id := range cs.index {
		ids = append(ids, id)
	}
	return ids
}

// Usage reports free/total bytes for the filesystem backing baseDir.
func (cs *chunkStore) Usage() (avail, total int64, err error) {
	return diskUsage(cs.baseDir)
}
