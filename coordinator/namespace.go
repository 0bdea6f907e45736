package coordinator

import (
	"sort"
	"time"

	"github.com/distfs/distfs/models"
)

// namespace is the Coordinator's in-memory file table and worker table.
// Both are guarded by the Coordinator's single mutex (mu in coordinator.go);
// the methods here assume the caller already holds it, the same
// single-mutex-over-the-metadata-map discipline the teacher applies to its
// MasterNode.ChunkInfo map.
type namespace struct {
	files   map[string]*models.FileRecord
	workers map[string]*models.WorkerDescriptor
}

func newNamespace() *namespace {
	return &namespace{
		files:   make(map[string]*models.FileRecord),
		workers: make(map[string]*models.WorkerDescriptor),
	}
}

func (ns *namespace) isAlive(w *models.WorkerDescriptor, now time.Time, timeout time.Duration) bool {
	return now.Sub(w.LastHeartbeat) <= timeout
}

// liveWorkers returns the workers currently alive, sorted by
// (available space DESC, worker id ASC) per the placement policy.
func (ns *namespace) liveWorkers(now time.Time, timeout time.Duration) []*models.WorkerDescriptor {
	live := make([]*models.WorkerDescriptor, 0, len(ns.workers))
	for _, w := range ns.workers {
		if ns.isAlive(w, now, timeout) {
			live = append(live, w)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].AvailSpace != live[j].AvailSpace {
			return live[i].AvailSpace > live[j].AvailSpace
		}
		return live[i].WorkerId < live[j].WorkerId
	})
	return live
}
