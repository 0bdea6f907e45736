package coordinator

import "github.com/distfs/distfs/models"

// selectForChunk picks R distinct workers for the given chunk index out of
// the already-sorted (by free_bytes DESC, worker_id ASC) live list,
// applying a cyclic shift by chunkIndex so that primary responsibility for
// successive chunks of the same file rotates across the cluster instead of
// always landing on the single highest-capacity worker. The selection is a
// pure function of (sorted, chunkIndex), so it is deterministic and
// reproducible for tests without needing a separate random source.
func selectForChunk(sorted []*models.WorkerDescriptor, chunkIndex, r int) []*models.WorkerDescriptor {
	n := len(sorted)
	if n == 0 || r <= 0 {
		return nil
	}
	shift := chunkIndex % n
	picked := make([]*models.WorkerDescriptor, 0, r)
	for i := 0; i < r && i < n; i++ {
		picked = append(picked, sorted[(shift+i)%n])
	}
	return picked
}
