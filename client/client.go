// Package client implements the DFS Client Library: it translates
// file-level Upload/Download/Delete/List/Info/Status calls into the
// chunk-level protocol exchanges against the Coordinator and Storage
// Workers, including replica failover on download. It holds no state
// across calls — every operation reacquires its plan from the Coordinator,
// the same way the teacher's client package dials fresh for every request
// rather than caching a connection.
package client

import (
	"log"
	"net"
	"net/rpc"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/distfs/distfs/dfserr"
	"github.com/distfs/distfs/models"
)

// Client is a stateless handle on a Coordinator address and a dial
// timeout. Timeout bounds each dial to the Coordinator or a Worker; the
// RPC call made on an established connection has no deadline. It is safe
// to share across goroutines since it carries no mutable state of its own.
type Client struct {
	CoordinatorAddr string
	Timeout         time.Duration
}

// New returns a Client pointed at the given Coordinator address with a
// sane default timeout.
func New(coordinatorAddr string) *Client {
	return &Client{CoordinatorAddr: coordinatorAddr, Timeout: 10 * time.Second}
}

func (c *Client) dialCoordinator() (*rpc.Client, error) {
	conn, err := net.DialTimeout("tcp", c.CoordinatorAddr, c.Timeout)
	if err != nil {
		return nil, dfserr.Transport(err, "dial coordinator %s", c.CoordinatorAddr)
	}
	return rpc.NewClient(conn), nil
}

func (c *Client) dialWorker(addr models.WorkerAddr) (*rpc.Client, error) {
	target := net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port))
	conn, err := net.DialTimeout("tcp", target, c.Timeout)
	if err != nil {
		return nil, dfserr.Transport(err, "dial worker %s (%s)", addr.WorkerId, target)
	}
	return rpc.NewClient(conn), nil
}

/* ============================== Upload ============================== */

// Upload reads localPath, obtains a placement plan from the Coordinator,
// stores every chunk on every replica target named in the plan, and —
// only if every replica of every chunk succeeded — commits the file record
// with upload_complete. Any replica failure for any chunk fails the whole
// upload; no file record is created, and this core does not downgrade
// replication mid-upload.
func (c *Client) Upload(localPath, dfsName string) error {
	return c.upload(localPath, dfsName, false)
}

// UploadParallel is Upload with chunks stored concurrently; a failure on
// any chunk fails the whole upload and upload_complete is never called.
// Chunk uploads already in flight are not cancelled: they run to
// completion and their results are discarded.
func (c *Client) UploadParallel(localPath, dfsName string) error {
	return c.upload(localPath, dfsName, true)
}

func (c *Client) upload(localPath, dfsName string, parallel bool) error {
	f, err := os.Open(localPath)
	if err != nil {
		return dfserr.Internal(err, "open %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return dfserr.Internal(err, "stat %s", localPath)
	}
	size := info.Size()

	coord, err := c.dialCoordinator()
	if err != nil {
		return err
	}
	var initReply models.UploadInitReply
	err = coord.Call("Coordinator.UploadInit", models.UploadInitArgs{Filename: dfsName, Filesize: size}, &initReply)
	coord.Close()
	if err != nil {
		return dfserr.Transport(err, "upload_init RPC")
	}
	if !initReply.Status.Ok {
		return &dfserr.Error{Kind: dfserr.Kind(initReply.Status.Kind), Message: initReply.Status.Message}
	}

	log.Printf("[Client] uploading %s -> %s (%d bytes, %d chunks)", localPath, dfsName, size, len(initReply.Plan))

	placements := make([]models.ChunkPlacement, len(initReply.Plan))
	storeOne := func(i int, entry models.PlanEntry) error {
		buf := make([]byte, initReply.ChunkSize)
		n, rerr := f.ReadAt(buf, int64(i)*initReply.ChunkSize)
		if rerr != nil && n == 0 {
			return dfserr.Internal(rerr, "read chunk %d of %s", i, localPath)
		}
		data := buf[:n]

		acked := make([]string, 0, len(entry.Workers))
		for _, w := range entry.Workers {
			if err := c.storeChunk(w, entry.ChunkId, data); err != nil {
				return err
			}
			acked = append(acked, w.WorkerId)
		}
		placements[i] = models.ChunkPlacement{ChunkIndex: i, ChunkId: entry.ChunkId, WorkerIds: acked}
		return nil
	}

	if parallel {
		if err := runParallel(len(initReply.Plan), func(i int) error {
			return storeOne(i, initReply.Plan[i])
		}); err != nil {
			return err
		}
	} else {
		for i, entry := range initReply.Plan {
			if err := storeOne(i, entry); err != nil {
				return err
			}
		}
	}

	coord2, err := c.dialCoordinator()
	if err != nil {
		return err
	}
	defer coord2.Close()
	var completeReply models.UploadCompleteReply
	completeArgs := models.UploadCompleteArgs{Filename: dfsName, Filesize: size, Placements: placements}
	if err := coord2.Call("Coordinator.UploadComplete", completeArgs, &completeReply); err != nil {
		return dfserr.Transport(err, "upload_complete RPC")
	}
	if !completeReply.Status.Ok {
		return &dfserr.Error{Kind: dfserr.Kind(completeReply.Status.Kind), Message: completeReply.Status.Message}
	}

	log.Printf("[Client] upload complete: %s", dfsName)
	return nil
}

func (c *Client) storeChunk(addr models.WorkerAddr, chunkId string, data []byte) error {
	wc, err := c.dialWorker(addr)
	if err != nil {
		return err
	}
	defer wc.Close()

	var reply models.StoreChunkReply
	if err := wc.Call("Worker.StoreChunk", models.StoreChunkArgs{ChunkId: chunkId, Data: data}, &reply); err != nil {
		return dfserr.Transport(err, "store_chunk RPC to %s", addr.WorkerId)
	}
	if !reply.Status.Ok {
		return &dfserr.Error{Kind: dfserr.Kind(reply.Status.Kind), Message: reply.Status.Message}
	}
	return nil
}

/* ============================== Download ============================== */

// Download obtains chunk locations from the Coordinator and, for each
// chunk, tries each live replica in order until one succeeds (the first
// successful response wins, with no back-off between attempts). If every
// replica of a chunk fails, the download aborts; the partial local file is
// then removed on a best-effort basis.
func (c *Client) Download(dfsName, localPath string) error {
	return c.download(dfsName, localPath, false)
}

// DownloadParallel is Download with chunks fetched concurrently.
func (c *Client) DownloadParallel(dfsName, localPath string) error {
	return c.download(dfsName, localPath, true)
}

func (c *Client) download(dfsName, localPath string, parallel bool) error {
	coord, err := c.dialCoordinator()
	if err != nil {
		return err
	}
	var initReply models.DownloadInitReply
	err = coord.Call("Coordinator.DownloadInit", models.DownloadInitArgs{Filename: dfsName}, &initReply)
	coord.Close()
	if err != nil {
		return dfserr.Transport(err, "download_init RPC")
	}
	if !initReply.Status.Ok {
		return &dfserr.Error{Kind: dfserr.Kind(initReply.Status.Kind), Message: initReply.Status.Message}
	}

	out, err := os.Create(localPath)
	if err != nil {
		return dfserr.Internal(err, "create %s", localPath)
	}

	fetchOne := func(i int, entry models.PlanEntry) ([]byte, error) {
		var lastErr error
		for _, w := range entry.Workers {
			data, err := c.retrieveChunk(w, entry.ChunkId)
			if err != nil {
				lastErr = err
				continue
			}
			return data, nil
		}
		if lastErr == nil {
			lastErr = dfserr.NotFound("no live replicas for chunk %s", entry.ChunkId)
		}
		return nil, lastErr
	}

	fail := func(cause error) error {
		out.Close()
		if rmErr := os.Remove(localPath); rmErr != nil {
			log.Printf("[Client] failed to clean up partial download %s: %v", localPath, rmErr)
		}
		return cause
	}

	if parallel {
		results := make([][]byte, len(initReply.Chunks))
		err := runParallel(len(initReply.Chunks), func(i int) error {
			data, err := fetchOne(i, initReply.Chunks[i])
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
		if err != nil {
			return fail(err)
		}
		for i, data := range results {
			if _, err := out.WriteAt(data, int64(i)*initReply.ChunkSize); err != nil {
				return fail(dfserr.Internal(err, "write chunk %d", i))
			}
		}
	} else {
		for i, entry := range initReply.Chunks {
			data, err := fetchOne(i, entry)
			if err != nil {
				return fail(err)
			}
			if _, err := out.WriteAt(data, int64(i)*initReply.ChunkSize); err != nil {
				return fail(dfserr.Internal(err, "write chunk %d", i))
			}
		}
	}

	if err := out.Close(); err != nil {
		return dfserr.Internal(err, "close %s", localPath)
	}

	log.Printf("[Client] download complete: %s -> %s", dfsName, localPath)
	return nil
}

func (c *Client) retrieveChunk(addr models.WorkerAddr, chunkId string) ([]byte, error) {
	wc, err := c.dialWorker(addr)
	if err != nil {
		return nil, err
	}
	defer wc.Close()

	var reply models.RetrieveChunkReply
	if err := wc.Call("Worker.RetrieveChunk", models.RetrieveChunkArgs{ChunkId: chunkId}, &reply); err != nil {
		return nil, dfserr.Transport(err, "retrieve_chunk RPC to %s", addr.WorkerId)
	}
	if !reply.Status.Ok {
		return nil, &dfserr.Error{Kind: dfserr.Kind(reply.Status.Kind), Message: reply.Status.Message}
	}
	return reply.Data, nil
}

/* ============================== Delete / Info / List / Status ============================== */

// Delete removes a file from the namespace. Deleting a non-existent file
// is not an error.
func (c *Client) Delete(dfsName string) error {
	coord, err := c.dialCoordinator()
	if err != nil {
		return err
	}
	defer coord.Close()

	var reply models.DeleteFileReply
	if err := coord.Call("Coordinator.DeleteFile", models.DeleteFileArgs{Filename: dfsName}, &reply); err != nil {
		return dfserr.Transport(err, "delete_file RPC")
	}
	if !reply.Status.Ok {
		return &dfserr.Error{Kind: dfserr.Kind(reply.Status.Kind), Message: reply.Status.Message}
	}
	return nil
}

// FileInfo is a thin pass-through to the Coordinator's file_info.
func (c *Client) FileInfo(dfsName string) (models.FileInfoReply, error) {
	coord, err := c.dialCoordinator()
	if err != nil {
		return models.FileInfoReply{}, err
	}
	defer coord.Close()

	var reply models.FileInfoReply
	if err := coord.Call("Coordinator.FileInfo", models.FileInfoArgs{Filename: dfsName}, &reply); err != nil {
		return models.FileInfoReply{}, dfserr.Transport(err, "file_info RPC")
	}
	if !reply.Status.Ok {
		return models.FileInfoReply{}, &dfserr.Error{Kind: dfserr.Kind(reply.Status.Kind), Message: reply.Status.Message}
	}
	return reply, nil
}

// ListFiles is a thin pass-through to the Coordinator's list_files.
func (c *Client) ListFiles() ([]models.FileSummary, error) {
	coord, err := c.dialCoordinator()
	if err != nil {
		return nil, err
	}
	defer coord.Close()

	var reply models.ListFilesReply
	if err := coord.Call("Coordinator.ListFiles", models.ListFilesArgs{}, &reply); err != nil {
		return nil, dfserr.Transport(err, "list_files RPC")
	}
	if !reply.Status.Ok {
		return nil, &dfserr.Error{Kind: dfserr.Kind(reply.Status.Kind), Message: reply.Status.Message}
	}
	return reply.Files, nil
}

// ClusterStatus is a thin pass-through to the Coordinator's cluster_status.
func (c *Client) ClusterStatus() (models.ClusterStatusReply, error) {
	coord, err := c.dialCoordinator()
	if err != nil {
		return models.ClusterStatusReply{}, err
	}
	defer coord.Close()

	var reply models.ClusterStatusReply
	if err := coord.Call("Coordinator.ClusterStatus", models.ClusterStatusArgs{}, &reply); err != nil {
		return models.ClusterStatusReply{}, dfserr.Transport(err, "cluster_status RPC")
	}
	return reply, nil
}

/* ============================== parallel fan-out ============================== */

// runParallel runs fn(0..n-1) concurrently. Once an error is observed,
// remaining goroutines still run to completion (their results are
// discarded) but the first error is what the caller sees; nothing in
// flight is cancelled.
func runParallel(n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			if err := fn(i); err != nil {
				once.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	return firstErr
}
