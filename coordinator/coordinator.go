// Package coordinator implements the DFS metadata server: the file
// namespace, the chunk-to-worker placement policy, and the worker liveness
// view. It never stores file bytes. It is the generalization of the
// teacher's MasterNode: the same single-struct-plus-mutex shape, the same
// net/rpc registration and per-connection goroutine serving loop, and the
// same heartbeat-tracking goroutine, rebuilt around the spec's namespace
// and placement semantics instead of the teacher's lease/replica-chasing
// ones.
package coordinator

import (
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/theritikchoure/logx"

	"github.com/distfs/distfs/config"
	"github.com/distfs/distfs/dfserr"
	"github.com/distfs/distfs/models"
)

// Coordinator is the metadata server. All mutations to ns go through mu,
// matching the single-mutex-over-the-metadata-map discipline the concurrency
// model allows.
type Coordinator struct {
	cfg config.Coordinator

	mu sync.Mutex
	ns *namespace

	listener net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Coordinator with the given configuration. It does not
// start listening; call Start for that.
func New(cfg config.Coordinator) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		ns:       newNamespace(),
		shutdown: make(chan struct{}),
	}
}

// Start registers the Coordinator's RPC methods, binds its listener, and
// begins serving connections and running the housekeeper in the background.
// It returns the bound listener so callers (tests especially) can read back
// an ephemeral port.
func (c *Coordinator) Start() (net.Listener, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("Coordinator", c); err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	c.listener = ln

	logx.Logf("[Coordinator] listening on %s", logx.FGGREEN, logx.BGBLACK, ln.Addr().String())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-c.shutdown:
					return
				default:
					log.Printf("[Coordinator] accept error: %v", err)
					continue
				}
			}
			go server.ServeConn(conn)
		}
	}()

	c.wg.Add(1)
	go c.housekeeper()

	return ln, nil
}

// Shutdown stops the accept loop and the housekeeper. It does not forcibly
// close in-flight connections.
func (c *Coordinator) Shutdown() {
	close(c.shutdown)
	if c.listener != nil {
		c.listener.Close()
	}
	c.wg.Wait()
}

/* ============================== RegisterWorker ============================== */

// RegisterWorker is idempotent: re-registering an existing WorkerId
// refreshes its address, capacity, and liveness, and mints a fresh
// registration epoch for log correlation.
func (c *Coordinator) RegisterWorker(args models.RegisterWorkerArgs, reply *models.RegisterWorkerReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	epoch := uuid.NewV4().String()
	w, exists := c.ns.workers[args.WorkerId]
	if !exists {
		w = &models.WorkerDescriptor{WorkerId: args.WorkerId, Chunks: make(map[string]struct{})}
		c.ns.workers[args.WorkerId] = w
	}
	w.Host = args.Host
	w.Port = args.Port
	w.TotalSpace = args.TotalSpace
	w.AvailSpace = args.TotalSpace
	w.LastHeartbeat = time.Now()
	w.Epoch = epoch

	if exists {
		log.Printf("[Coordinator] worker %s re-registered at %s:%d (epoch=%s)", args.WorkerId, args.Host, args.Port, epoch)
	} else {
		log.Printf("[Coordinator] worker %s registered at %s:%d (epoch=%s)", args.WorkerId, args.Host, args.Port, epoch)
	}

	reply.Status = models.Status{Ok: true}
	return nil
}

/* ============================== Heartbeat ============================== */

// Heartbeat updates capacity and claimed chunk set, and stamps the
// last-heartbeat time with the Coordinator's clock. An unknown WorkerId is
// accepted and creates a minimal descriptor (self-healing re-registration);
// a heartbeat older than the one already recorded is ignored to preserve
// per-worker monotonicity.
func (c *Coordinator) Heartbeat(args models.HeartbeatArgs, reply *models.HeartbeatReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	w, exists := c.ns.workers[args.WorkerId]
	if !exists {
		w = &models.WorkerDescriptor{WorkerId: args.WorkerId, Epoch: uuid.NewV4().String()}
		c.ns.workers[args.WorkerId] = w
		log.Printf("[Coordinator] heartbeat from unknown worker %s, self-healing registration", args.WorkerId)
	} else if now.Before(w.LastHeartbeat) {
		// out-of-order heartbeat, ignore per the monotonicity invariant
		reply.Status = models.Status{Ok: true}
		return nil
	}

	w.AvailSpace = args.AvailSpace
	w.TotalSpace = args.TotalSpace
	w.Chunks = make(map[string]struct{}, len(args.ChunkIds))
	for _, id := range args.ChunkIds {
		w.Chunks[id] = struct{}{}
	}
	w.LastHeartbeat = now

	reply.Status = models.Status{Ok: true}
	return nil
}

/* ============================== UploadInit ============================== */

// UploadInit proposes a placement plan for a new file without creating any
// file record. It fails with InsufficientCapacity when fewer than R live
// workers exist.
func (c *Coordinator) UploadInit(args models.UploadInitArgs, reply *models.UploadInitReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunkSize := c.cfg.ChunkSize
	r := c.cfg.Replication
	numChunks := chunkCount(args.Filesize, chunkSize)

	live := c.ns.liveWorkers(time.Now(), c.cfg.LivenessTimeout)
	if len(live) < r {
		err := dfserr.InsufficientCapacity("need %d live workers, found %d", r, len(live))
		reply.Status = toStatus(err)
		return nil
	}

	plan := make([]models.PlanEntry, numChunks)
	for i := 0; i < numChunks; i++ {
		chosen := selectForChunk(live, i, r)
		addrs := make([]models.WorkerAddr, len(chosen))
		for j, w := range chosen {
			addrs[j] = w.Addr()
		}
		plan[i] = models.PlanEntry{
			ChunkIndex: i,
			ChunkId:    models.ChunkId(args.Filename, i),
			Workers:    addrs,
		}
	}

	log.Printf("[Coordinator] upload_init %s: %d chunks, replication=%d", args.Filename, numChunks, r)

	reply.Status = models.Status{Ok: true}
	reply.ChunkSize = chunkSize
	reply.Replication = r
	reply.Plan = plan
	return nil
}

func chunkCount(filesize, chunkSize int64) int {
	if filesize <= 0 {
		return 0
	}
	return int((filesize + chunkSize - 1) / chunkSize)
}

/* ============================== UploadComplete ============================== */

// UploadComplete creates or replaces the file record with the reported
// placements. Replacing an existing record is last-writer-wins: the
// Coordinator's single mutex serializes concurrent calls for the same
// filename, so whichever call acquires the lock last is what file_info
// subsequently observes.
func (c *Coordinator) UploadComplete(args models.UploadCompleteArgs, reply *models.UploadCompleteReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := &models.FileRecord{
		Filename:   args.Filename,
		Size:       args.Filesize,
		ChunkSize:  c.cfg.ChunkSize,
		CreatedAt:  time.Now(),
		Placements: args.Placements,
	}
	c.ns.files[args.Filename] = record

	log.Printf("[Coordinator] upload_complete %s: %d bytes, %d chunks", args.Filename, args.Filesize, len(args.Placements))

	reply.Status = models.Status{Ok: true}
	return nil
}

/* ============================== DownloadInit ============================== */

// DownloadInit returns chunk locations filtered to currently-live workers.
// A chunk whose replica set has gone fully dead still appears with an
// empty address list; the Client observes that and fails just that chunk.
func (c *Coordinator) DownloadInit(args models.DownloadInitArgs, reply *models.DownloadInitReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.ns.files[args.Filename]
	if !ok {
		err := dfserr.NotFound("file %q not found", args.Filename)
		reply.Status = toStatus(err)
		return nil
	}

	now := time.Now()
	chunks := make([]models.PlanEntry, len(record.Placements))
	for i, p := range record.Placements {
		var addrs []models.WorkerAddr
		for _, id := range p.WorkerIds {
			w, ok := c.ns.workers[id]
			if !ok || !c.ns.isAlive(w, now, c.cfg.LivenessTimeout) {
				continue
			}
			addrs = append(addrs, w.Addr())
		}
		chunks[i] = models.PlanEntry{ChunkIndex: p.ChunkIndex, ChunkId: p.ChunkId, Workers: addrs}
	}

	reply.Status = models.Status{Ok: true}
	reply.Filesize = record.Size
	reply.ChunkSize = record.ChunkSize
	reply.Chunks = chunks
	return nil
}

/* ============================== ListFiles ============================== */

func (c *Coordinator) ListFiles(args models.ListFilesArgs, reply *models.ListFilesReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	files := make([]models.FileSummary, 0, len(c.ns.files))
	for _, f := range c.ns.files {
		files = append(files, models.FileSummary{
			Filename:   f.Filename,
			Size:       f.Size,
			ChunkCount: f.ChunkCount(),
			CreatedAt:  f.CreatedAt,
		})
	}
	reply.Status = models.Status{Ok: true}
	reply.Files = files
	return nil
}

/* ============================== FileInfo ============================== */

func (c *Coordinator) FileInfo(args models.FileInfoArgs, reply *models.FileInfoReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.ns.files[args.Filename]
	if !ok {
		err := dfserr.NotFound("file %q not found", args.Filename)
		reply.Status = toStatus(err)
		return nil
	}

	now := time.Now()
	chunks := make([]models.PlanEntry, len(record.Placements))
	for i, p := range record.Placements {
		var addrs []models.WorkerAddr
		for _, id := range p.WorkerIds {
			w, ok := c.ns.workers[id]
			if !ok || !c.ns.isAlive(w, now, c.cfg.LivenessTimeout) {
				continue
			}
			addrs = append(addrs, w.Addr())
		}
		chunks[i] = models.PlanEntry{ChunkIndex: p.ChunkIndex, ChunkId: p.ChunkId, Workers: addrs}
	}

	reply.Status = models.Status{Ok: true}
	reply.Filename = record.Filename
	reply.Size = record.Size
	reply.ChunkSize = record.ChunkSize
	reply.CreatedAt = record.CreatedAt
	reply.Chunks = chunks
	return nil
}

/* ============================== DeleteFile ============================== */

// DeleteFile removes the file record and issues best-effort delete_chunk
// to every worker that had a replica. Deleting an unknown filename is not
// an error, per the idempotent-deletion property.
func (c *Coordinator) DeleteFile(args models.DeleteFileArgs, reply *models.DeleteFileReply) error {
	c.mu.Lock()
	record, ok := c.ns.files[args.Filename]
	if ok {
		delete(c.ns.files, args.Filename)
	}
	// snapshot worker addresses to dial after releasing the lock
	type target struct {
		addr     models.WorkerAddr
		chunkIds []string
	}
	byWorker := make(map[string]*target)
	if ok {
		for _, p := range record.Placements {
			for _, id := range p.WorkerIds {
				w, exists := c.ns.workers[id]
				if !exists {
					continue
				}
				t, have := byWorker[id]
				if !have {
					t = &target{addr: w.Addr()}
					byWorker[id] = t
				}
				t.chunkIds = append(t.chunkIds, p.ChunkId)
			}
		}
	}
	c.mu.Unlock()

	for _, t := range byWorker {
		deleteChunksBestEffort(t.addr, t.chunkIds)
	}

	if ok {
		log.Printf("[Coordinator] deleted file %s (%d workers notified)", args.Filename, len(byWorker))
	}

	reply.Status = models.Status{Ok: true}
	return nil
}

func deleteChunksBestEffort(addr models.WorkerAddr, chunkIds []string) {
	client, err := rpc.Dial("tcp", net.JoinHostPort(addr.Host, itoaPort(addr.Port)))
	if err != nil {
		log.Printf("[Coordinator] delete_chunk: cannot reach worker %s: %v", addr.WorkerId, err)
		return
	}
	defer client.Close()
	for _, id := range chunkIds {
		var reply models.DeleteChunkReply
		if err := client.Call("Worker.DeleteChunk", models.DeleteChunkArgs{ChunkId: id}, &reply); err != nil {
			log.Printf("[Coordinator] delete_chunk %s on %s failed: %v", id, addr.WorkerId, err)
		}
	}
}

/* ============================== ClusterStatus ============================== */

func (c *Coordinator) ClusterStatus(args models.ClusterStatusArgs, reply *models.ClusterStatusReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	workers := make([]models.WorkerStatus, 0, len(c.ns.workers))
	for _, w := range c.ns.workers {
		workers = append(workers, models.WorkerStatus{
			WorkerId:   w.WorkerId,
			Host:       w.Host,
			Port:       w.Port,
			Alive:      c.ns.isAlive(w, now, c.cfg.LivenessTimeout),
			ChunkCount: len(w.Chunks),
			AvailSpace: w.AvailSpace,
			TotalSpace: w.TotalSpace,
		})
	}

	var totalBytes int64
	for _, f := range c.ns.files {
		totalBytes += f.Size
	}

	reply.Status = models.Status{Ok: true}
	reply.FileCount = len(c.ns.files)
	reply.TotalBytes = totalBytes
	reply.Workers = workers
	return nil
}

func toStatus(err *dfserr.Error) models.Status {
	return models.Status{Ok: false, Kind: string(err.Kind), Message: err.Message}
}
