// Package worker implements the Storage Worker: it durably holds chunk
// bytes in a local container and advertises its state to the Coordinator
// via periodic heartbeats. It is the generalization of the teacher's
// ChunkServer — same net/rpc registration and connection-serving loop,
// same state-machine shape (UNREGISTERED -> REGISTERED -> TICK loop ->
// SHUTDOWN) — rebuilt around a disk-backed chunk store instead of an
// in-memory slice, since chunks must survive a Worker restart.
package worker

import (
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/theritikchoure/logx"

	"github.com/distfs/distfs/config"
	"github.com/distfs/distfs/dfserr"
	"github.com/distfs/distfs/models"
)

type state int

const (
	stateUnregistered state = iota
	stateRegistered
	stateShutdown
)

// Worker is a Storage Worker server. Registration and heartbeats are
// single-writer from this process's own background goroutine; RPC handlers
// only ever touch the chunkStore, which guards itself.
type Worker struct {
	cfg   config.Worker
	store *chunkStore

	mu    sync.Mutex
	state state

	listener net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Worker. It does not yet touch the network or register
// with the Coordinator; call Start for that.
func New(cfg config.Worker) (*Worker, error) {
	store, err := newChunkStore(cfg.StorageDir)
	if err != nil {
		return nil, err
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		state:    stateUnregistered,
		shutdown: make(chan struct{}),
	}, nil
}

// Start binds the Worker's RPC listener, registers with the Coordinator
// (retrying with exponential backoff on failure), and begins the heartbeat
// loop. It returns the bound listener so the caller (and tests) can read
// back an ephemeral port.
func (w *Worker) Start() (net.Listener, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("Worker", w); err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", w.cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	w.listener = ln

	host, port := w.cfg.Host, w.cfg.Port
	if port == 0 {
		var boundHost string
		boundHost, port = splitHostPort(ln.Addr().String())
		if host == "" {
			host = boundHost
		}
		w.cfg.Host, w.cfg.Port = host, port
	}

	logx.Logf("[Worker %s] listening on %s", logx.FGGREEN, logx.BGBLACK, w.cfg.WorkerId, ln.Addr().String())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-w.shutdown:
					return
				default:
					log.Printf("[Worker %s] accept error: %v", w.cfg.WorkerId, err)
					continue
				}
			}
			go server.ServeConn(conn)
		}
	}()

	w.wg.Add(1)
	go w.registerAndHeartbeat()

	return ln, nil
}

// Shutdown stops the accept loop and the heartbeat goroutine.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	w.state = stateShutdown
	w.mu.Unlock()

	close(w.shutdown)
	if w.listener != nil {
		w.listener.Close()
	}
	w.wg.Wait()
}

// registerAndHeartbeat implements the UNREGISTERED -> REGISTERED -> TICK
// loop state machine: it registers once with exponential backoff on
// failure, then ticks a heartbeat every HeartbeatInterval until shutdown.
// Heartbeat failures are logged and retried on the next tick; they never
// tear down the Worker.
func (w *Worker) registerAndHeartbeat() {
	defer w.wg.Done()

	backoff := w.cfg.RegisterBackoffMin
	for {
		if err := w.register(); err != nil {
			log.Printf("[Worker %s] register failed: %v, retrying in %s", w.cfg.WorkerId, err, backoff)
			select {
			case <-w.shutdown:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.cfg.RegisterBackoffMax {
				backoff = w.cfg.RegisterBackoffMax
			}
			continue
		}
		break
	}

	w.mu.Lock()
	w.state = stateRegistered
	w.mu.Unlock()

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.shutdown:
			return
		case <-ticker.C:
			if err := w.sendHeartbeat(); err != nil {
				log.Printf("[Worker %s] heartbeat failed: %v", w.cfg.WorkerId, err)
			}
		}
	}
}

func (w *Worker) register() error {
	client, err := rpc.Dial("tcp", w.cfg.CoordinatorAddr)
	if err != nil {
		return dfserr.Transport(err, "dial coordinator")
	}
	defer client.Close()

	avail, total, err := w.store.Usage()
	if err != nil {
		avail, total = 0, 0
	}

	args := models.RegisterWorkerArgs{
		WorkerId:   w.cfg.WorkerId,
		Host:       w.cfg.Host,
		Port:       w.cfg.Port,
		TotalSpace: total,
	}
	var reply models.RegisterWorkerReply
	if err := client.Call("Coordinator.RegisterWorker", args, &reply); err != nil {
		return dfserr.Transport(err, "register_worker RPC")
	}
	if !reply.Status.Ok {
		return dfserr.Internal(nil, "register_worker rejected: %s", reply.Status.Message)
	}

	log.Printf("[Worker %s] registered with coordinator, %d bytes available", w.cfg.WorkerId, avail)
	return nil
}

func (w *Worker) sendHeartbeat() error {
	client, err := rpc.Dial("tcp", w.cfg.CoordinatorAddr)
	if err != nil {
		return dfserr.Transport(err, "dial coordinator")
	}
	defer client.Close()

	avail, total, err := w.store.Usage()
	if err != nil {
		avail, total = 0, 0
	}

	args := models.HeartbeatArgs{
		WorkerId:   w.cfg.WorkerId,
		AvailSpace: avail,
		TotalSpace: total,
		ChunkIds:   w.store.ChunkIds(),
	}
	var reply models.HeartbeatReply
	if err := client.Call("Coordinator.Heartbeat", args, &reply); err != nil {
		return dfserr.Transport(err, "heartbeat RPC")
	}
	if !reply.Status.Ok {
		return dfserr.Internal(nil, "heartbeat rejected: %s", reply.Status.Message)
	}
	return nil
}

/* ============================== RPC surface ============================== */

// StoreChunk writes bytes under chunkId. Overwrite is allowed and
// idempotent.
func (w *Worker) StoreChunk(args models.StoreChunkArgs, reply *models.StoreChunkReply) error {
	if err := w.store.Store(args.ChunkId, args.Data); err != nil {
		reply.Status = toStatus(err)
		return nil
	}
	reply.Status = models.Status{Ok: true}
	return nil
}

// RetrieveChunk returns the full chunk bytes or a NotFound status.
func (w *Worker) RetrieveChunk(args models.RetrieveChunkArgs, reply *models.RetrieveChunkReply) error {
	data, err := w.store.Retrieve(args.ChunkId)
	if err != nil {
		reply.Status = toStatus(err)
		return nil
	}
	reply.Status = models.Status{Ok: true}
	reply.Data = data
	return nil
}

// DeleteChunk removes a chunk. Deleting an absent chunk succeeds.
func (w *Worker) DeleteChunk(args models.DeleteChunkArgs, reply *models.DeleteChunkReply) error {
	if err := w.store.Delete(args.ChunkId); err != nil {
		reply.Status = toStatus(err)
		return nil
	}
	reply.Status = models.Status{Ok: true}
	return nil
}

func toStatus(err error) models.Status {
	de, ok := dfserr.As(err)
	if !ok {
		return models.Status{Ok: false, Kind: string(dfserr.KindInternal), Message: err.Error()}
	}
	return models.Status{Ok: false, Kind: string(de.Kind), Message: de.Message}
}
