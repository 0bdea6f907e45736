package client_test

import (
	"bytes"
	"math/rand"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/distfs/distfs/client"
	"github.com/distfs/distfs/config"
	"github.com/distfs/distfs/coordinator"
	"github.com/distfs/distfs/models"
	"github.com/distfs/distfs/worker"
)

// testCluster wires up a real Coordinator and a handful of real Workers on
// loopback TCP, the same way the teacher's test/system_test.go drives a
// live MasterNode and ChunkServers rather than a mocked transport.
type testCluster struct {
	t           *testing.T
	coordinator *coordinator.Coordinator
	coordAddr   string
	workers     map[string]*worker.Worker
	cfg         config.Coordinator
}

func newTestCluster(t *testing.T, chunkSize int64, replication int) *testCluster {
	t.Helper()
	cfg := config.Coordinator{
		ListenAddr:          "127.0.0.1:0",
		ChunkSize:           chunkSize,
		Replication:         replication,
		LivenessTimeout:     250 * time.Millisecond,
		HousekeeperInterval: 50 * time.Millisecond,
	}
	c := coordinator.New(cfg)
	ln, err := c.Start()
	if err != nil {
		t.Fatalf("start coordinator: %v", err)
	}
	t.Cleanup(c.Shutdown)

	return &testCluster{t: t, coordinator: c, coordAddr: ln.Addr().String(), workers: map[string]*worker.Worker{}, cfg: cfg}
}

func (tc *testCluster) addWorker(id string) *worker.Worker {
	tc.t.Helper()
	wcfg := config.Worker{
		WorkerId:           id,
		ListenAddr:         "127.0.0.1:0",
		Host:               "127.0.0.1",
		StorageDir:         filepath.Join(tc.t.TempDir(), id),
		CoordinatorAddr:    tc.coordAddr,
		HeartbeatInterval:  50 * time.Millisecond,
		RegisterBackoffMin: 20 * time.Millisecond,
		RegisterBackoffMax: 100 * time.Millisecond,
	}
	w, err := worker.New(wcfg)
	if err != nil {
		tc.t.Fatalf("worker.New(%s): %v", id, err)
	}
	if _, err := w.Start(); err != nil {
		tc.t.Fatalf("worker.Start(%s): %v", id, err)
	}
	tc.workers[id] = w
	// give it a moment to register and heartbeat at least once
	time.Sleep(120 * time.Millisecond)
	return w
}

func (tc *testCluster) stopWorker(id string) {
	tc.t.Helper()
	w, ok := tc.workers[id]
	if !ok {
		tc.t.Fatalf("no such worker %s", id)
	}
	w.Shutdown()
	delete(tc.workers, id)
}

func pseudoRandomBytes(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestRoundTripLargeFileWithThreeReplicas(t *testing.T) {
	const chunkSize = 1 << 20 // 1 MiB
	tc := newTestCluster(t, chunkSize, 3)
	tc.addWorker("w1")
	tc.addWorker("w2")
	tc.addWorker("w3")

	data := pseudoRandomBytes(42, int(2.5*chunkSize))
	srcPath := writeTempFile(t, data)

	c := client.New(tc.coordAddr)
	if err := c.Upload(srcPath, "big.bin"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	info, err := c.FileInfo("big.bin")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if len(info.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(info.Chunks))
	}
	for _, chunk := range info.Chunks {
		if len(chunk.Workers) != 3 {
			t.Fatalf("chunk %d: expected 3 replicas, got %d", chunk.ChunkIndex, len(chunk.Workers))
		}
	}

	dstPath := filepath.Join(t.TempDir(), "dst.bin")
	if err := c.Download("big.bin", dstPath); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("downloaded content does not match uploaded content")
	}
}

func TestRoundTripLargeFileWithThreeReplicasParallel(t *testing.T) {
	const chunkSize = 1 << 20 // 1 MiB
	tc := newTestCluster(t, chunkSize, 3)
	tc.addWorker("w1")
	tc.addWorker("w2")
	tc.addWorker("w3")

	data := pseudoRandomBytes(99, int(2.5*chunkSize))
	srcPath := writeTempFile(t, data)

	c := client.New(tc.coordAddr)
	if err := c.UploadParallel(srcPath, "big-parallel.bin"); err != nil {
		t.Fatalf("UploadParallel: %v", err)
	}

	info, err := c.FileInfo("big-parallel.bin")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if len(info.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(info.Chunks))
	}
	for _, chunk := range info.Chunks {
		if len(chunk.Workers) != 3 {
			t.Fatalf("chunk %d: expected 3 replicas, got %d", chunk.ChunkIndex, len(chunk.Workers))
		}
	}

	dstPath := filepath.Join(t.TempDir(), "dst-parallel.bin")
	if err := c.DownloadParallel("big-parallel.bin", dstPath); err != nil {
		t.Fatalf("DownloadParallel: %v", err)
	}
	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("downloaded content does not match uploaded content")
	}
}

// registerPhantomWorker registers a worker with the Coordinator that
// advertises a very high capacity (so placement prefers it) but whose
// address has nothing listening behind it, simulating a worker the
// Coordinator still believes is live but that is actually unreachable.
func registerPhantomWorker(t *testing.T, coordAddr, id string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve phantom port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split phantom addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse phantom port: %v", err)
	}

	client, err := rpc.Dial("tcp", coordAddr)
	if err != nil {
		t.Fatalf("dial coordinator: %v", err)
	}
	defer client.Close()

	var reply models.RegisterWorkerReply
	args := models.RegisterWorkerArgs{WorkerId: id, Host: "127.0.0.1", Port: port, TotalSpace: 1 << 40}
	if err := client.Call("Coordinator.RegisterWorker", args, &reply); err != nil {
		t.Fatalf("register phantom worker: %v", err)
	}
	if !reply.Status.Ok {
		t.Fatalf("register phantom worker rejected: %+v", reply.Status)
	}
}

func TestUploadParallelAbortsBeforeUploadCompleteOnChunkFailure(t *testing.T) {
	tc := newTestCluster(t, 1<<20, 3)
	tc.addWorker("w1")
	tc.addWorker("w2")
	registerPhantomWorker(t, tc.coordAddr, "ghost")

	srcPath := writeTempFile(t, []byte("this upload must not complete"))
	c := client.New(tc.coordAddr)
	if err := c.UploadParallel(srcPath, "f.txt"); err == nil {
		t.Fatalf("expected UploadParallel to fail when a placed replica is unreachable")
	}

	files, err := c.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no file record committed after a failed parallel upload, got %+v", files)
	}
}

func TestRoundTripSmallTextFile(t *testing.T) {
	tc := newTestCluster(t, 1<<20, 3)
	tc.addWorker("w1")
	tc.addWorker("w2")
	tc.addWorker("w3")

	content := []byte("Hello, HDFS!")
	srcPath := writeTempFile(t, content)

	c := client.New(tc.coordAddr)
	if err := c.Upload(srcPath, "hello.txt"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	info, err := c.FileInfo("hello.txt")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), info.Size)
	}
	if len(info.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(info.Chunks))
	}

	dstPath := filepath.Join(t.TempDir(), "dst.txt")
	if err := c.Download("hello.txt", dstPath); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("downloaded content %q does not match uploaded content %q", got, content)
	}
}

func TestUploadInsufficientCapacityLeavesNoRecord(t *testing.T) {
	tc := newTestCluster(t, 1<<20, 3)
	tc.addWorker("w1")
	tc.addWorker("w2")

	srcPath := writeTempFile(t, []byte("short"))
	c := client.New(tc.coordAddr)
	if err := c.Upload(srcPath, "f.txt"); err == nil {
		t.Fatalf("expected upload to fail with only 2 of 3 required workers")
	}

	files, err := c.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no file record after failed upload, got %+v", files)
	}
}

func TestFailoverAfterWorkerDeath(t *testing.T) {
	tc := newTestCluster(t, 1<<20, 3)
	tc.addWorker("w1")
	tc.addWorker("w2")
	tc.addWorker("w3")

	data := pseudoRandomBytes(7, 3<<20)
	srcPath := writeTempFile(t, data)

	c := client.New(tc.coordAddr)
	if err := c.Upload(srcPath, "f.bin"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	tc.stopWorker("w2")
	time.Sleep(tc.cfg.LivenessTimeout + 150*time.Millisecond)

	dstPath := filepath.Join(t.TempDir(), "dst.bin")
	if err := c.Download("f.bin", dstPath); err != nil {
		t.Fatalf("Download after worker death: %v", err)
	}
	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("downloaded content does not match after failover")
	}

	info, err := c.FileInfo("f.bin")
	if err != nil {
		t.Fatalf("FileInfo: %v", err)
	}
	for _, chunk := range info.Chunks {
		for _, w := range chunk.Workers {
			if w.WorkerId == "w2" {
				t.Fatalf("expected dead worker w2 excluded from live replica list")
			}
		}
	}
}

func TestUploadDeleteReuploadSequence(t *testing.T) {
	tc := newTestCluster(t, 1<<20, 3)
	tc.addWorker("w1")
	tc.addWorker("w2")
	tc.addWorker("w3")

	c := client.New(tc.coordAddr)
	srcPath := writeTempFile(t, []byte("version one"))

	if err := c.Upload(srcPath, "f.txt"); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	assertFileCount(t, c, 1)

	if err := c.Delete("f.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	assertFileCount(t, c, 0)

	srcPath2 := writeTempFile(t, []byte("version two, longer than before"))
	if err := c.Upload(srcPath2, "f.txt"); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	assertFileCount(t, c, 1)

	dstPath := filepath.Join(t.TempDir(), "dst.txt")
	if err := c.Download("f.txt", dstPath); err != nil {
		t.Fatalf("download after re-upload: %v", err)
	}
	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != "version two, longer than before" {
		t.Fatalf("expected re-uploaded content, got %q", got)
	}
}

func TestDeleteUnknownFileIsNotAnError(t *testing.T) {
	tc := newTestCluster(t, 1<<20, 3)
	tc.addWorker("w1")
	tc.addWorker("w2")
	tc.addWorker("w3")

	c := client.New(tc.coordAddr)
	if err := c.Delete("never-uploaded.txt"); err != nil {
		t.Fatalf("deleting an unknown file must not be an error, got %v", err)
	}
}

func assertFileCount(t *testing.T, c *client.Client, want int) {
	t.Helper()
	files, err := c.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != want {
		t.Fatalf("expected %d file(s), got %d: %+v", want, len(files), files)
	}
}
