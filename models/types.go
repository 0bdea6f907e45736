// Package models holds the data shapes shared across the Coordinator,
// Worker, and Client: the domain records (WorkerDescriptor, FileRecord,
// ChunkPlacement) and the net/rpc argument/reply structs that carry them
// over the wire.
package models

import (
	"strconv"
	"time"
)

// WorkerAddr is the dial target for a Storage Worker.
type WorkerAddr struct {
	WorkerId string
	Host     string
	Port     int
}

// WorkerDescriptor is the Coordinator's view of one Storage Worker.
type WorkerDescriptor struct {
	WorkerId      string
	Host          string
	Port          int
	TotalSpace    int64
	AvailSpace    int64
	Chunks        map[string]struct{}
	LastHeartbeat time.Time
	Epoch         string // registration epoch, log correlation only
}

// Addr projects a WorkerDescriptor down to its dial target.
func (w *WorkerDescriptor) Addr() WorkerAddr {
	return WorkerAddr{WorkerId: w.WorkerId, Host: w.Host, Port: w.Port}
}

// ChunkPlacement is the i-th entry of a file's placement sequence.
type ChunkPlacement struct {
	ChunkIndex int
	ChunkId    string
	WorkerIds  []string
}

// FileRecord is the Coordinator's immutable (except by deletion) namespace
// entry for one logical filename.
type FileRecord struct {
	Filename   string
	Size       int64
	ChunkSize  int64
	CreatedAt  time.Time
	Placements []ChunkPlacement
}

// ChunkCount returns the number of chunks the file was split into.
func (f *FileRecord) ChunkCount() int { return len(f.Placements) }

// ChunkId derives the stable, namespace-unique chunk identifier for the
// i-th chunk of filename, per the chunk id invariant in the data model.
func ChunkId(filename string, index int) string {
	return "chunk_" + filename + "_" + strconv.Itoa(index)
}
