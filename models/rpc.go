package models

import "time"

// Status travels on every reply so a Worker or Coordinator can report a
// structured failure without the caller needing a gob-encodable error
// interface. Ok is false iff Kind/Message are populated.
type Status struct {
	Ok      bool
	Kind    string
	Message string
}

/* ===================== Coordinator RPC surface ===================== */

type RegisterWorkerArgs struct {
	WorkerId   string
	Host       string
	Port       int
	TotalSpace int64
}

type RegisterWorkerReply struct {
	Status Status
}

type HeartbeatArgs struct {
	WorkerId   string
	AvailSpace int64
	TotalSpace int64
	ChunkIds   []string
}

type HeartbeatReply struct {
	Status Status
}

type UploadInitArgs struct {
	Filename string
	Filesize int64
}

type PlanEntry struct {
	ChunkIndex int
	ChunkId    string
	Workers    []WorkerAddr
}

type UploadInitReply struct {
	Status      Status
	ChunkSize   int64
	Replication int
	Plan        []PlanEntry
}

type UploadCompleteArgs struct {
	Filename   string
	Filesize   int64
	Placements []ChunkPlacement
}

type UploadCompleteReply struct {
	Status Status
}

type DownloadInitArgs struct {
	Filename string
}

type DownloadInitReply struct {
	Status    Status
	Filesize  int64
	ChunkSize int64
	Chunks    []PlanEntry
}

type ListFilesArgs struct{}

type FileSummary struct {
	Filename   string
	Size       int64
	ChunkCount int
	CreatedAt  time.Time
}

type ListFilesReply struct {
	Status Status
	Files  []FileSummary
}

type FileInfoArgs struct {
	Filename string
}

type FileInfoReply struct {
	Status     Status
	Filename   string
	Size       int64
	ChunkSize  int64
	CreatedAt  time.Time
	Chunks     []PlanEntry
}

type DeleteFileArgs struct {
	Filename string
}

type DeleteFileReply struct {
	Status Status
}

type WorkerStatus struct {
	WorkerId   string
	Host       string
	Port       int
	Alive      bool
	ChunkCount int
	AvailSpace int64
	TotalSpace int64
}

type ClusterStatusArgs struct{}

type ClusterStatusReply struct {
	Status     Status
	FileCount  int
	TotalBytes int64
	Workers    []WorkerStatus
}

/* ===================== Worker RPC surface ===================== */

type StoreChunkArgs struct {
	ChunkId string
	Data    []byte
}

type StoreChunkReply struct {
	Status Status
}

type RetrieveChunkArgs struct {
	ChunkId string
}

type RetrieveChunkReply struct {
	Status Status
	Data   []byte
}

type DeleteChunkArgs struct {
	ChunkId string
}

type DeleteChunkReply struct {
	Status Status
}
