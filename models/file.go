package models

import "time"

// ChunkDescriptor locates one contiguous byte range of a file on a
// storage node. Descriptors are computed once at registration and never
// change afterwards.
type ChunkDescriptor struct {
	ChunkID     string `json:"chunk_id"`
	NodeID      string `json:"node_id"`
	NodeAddress string `json:"node_address"`
	Start       int64  `json:"start"`
	Size        int64  `json:"size"`
}

// FileRecord is the coordinator's durable record of one stored file.
// Records are immutable once created.
type FileRecord struct {
	FileID    string            `json:"file_id"`
	Name      string            `json:"name"`
	Size      int64             `json:"size"`
	ChunkSize int64             `json:"chunk_size"`
	CreatedAt time.Time         `json:"created_at"`
	Chunks    []ChunkDescriptor `json:"chunks"`
}

type RegisterRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type RegisterResponse struct {
	FileID    string            `json:"file_id"`
	ChunkSize int64             `json:"chunk_size"`
	Chunks    []ChunkDescriptor `json:"chunks"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
