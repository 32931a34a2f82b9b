package helper

import (
	"errors"
	"time"
)

const (
	DefaultChunkSize = 4 * 1024 * 1024

	DefaultHeartbeatInterval = 10 * time.Second
	DefaultLivenessTimeout   = 30 * time.Second
	DefaultSweepInterval     = 10 * time.Second

	DefaultTransferWorkers = 5
	DefaultRequestTimeout  = 30 * time.Second

	MetadataFileName = "metadata.json"
)

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrDuplicateFile  = errors.New("file already exists")
	ErrNoActiveNodes  = errors.New("no active storage nodes available")
	ErrChunkNotFound  = errors.New("chunk not found")
	ErrInvalidChunkID = errors.New("invalid chunk id")
)
