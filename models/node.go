package models

import "time"

type NodeStatus int

const (
	NodeActive NodeStatus = iota
	NodeInactive
)

func (s NodeStatus) String() string {
	if s == NodeActive {
		return "active"
	}
	return "inactive"
}

// NodeMetrics are the accumulated transfer counters a storage node
// reports with every heartbeat.
type NodeMetrics struct {
	ChunksStored int64   `json:"chunks_stored"`
	BytesWritten int64   `json:"bytes_written"`
	BytesRead    int64   `json:"bytes_read"`
	WriteMBps    float64 `json:"write_mbps"`
	ReadMBps     float64 `json:"read_mbps"`
}

type HeartbeatRequest struct {
	NodeID  string      `json:"node_id"`
	Address string      `json:"address"`
	Metrics NodeMetrics `json:"metrics"`
}

type HeartbeatResponse struct {
	Status string `json:"status"`
}

// NodeInfo is the registry view returned by the coordinator. Status is
// derived from heartbeat recency at the time of the request.
type NodeInfo struct {
	NodeID        string      `json:"node_id"`
	Address       string      `json:"address"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	Status        string      `json:"status"`
	Metrics       NodeMetrics `json:"metrics"`
}

// StoreChunkResponse acknowledges one stored chunk.
type StoreChunkResponse struct {
	Status         string  `json:"status"`
	ChunkID        string  `json:"chunk_id"`
	Size           int64   `json:"size"`
	NodeID         string  `json:"node_id"`
	DurationMS     float64 `json:"duration_ms"`
	ThroughputMBps float64 `json:"throughput_mbps"`
}

// StatsReport is a single-operation throughput report a storage node
// sends to the coordinator after serving a chunk request.
type StatsReport struct {
	NodeID     string  `json:"node_id"`
	Operation  string  `json:"operation"`
	Bytes      int64   `json:"bytes"`
	DurationMS float64 `json:"duration_ms"`
}

// OpRecord is one served chunk operation in a node's metrics history.
type OpRecord struct {
	ChunkID        string    `json:"chunk_id"`
	Size           int64     `json:"size"`
	DurationMS     float64   `json:"duration_ms"`
	ThroughputMBps float64   `json:"throughput_mbps"`
	Timestamp      time.Time `json:"timestamp"`
}

type MetricsHistory struct {
	Reads  []OpRecord `json:"reads"`
	Writes []OpRecord `json:"writes"`
}
