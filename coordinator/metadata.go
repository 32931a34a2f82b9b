package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"

	"dfstore/helper"
	"dfstore/models"
)

// nodeRecord is the registry entry for one storage node. It is created
// on the node's first heartbeat, updated on every one after that, and
// never deleted.
type nodeRecord struct {
	NodeID        string             `json:"node_id"`
	Address       string             `json:"address"`
	RegisteredAt  time.Time          `json:"registered_at"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
	Metrics       models.NodeMetrics `json:"metrics"`
}

// StatusAt derives liveness from heartbeat recency. Nothing else in the
// system decides node status.
func (n *nodeRecord) StatusAt(now time.Time, timeout time.Duration) models.NodeStatus {
	if now.Sub(n.LastHeartbeat) > timeout {
		return models.NodeInactive
	}
	return models.NodeActive
}

// storeState is the JSON document persisted to disk.
type storeState struct {
	ChunkSize int64                         `json:"chunk_size"`
	Files     map[string]*models.FileRecord `json:"files"`
	Nodes     map[string]*nodeRecord        `json:"nodes"`
}

// MetadataStore owns every file record and the node registry. A single
// exclusive lock serializes all mutations and reads, and every mutation
// is flushed to disk before it becomes visible to the caller.
type MetadataStore struct {
	mu      sync.Mutex
	path    string
	timeout time.Duration
	state   storeState
}

// LoadMetadataStore opens the store in dir, reading back any state a
// previous run persisted there. The chunk size recorded on disk wins
// over the configured one so existing chunk plans stay valid.
func LoadMetadataStore(dir string, chunkSize int64, timeout time.Duration) (*MetadataStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	s := &MetadataStore{
		path:    filepath.Join(dir, helper.MetadataFileName),
		timeout: timeout,
		state: storeState{
			ChunkSize: chunkSize,
			Files:     make(map[string]*models.FileRecord),
			Nodes:     make(map[string]*nodeRecord),
		},
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if err := s.flushLocked(); err != nil {
			return nil, fmt.Errorf("initialize %s: %w", s.path, err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if s.state.Files == nil {
		s.state.Files = make(map[string]*models.FileRecord)
	}
	if s.state.Nodes == nil {
		s.state.Nodes = make(map[string]*nodeRecord)
	}
	if s.state.ChunkSize <= 0 {
		s.state.ChunkSize = chunkSize
	}
	log.Infof("[Coordinator] Loaded metadata: %d files, %d known nodes", len(s.state.Files), len(s.state.Nodes))
	return s, nil
}

// ChunkSize returns the chunk size every new file is split by.
func (s *MetadataStore) ChunkSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ChunkSize
}

// RegisterFile creates the chunk plan for a new file and persists it.
// Placement round-robins over a snapshot of the currently active nodes,
// taken once per call; nodes going up or down afterwards never touch an
// existing plan.
func (s *MetadataStore) RegisterFile(name string, size int64) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Files[name]; ok {
		return nil, fmt.Errorf("register %s: %w", name, helper.ErrDuplicateFile)
	}
	snapshot := s.activeNodesLocked(time.Now())
	if len(snapshot) == 0 {
		return nil, fmt.Errorf("register %s: %w", name, helper.ErrNoActiveNodes)
	}

	record := buildFileRecord(name, size, s.state.ChunkSize, snapshot)
	s.state.Files[name] = record
	if err := s.flushLocked(); err != nil {
		delete(s.state.Files, name)
		return nil, fmt.Errorf("persist %s: %w", name, err)
	}
	log.Infof("[Coordinator] Registered %s (%d bytes) as %d chunks across %d nodes",
		name, size, len(record.Chunks), len(snapshot))
	return record, nil
}

// buildFileRecord computes the chunk plan for a file of the given size.
// Chunk index i lands on snapshot[i mod len(snapshot)]; the final chunk
// carries the remainder.
func buildFileRecord(name string, size, chunkSize int64, snapshot []*nodeRecord) *models.FileRecord {
	fileID := uuid.NewV4().String()
	numChunks := int((size + chunkSize - 1) / chunkSize)
	chunks := make([]models.ChunkDescriptor, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		node := snapshot[i%len(snapshot)]
		start := int64(i) * chunkSize
		length := chunkSize
		if size-start < length {
			length = size - start
		}
		chunks = append(chunks, models.ChunkDescriptor{
			ChunkID:     fmt.Sprintf("%s_%d", fileID, i),
			NodeID:      node.NodeID,
			NodeAddress: node.Address,
			Start:       start,
			Size:        length,
		})
	}
	return &models.FileRecord{
		FileID:    fileID,
		Name:      name,
		Size:      size,
		ChunkSize: chunkSize,
		CreatedAt: time.Now().UTC(),
		Chunks:    chunks,
	}
}

// activeNodesLocked snapshots the active nodes sorted by node id, so
// placement is deterministic for a given registry state.
func (s *MetadataStore) activeNodesLocked(now time.Time) []*nodeRecord {
	var active []*nodeRecord
	for _, node := range s.state.Nodes {
		if node.StatusAt(now, s.timeout) == models.NodeActive {
			active = append(active, node)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].NodeID < active[j].NodeID })
	return active
}

// GetFile returns the record for name, or ErrFileNotFound.
func (s *MetadataStore) GetFile(name string) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.state.Files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, helper.ErrFileNotFound)
	}
	return record, nil
}

// ListFiles returns every stored filename in lexicographic order.
func (s *MetadataStore) ListFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.state.Files))
	for name := range s.state.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Heartbeat upserts the node's registry entry and reports whether this
// was the node's first beat. The in-memory update survives a failed
// flush; the next beat retries persistence.
func (s *MetadataStore) Heartbeat(nodeID, address string, metrics models.NodeMetrics) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	node, ok := s.state.Nodes[nodeID]
	if !ok {
		node = &nodeRecord{NodeID: nodeID, RegisteredAt: now}
		s.state.Nodes[nodeID] = node
	}
	node.Address = address
	node.LastHeartbeat = now
	node.Metrics = metrics
	if err := s.flushLocked(); err != nil {
		return !ok, fmt.Errorf("persist node %s: %w", nodeID, err)
	}
	return !ok, nil
}

// Nodes returns the registry sorted by node id, with each status
// derived at call time.
func (s *MetadataStore) Nodes() []models.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	infos := make([]models.NodeInfo, 0, len(s.state.Nodes))
	for _, node := range s.state.Nodes {
		infos = append(infos, models.NodeInfo{
			NodeID:        node.NodeID,
			Address:       node.Address,
			LastHeartbeat: node.LastHeartbeat,
			Status:        node.StatusAt(now, s.timeout).String(),
			Metrics:       node.Metrics,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].NodeID < infos[j].NodeID })
	return infos
}

// NodeStatuses derives every known node's status at now.
func (s *MetadataStore) NodeStatuses(now time.Time) map[string]models.NodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make(map[string]models.NodeStatus, len(s.state.Nodes))
	for id, node := range s.state.Nodes {
		statuses[id] = node.StatusAt(now, s.timeout)
	}
	return statuses
}

// flushLocked writes the state document through a temp file and rename,
// so the metadata file on disk is always a complete document.
func (s *MetadataStore) flushLocked() error {
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
