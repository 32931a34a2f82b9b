package storagenode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"dfstore/helper"
	"dfstore/models"
)

type Config struct {
	NodeID            string        `envconfig:"NODE_ID"`
	ListenAddr        string        `envconfig:"NODE_LISTEN"`
	AdvertiseURL      string        `envconfig:"NODE_URL"`
	DataDir           string        `envconfig:"NODE_DATA"`
	CoordinatorURL    string        `envconfig:"COORDINATOR_URL"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL"`
}

func (c *Config) fillDefaults() {
	if c.NodeID == "" {
		c.NodeID = uuid.New().String()[:8]
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8001"
	}
	if c.DataDir == "" {
		c.DataDir = "chunkdata"
	}
	if c.CoordinatorURL == "" {
		c.CoordinatorURL = "http://localhost:5000"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = helper.DefaultHeartbeatInterval
	}
}

// StorageNode serves chunk bytes over HTTP and reports liveness to the
// coordinator. It holds no placement state; every chunk it owns was
// assigned by a coordinator chunk plan.
type StorageNode struct {
	cfg      Config
	store    *DiskStore
	metrics  *Metrics
	httpc    *http.Client
	l        net.Listener
	srv      *http.Server
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewAndServe opens the chunk dir, starts serving and begins
// heartbeating. The first beat doubles as registration with the
// coordinator.
func NewAndServe(cfg Config) (*StorageNode, error) {
	cfg.fillDefaults()
	store, err := NewDiskStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	if cfg.AdvertiseURL == "" {
		_, port, err := net.SplitHostPort(l.Addr().String())
		if err != nil {
			l.Close()
			return nil, err
		}
		cfg.AdvertiseURL = "http://localhost:" + port
	}

	n := &StorageNode{
		cfg:      cfg,
		store:    store,
		metrics:  NewMetrics(),
		httpc:    &http.Client{Timeout: helper.DefaultRequestTimeout},
		l:        l,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	n.srv = &http.Server{Handler: n.routes()}

	go func() {
		if err := n.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[Node %s] Server stopped: %v", n.cfg.NodeID, err)
		}
	}()
	go n.heartbeatLoop()
	log.Infof("[Node %s] Serving chunks on %s, chunk dir %s, coordinator %s",
		cfg.NodeID, l.Addr(), cfg.DataDir, cfg.CoordinatorURL)
	return n, nil
}

// ID returns the node id used in heartbeats and chunk plans.
func (n *StorageNode) ID() string { return n.cfg.NodeID }

// Addr returns the bound listen address.
func (n *StorageNode) Addr() string { return n.l.Addr().String() }

// URL returns the address advertised to the coordinator.
func (n *StorageNode) URL() string { return n.cfg.AdvertiseURL }

// Shutdown stops heartbeating and drains the HTTP server. Calling it
// more than once is safe.
func (n *StorageNode) Shutdown() error {
	var err error
	n.stopOnce.Do(func() {
		close(n.shutdown)
		<-n.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = n.srv.Shutdown(ctx)
	})
	return err
}

func (n *StorageNode) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /chunks/{chunk_id}", n.handleStoreChunk)
	mux.HandleFunc("GET /chunks/{chunk_id}", n.handleRetrieveChunk)
	mux.HandleFunc("GET /metrics", n.handleMetrics)
	return mux
}

func (n *StorageNode) handleStoreChunk(w http.ResponseWriter, r *http.Request) {
	chunkID := r.PathValue("chunk_id")
	start := time.Now()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		helper.WriteError(w, http.StatusBadRequest, "failed to read chunk body")
		return
	}
	if err := n.store.Store(chunkID, data); err != nil {
		if errors.Is(err, helper.ErrInvalidChunkID) {
			helper.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Errorf("[Node %s] Storing chunk %s: %v", n.cfg.NodeID, chunkID, err)
		helper.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec := n.metrics.RecordWrite(chunkID, int64(len(data)), time.Since(start))
	log.Infof("[Node %s] Stored chunk %s (%d bytes) at %.2f MB/s",
		n.cfg.NodeID, chunkID, len(data), rec.ThroughputMBps)
	log.Debugf("[Node %s] Chunk %s payload: %s", n.cfg.NodeID, chunkID, helper.TruncateOutput(data))
	go n.reportStat("write", rec)
	helper.WriteJSON(w, http.StatusOK, models.StoreChunkResponse{
		Status:         "stored",
		ChunkID:        chunkID,
		Size:           rec.Size,
		NodeID:         n.cfg.NodeID,
		DurationMS:     rec.DurationMS,
		ThroughputMBps: rec.ThroughputMBps,
	})
}

func (n *StorageNode) handleRetrieveChunk(w http.ResponseWriter, r *http.Request) {
	chunkID := r.PathValue("chunk_id")
	start := time.Now()
	data, err := n.store.Retrieve(chunkID)
	if err != nil {
		switch {
		case errors.Is(err, helper.ErrChunkNotFound):
			helper.WriteError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, helper.ErrInvalidChunkID):
			helper.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			log.Errorf("[Node %s] Retrieving chunk %s: %v", n.cfg.NodeID, chunkID, err)
			helper.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	rec := n.metrics.RecordRead(chunkID, int64(len(data)), time.Since(start))
	log.Infof("[Node %s] Retrieved chunk %s (%d bytes) at %.2f MB/s",
		n.cfg.NodeID, chunkID, len(data), rec.ThroughputMBps)
	go n.reportStat("read", rec)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Errorf("[Node %s] Sending chunk %s: %v", n.cfg.NodeID, chunkID, err)
	}
}

func (n *StorageNode) handleMetrics(w http.ResponseWriter, r *http.Request) {
	helper.WriteJSON(w, http.StatusOK, n.metrics.History())
}

// heartbeatLoop reports liveness and accumulated metrics until
// shutdown. Send failures are logged and retried on the next tick; a
// down coordinator never stops chunk traffic.
func (n *StorageNode) heartbeatLoop() {
	defer close(n.done)
	if err := n.sendHeartbeat(); err != nil {
		log.Warnf("[Node %s] Heartbeat failed: %v", n.cfg.NodeID, err)
	}
	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.shutdown:
			return
		case <-ticker.C:
			if err := n.sendHeartbeat(); err != nil {
				log.Warnf("[Node %s] Heartbeat failed: %v", n.cfg.NodeID, err)
			}
		}
	}
}

func (n *StorageNode) sendHeartbeat() error {
	req := models.HeartbeatRequest{
		NodeID:  n.cfg.NodeID,
		Address: n.cfg.AdvertiseURL,
		Metrics: n.metrics.Snapshot(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := n.httpc.Post(n.cfg.CoordinatorURL+"/heartbeat", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coordinator replied %s", resp.Status)
	}
	return nil
}

// reportStat forwards one operation's stats to the coordinator.
// Failures are dropped; stats never block chunk traffic.
func (n *StorageNode) reportStat(operation string, rec models.OpRecord) {
	report := models.StatsReport{
		NodeID:     n.cfg.NodeID,
		Operation:  operation,
		Bytes:      rec.Size,
		DurationMS: rec.DurationMS,
	}
	body, err := json.Marshal(report)
	if err != nil {
		return
	}
	resp, err := n.httpc.Post(n.cfg.CoordinatorURL+"/stats", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Debugf("[Node %s] Reporting %s stats: %v", n.cfg.NodeID, operation, err)
		return
	}
	resp.Body.Close()
}
