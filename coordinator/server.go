package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/theritikchoure/logx"

	"dfstore/helper"
	"dfstore/models"
)

type Config struct {
	ListenAddr      string        `envconfig:"COORDINATOR_LISTEN"`
	DataDir         string        `envconfig:"COORDINATOR_DATA"`
	ChunkSize       int64         `envconfig:"CHUNK_SIZE"`
	LivenessTimeout time.Duration `envconfig:"LIVENESS_TIMEOUT"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL"`
}

func (c *Config) fillDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":5000"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = helper.DefaultChunkSize
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = helper.DefaultLivenessTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = helper.DefaultSweepInterval
	}
}

// Coordinator is the single metadata server. It answers placement and
// lookup requests and tracks storage node liveness; chunk bytes never
// flow through it.
type Coordinator struct {
	cfg     Config
	store   *MetadataStore
	sweeper *livenessSweeper
	l       net.Listener
	srv     *http.Server
}

// NewAndServe loads the metadata store, starts the liveness sweep and
// serves the coordinator API until Shutdown is called.
func NewAndServe(cfg Config) (*Coordinator, error) {
	cfg.fillDefaults()
	store, err := LoadMetadataStore(cfg.DataDir, cfg.ChunkSize, cfg.LivenessTimeout)
	if err != nil {
		return nil, fmt.Errorf("load metadata store: %w", err)
	}

	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	c := &Coordinator{
		cfg:     cfg,
		store:   store,
		sweeper: newLivenessSweeper(store, cfg.SweepInterval),
		l:       l,
	}
	c.srv = &http.Server{Handler: c.routes()}

	go c.sweeper.run()
	go func() {
		if err := c.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[Coordinator] Server stopped: %v", err)
		}
	}()
	log.Infof("[Coordinator] Listening on %s (chunk size %d bytes)", l.Addr(), store.ChunkSize())
	return c, nil
}

// Addr returns the bound listen address.
func (c *Coordinator) Addr() string { return c.l.Addr().String() }

// URL returns the base URL clients and nodes should use.
func (c *Coordinator) URL() string { return "http://" + c.l.Addr().String() }

// Store exposes the metadata store.
func (c *Coordinator) Store() *MetadataStore { return c.store }

// Shutdown stops the sweeper and drains the HTTP server.
func (c *Coordinator) Shutdown() error {
	c.sweeper.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.srv.Shutdown(ctx)
}

func (c *Coordinator) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", c.handleRegisterFile)
	mux.HandleFunc("GET /files", c.handleListFiles)
	mux.HandleFunc("GET /files/{name}", c.handleGetFile)
	mux.HandleFunc("POST /heartbeat", c.handleHeartbeat)
	mux.HandleFunc("POST /stats", c.handleStats)
	mux.HandleFunc("GET /nodes", c.handleListNodes)
	return mux
}

func (c *Coordinator) handleRegisterFile(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		helper.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" {
		helper.WriteError(w, http.StatusBadRequest, "missing filename")
		return
	}
	if req.Size < 0 {
		helper.WriteError(w, http.StatusBadRequest, "negative file size")
		return
	}

	record, err := c.store.RegisterFile(req.Filename, req.Size)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	helper.WriteJSON(w, http.StatusOK, models.RegisterResponse{
		FileID:    record.FileID,
		ChunkSize: record.ChunkSize,
		Chunks:    record.Chunks,
	})
}

func (c *Coordinator) handleListFiles(w http.ResponseWriter, r *http.Request) {
	helper.WriteJSON(w, http.StatusOK, c.store.ListFiles())
}

func (c *Coordinator) handleGetFile(w http.ResponseWriter, r *http.Request) {
	record, err := c.store.GetFile(r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	helper.WriteJSON(w, http.StatusOK, record)
}

func (c *Coordinator) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		helper.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NodeID == "" || req.Address == "" {
		helper.WriteError(w, http.StatusBadRequest, "missing node_id or address")
		return
	}

	first, err := c.store.Heartbeat(req.NodeID, req.Address, req.Metrics)
	if err != nil {
		log.Errorf("[Coordinator] Heartbeat from %s: %v", req.NodeID, err)
		helper.WriteError(w, http.StatusInternalServerError, "failed to persist node record")
		return
	}
	if first {
		logx.Logf("Registering storage node %s at %s", logx.FGBLUE, logx.BGWHITE, req.NodeID, req.Address)
	}
	helper.WriteJSON(w, http.StatusOK, models.HeartbeatResponse{Status: "ok"})
}

func (c *Coordinator) handleStats(w http.ResponseWriter, r *http.Request) {
	var req models.StatsReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		helper.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NodeID == "" || req.Operation == "" {
		helper.WriteError(w, http.StatusBadRequest, "missing node_id or operation")
		return
	}

	throughput := helper.ThroughputMBps(req.Bytes, time.Duration(req.DurationMS*float64(time.Millisecond)))
	log.Infof("[Coordinator] Node %s %s: %d bytes in %.2f ms (%.2f MB/s)",
		req.NodeID, req.Operation, req.Bytes, req.DurationMS, throughput)
	helper.WriteJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (c *Coordinator) handleListNodes(w http.ResponseWriter, r *http.Request) {
	helper.WriteJSON(w, http.StatusOK, c.store.Nodes())
}

// writeStoreError maps store errors onto API status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, helper.ErrDuplicateFile):
		helper.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, helper.ErrNoActiveNodes):
		helper.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, helper.ErrFileNotFound):
		helper.WriteError(w, http.StatusNotFound, err.Error())
	default:
		helper.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
