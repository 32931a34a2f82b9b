package storagenode

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dfstore/models"
)

// fakeCoordinator accepts heartbeats and stats the way the real one
// does, recording the heartbeats it sees.
type fakeCoordinator struct {
	srv        *httptest.Server
	heartbeats chan models.HeartbeatRequest
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()
	f := &fakeCoordinator{heartbeats: make(chan models.HeartbeatRequest, 64)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req models.HeartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		select {
		case f.heartbeats <- req:
		default:
		}
		json.NewEncoder(w).Encode(models.HeartbeatResponse{Status: "ok"})
	})
	mux.HandleFunc("POST /stats", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func startTestNode(t *testing.T, coordinatorURL string) *StorageNode {
	t.Helper()
	n, err := NewAndServe(Config{
		NodeID:            "test-node",
		ListenAddr:        "127.0.0.1:0",
		DataDir:           t.TempDir(),
		CoordinatorURL:    coordinatorURL,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { n.Shutdown() })
	return n
}

func putChunk(t *testing.T, nodeURL, chunkID string, payload []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, nodeURL+"/chunks/"+chunkID, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT chunk: %v", err)
	}
	return resp
}

func TestChunkStoreRetrieveHTTP(t *testing.T) {
	fake := newFakeCoordinator(t)
	n := startTestNode(t, fake.srv.URL)

	payload := bytes.Repeat([]byte("ab"), 2048)
	resp := putChunk(t, n.URL(), "f1_0", payload)
	var ack models.StoreChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("store: status %d", resp.StatusCode)
	}
	if ack.Size != int64(len(payload)) || ack.NodeID != "test-node" || ack.Status != "stored" {
		t.Errorf("ack = %+v", ack)
	}

	getResp, err := http.Get(n.URL() + "/chunks/f1_0")
	if err != nil {
		t.Fatalf("GET chunk: %v", err)
	}
	got, err := io.ReadAll(getResp.Body)
	getResp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("retrieve: status %d", getResp.StatusCode)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("retrieved %d bytes that differ from the stored payload", len(got))
	}

	missResp, err := http.Get(n.URL() + "/chunks/missing_0")
	if err != nil {
		t.Fatalf("GET missing chunk: %v", err)
	}
	missResp.Body.Close()
	if missResp.StatusCode != http.StatusNotFound {
		t.Errorf("missing chunk: status %d, want 404", missResp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	fake := newFakeCoordinator(t)
	n := startTestNode(t, fake.srv.URL)

	resp := putChunk(t, n.URL(), "f1_0", []byte("payload"))
	resp.Body.Close()
	getResp, err := http.Get(n.URL() + "/chunks/f1_0")
	if err != nil {
		t.Fatalf("GET chunk: %v", err)
	}
	io.Copy(io.Discard, getResp.Body)
	getResp.Body.Close()

	metricsResp, err := http.Get(n.URL() + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	var hist models.MetricsHistory
	if err := json.NewDecoder(metricsResp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	metricsResp.Body.Close()
	if len(hist.Writes) != 1 || len(hist.Reads) != 1 {
		t.Errorf("history has %d writes and %d reads, want 1 and 1", len(hist.Writes), len(hist.Reads))
	}
	if hist.Writes[0].ChunkID != "f1_0" || hist.Writes[0].Size != 7 {
		t.Errorf("write record = %+v", hist.Writes[0])
	}
}

func TestHeartbeatDelivery(t *testing.T) {
	fake := newFakeCoordinator(t)
	n := startTestNode(t, fake.srv.URL)

	select {
	case hb := <-fake.heartbeats:
		if hb.NodeID != "test-node" {
			t.Errorf("heartbeat node id = %s", hb.NodeID)
		}
		if hb.Address != n.URL() {
			t.Errorf("heartbeat address = %s, want %s", hb.Address, n.URL())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat within 2s")
	}

	select {
	case <-fake.heartbeats:
	case <-time.After(2 * time.Second):
		t.Fatal("no second heartbeat within 2s")
	}
}

func TestChunkTrafficSurvivesCoordinatorOutage(t *testing.T) {
	fake := newFakeCoordinator(t)
	n := startTestNode(t, fake.srv.URL)
	fake.srv.Close()
	time.Sleep(60 * time.Millisecond)

	payload := []byte("still serving")
	resp := putChunk(t, n.URL(), "f9_0", payload)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("store with coordinator down: status %d", resp.StatusCode)
	}

	getResp, err := http.Get(n.URL() + "/chunks/f9_0")
	if err != nil {
		t.Fatalf("GET chunk: %v", err)
	}
	got, err := io.ReadAll(getResp.Body)
	getResp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("retrieved %q, want %q", got, payload)
	}
}
