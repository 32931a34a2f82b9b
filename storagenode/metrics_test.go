package storagenode

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func TestMetricsAccumulate(t *testing.T) {
	m := NewMetrics()
	m.RecordWrite("c_0", 1024, 10*time.Millisecond)
	m.RecordWrite("c_1", 2048, 10*time.Millisecond)
	m.RecordRead("c_0", 1024, 5*time.Millisecond)

	snap := m.Snapshot()
	if snap.ChunksStored != 2 {
		t.Errorf("chunks stored = %d, want 2", snap.ChunksStored)
	}
	if snap.BytesWritten != 3072 {
		t.Errorf("bytes written = %d, want 3072", snap.BytesWritten)
	}
	if snap.BytesRead != 1024 {
		t.Errorf("bytes read = %d, want 1024", snap.BytesRead)
	}
	if snap.WriteMBps <= 0 || snap.ReadMBps <= 0 {
		t.Errorf("throughput not recorded: %+v", snap)
	}

	hist := m.History()
	if len(hist.Writes) != 2 || len(hist.Reads) != 1 {
		t.Errorf("history has %d writes and %d reads", len(hist.Writes), len(hist.Reads))
	}
}

func TestMetricsZeroDurationStaysFinite(t *testing.T) {
	m := NewMetrics()
	rec := m.RecordWrite("c_0", 4096, 0)
	if math.IsInf(rec.ThroughputMBps, 0) || math.IsNaN(rec.ThroughputMBps) {
		t.Fatalf("throughput = %v", rec.ThroughputMBps)
	}
}

func TestMetricsHistoryBounded(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < metricsHistorySize+10; i++ {
		m.RecordWrite(fmt.Sprintf("c_%d", i), 1, time.Millisecond)
	}
	hist := m.History()
	if len(hist.Writes) != metricsHistorySize {
		t.Fatalf("history len = %d, want %d", len(hist.Writes), metricsHistorySize)
	}
	if hist.Writes[0].ChunkID != "c_10" {
		t.Errorf("oldest kept record is %s, want c_10", hist.Writes[0].ChunkID)
	}
}
