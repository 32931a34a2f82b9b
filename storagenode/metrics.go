package storagenode

import (
	"sync"
	"time"

	"dfstore/helper"
	"dfstore/models"
)

// metricsHistorySize bounds the per-operation history kept for /metrics.
const metricsHistorySize = 128

// Metrics accumulates transfer counters reported with heartbeats and
// keeps a bounded history of recent operations.
type Metrics struct {
	mu           sync.Mutex
	chunksStored int64
	bytesWritten int64
	bytesRead    int64
	writeMBps    float64
	readMBps     float64
	writes       []models.OpRecord
	reads        []models.OpRecord
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) RecordWrite(chunkID string, size int64, d time.Duration) models.OpRecord {
	rec := newOpRecord(chunkID, size, d)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunksStored++
	m.bytesWritten += size
	m.writeMBps = rec.ThroughputMBps
	m.writes = appendBounded(m.writes, rec)
	return rec
}

func (m *Metrics) RecordRead(chunkID string, size int64, d time.Duration) models.OpRecord {
	rec := newOpRecord(chunkID, size, d)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesRead += size
	m.readMBps = rec.ThroughputMBps
	m.reads = appendBounded(m.reads, rec)
	return rec
}

// Snapshot returns the accumulated counters for a heartbeat.
func (m *Metrics) Snapshot() models.NodeMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.NodeMetrics{
		ChunksStored: m.chunksStored,
		BytesWritten: m.bytesWritten,
		BytesRead:    m.bytesRead,
		WriteMBps:    m.writeMBps,
		ReadMBps:     m.readMBps,
	}
}

// History returns copies of the recent per-operation records.
func (m *Metrics) History() models.MetricsHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.MetricsHistory{
		Reads:  append([]models.OpRecord(nil), m.reads...),
		Writes: append([]models.OpRecord(nil), m.writes...),
	}
}

func newOpRecord(chunkID string, size int64, d time.Duration) models.OpRecord {
	return models.OpRecord{
		ChunkID:        chunkID,
		Size:           size,
		DurationMS:     float64(d) / float64(time.Millisecond),
		ThroughputMBps: helper.ThroughputMBps(size, d),
		Timestamp:      time.Now().UTC(),
	}
}

func appendBounded(records []models.OpRecord, rec models.OpRecord) []models.OpRecord {
	records = append(records, rec)
	if len(records) > metricsHistorySize {
		records = records[len(records)-metricsHistorySize:]
	}
	return records
}
