package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"dfstore/helper"
	"dfstore/models"
)

// TransferReport summarizes one upload or download.
type TransferReport struct {
	Name           string
	FileID         string
	Bytes          int64
	Chunks         int
	Failed         []int
	Duration       time.Duration
	ThroughputMBps float64
}

// Upload registers the file with the coordinator and streams every
// chunk to its assigned node in parallel. On partial failure the
// returned report and error name the failed indices.
func (c *Client) Upload(path, name string) (*TransferReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	plan, err := c.registerFile(name, fi.Size())
	if err != nil {
		return nil, err
	}
	log.Infof("[Client] Uploading %s (%d bytes) in %d chunks", name, fi.Size(), len(plan.Chunks))

	start := time.Now()
	failed := c.runTransfers(plan.Chunks, func(d models.ChunkDescriptor) error {
		return c.uploadChunk(f, d)
	})
	report := newTransferReport(name, plan.FileID, fi.Size(), len(plan.Chunks), failed, time.Since(start))
	if len(failed) > 0 {
		return report, &UploadIncompleteError{Failed: failed}
	}
	return report, nil
}

// Download fetches every chunk in parallel, writing each at its
// descriptor offset. The destination is removed if any chunk is
// missing, so a partial download is never mistaken for the file.
func (c *Client) Download(name, dest string) (*TransferReport, error) {
	record, err := c.Info(name)
	if err != nil {
		return nil, err
	}

	out, err := os.Create(dest)
	if err != nil {
		return nil, err
	}
	if err := out.Truncate(record.Size); err != nil {
		out.Close()
		os.Remove(dest)
		return nil, err
	}
	log.Infof("[Client] Downloading %s (%d bytes) in %d chunks", name, record.Size, len(record.Chunks))

	start := time.Now()
	failed := c.runTransfers(record.Chunks, func(d models.ChunkDescriptor) error {
		return c.downloadChunk(out, d)
	})
	closeErr := out.Close()

	report := newTransferReport(name, record.FileID, record.Size, len(record.Chunks), failed, time.Since(start))
	if len(failed) > 0 {
		os.Remove(dest)
		return report, &DownloadIncompleteError{Missing: failed}
	}
	if closeErr != nil {
		os.Remove(dest)
		return report, closeErr
	}
	return report, nil
}

// runTransfers fans the chunks out to a bounded worker pool and returns
// the sorted indices of every failed transfer. A failed chunk never
// stalls the rest of the pool.
func (c *Client) runTransfers(chunks []models.ChunkDescriptor, transfer func(models.ChunkDescriptor) error) []int {
	workers := c.workers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	tasks := make(chan int)
	var (
		mu     sync.Mutex
		failed []int
		wg     sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				if err := transfer(chunks[i]); err != nil {
					log.Errorf("[Client] Chunk %d (%s): %v", i, chunks[i].ChunkID, err)
					mu.Lock()
					failed = append(failed, i)
					mu.Unlock()
				}
			}
		}()
	}
	for i := range chunks {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	sort.Ints(failed)
	return failed
}

// uploadChunk reads the descriptor's byte range and PUTs it to the
// assigned node. ReadAt is safe on the shared file handle.
func (c *Client) uploadChunk(f *os.File, d models.ChunkDescriptor) error {
	buf := make([]byte, d.Size)
	if _, err := f.ReadAt(buf, d.Start); err != nil {
		return fmt.Errorf("read range [%d,%d): %w", d.Start, d.Start+d.Size, err)
	}
	req, err := http.NewRequest(http.MethodPut, d.NodeAddress+"/chunks/"+d.ChunkID, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("node %s unreachable: %w", d.NodeID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node %s replied %s", d.NodeID, resp.Status)
	}
	return nil
}

// downloadChunk GETs one chunk and writes it at the descriptor offset.
// WriteAt is safe on the shared file handle; chunk ranges are disjoint.
func (c *Client) downloadChunk(out *os.File, d models.ChunkDescriptor) error {
	resp, err := c.httpc.Get(d.NodeAddress + "/chunks/" + d.ChunkID)
	if err != nil {
		return fmt.Errorf("node %s unreachable: %w", d.NodeID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("chunk %s on node %s: %w", d.ChunkID, d.NodeID, helper.ErrChunkNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node %s replied %s", d.NodeID, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read chunk %s: %w", d.ChunkID, err)
	}
	if _, err := out.WriteAt(data, d.Start); err != nil {
		return fmt.Errorf("write range [%d,%d): %w", d.Start, d.Start+int64(len(data)), err)
	}
	return nil
}

func newTransferReport(name, fileID string, size int64, chunks int, failed []int, elapsed time.Duration) *TransferReport {
	r := &TransferReport{
		Name:     name,
		FileID:   fileID,
		Bytes:    size,
		Chunks:   chunks,
		Failed:   failed,
		Duration: elapsed,
	}
	if len(failed) == 0 {
		r.ThroughputMBps = helper.ThroughputMBps(size, elapsed)
	}
	return r
}
