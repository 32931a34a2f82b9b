package main

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"dfstore/client"
	"dfstore/coordinator"
	"dfstore/storagenode"
)

func startCommandCluster(t *testing.T, nodeCount int, chunkSize int64) (*coordinator.Coordinator, []*storagenode.StorageNode) {
	t.Helper()
	coord, err := coordinator.NewAndServe(coordinator.Config{
		ListenAddr:    "127.0.0.1:0",
		DataDir:       t.TempDir(),
		ChunkSize:     chunkSize,
		SweepInterval: 25 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("start coordinator: %v", err)
	}
	t.Cleanup(func() { coord.Shutdown() })

	var nodes []*storagenode.StorageNode
	for i := 0; i < nodeCount; i++ {
		n, err := storagenode.NewAndServe(storagenode.Config{
			NodeID:            fmt.Sprintf("node-%d", i),
			ListenAddr:        "127.0.0.1:0",
			DataDir:           t.TempDir(),
			CoordinatorURL:    coord.URL(),
			HeartbeatInterval: 25 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("start node %d: %v", i, err)
		}
		t.Cleanup(func() { n.Shutdown() })
		nodes = append(nodes, n)
	}

	c := client.NewClient(coord.URL(), 1)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		infos, err := c.Nodes()
		if err == nil {
			active := 0
			for _, n := range infos {
				if n.Status == "active" {
					active++
				}
			}
			if active >= nodeCount {
				// the commands resolve the coordinator through the environment
				t.Setenv("DFS_COORDINATOR_URL", coord.URL())
				return coord, nodes
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%d active nodes never appeared", nodeCount)
	return nil, nil
}

// runCommand executes the root command the way main does, capturing
// cobra's error output instead of exiting the process.
func runCommand(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writePayload(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rnd := rand.New(rand.NewSource(7))
	rnd.Read(data)
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	return path, data
}

func TestUploadDownloadCommands(t *testing.T) {
	startCommandCluster(t, 2, 1024)
	path, want := writePayload(t, 5000)

	// no --name: the file is stored under its basename
	if _, err := runCommand("upload", path); err != nil {
		t.Fatalf("upload command: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored.bin")
	if _, err := runCommand("download", "payload.bin", dest); err != nil {
		t.Fatalf("download command: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("restored file differs from the original")
	}

	for _, args := range [][]string{
		{"listfiles"},
		{"info", "payload.bin"},
		{"nodes"},
	} {
		if _, err := runCommand(args...); err != nil {
			t.Errorf("%v: %v", args, err)
		}
	}
}

func TestCommandsReportChunkFailures(t *testing.T) {
	_, nodes := startCommandCluster(t, 2, 1024)

	// stop node-1's listener; the registry still believes it is active,
	// so the plan keeps assigning chunks to it
	if err := nodes[1].Shutdown(); err != nil {
		t.Fatalf("stop node: %v", err)
	}

	path, _ := writePayload(t, 4*1024)
	out, err := runCommand("upload", path, "--name", "doc.bin")
	var incomplete *client.UploadIncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("upload command: got %v, want UploadIncompleteError", err)
	}
	if want := []int{1, 3}; !reflect.DeepEqual(incomplete.Failed, want) {
		t.Errorf("failed chunks = %v, want %v", incomplete.Failed, want)
	}
	if !strings.Contains(out, "upload incomplete: chunks [1 3] failed") {
		t.Errorf("failure summary not printed, output %q", out)
	}

	dest := filepath.Join(t.TempDir(), "out.bin")
	out, err = runCommand("download", "doc.bin", dest)
	var missing *client.DownloadIncompleteError
	if !errors.As(err, &missing) {
		t.Fatalf("download command: got %v, want DownloadIncompleteError", err)
	}
	if !strings.Contains(out, "download incomplete: chunks [1 3] missing") {
		t.Errorf("failure summary not printed, output %q", out)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("partial download left at %s", dest)
	}
}

func TestCommandsRejectStrayArgs(t *testing.T) {
	// argument validation runs before RunE, so no cluster is needed
	for _, args := range [][]string{
		{"coordinator", "extra"},
		{"storagenode", "extra"},
		{"listfiles", "extra"},
		{"nodes", "extra"},
		{"upload"},
		{"download", "doc.bin"},
	} {
		if _, err := runCommand(args...); err == nil {
			t.Errorf("%v accepted bad arguments", args)
		}
	}
}
