package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/theritikchoure/logx"

	"dfstore/client"
	"dfstore/coordinator"
	"dfstore/storagenode"
)

const envPrefix = "dfs"

type clientConfig struct {
	CoordinatorURL  string `envconfig:"COORDINATOR_URL"`
	TransferWorkers int    `envconfig:"TRANSFER_WORKERS"`
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dfstore",
		Short:        "Minimal single-coordinator distributed file store",
		SilenceUsage: true,
	}
	root.AddCommand(
		newCoordinatorCmd(),
		newStorageNodeCmd(),
		newUploadCmd(),
		newDownloadCmd(),
		newListFilesCmd(),
		newInfoCmd(),
		newNodesCmd(),
	)
	return root
}

func newCoordinatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coordinator",
		Short: "Run the metadata coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg coordinator.Config
			if err := envconfig.Process(envPrefix, &cfg); err != nil {
				return err
			}
			c, err := coordinator.NewAndServe(cfg)
			if err != nil {
				return err
			}
			waitForSignal()
			log.Info("[Coordinator] Shutting down")
			return c.Shutdown()
		},
	}
}

func newStorageNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "storagenode",
		Short: "Run a storage node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg storagenode.Config
			if err := envconfig.Process(envPrefix, &cfg); err != nil {
				return err
			}
			n, err := storagenode.NewAndServe(cfg)
			if err != nil {
				return err
			}
			waitForSignal()
			log.Infof("[Node %s] Shutting down", n.ID())
			return n.Shutdown()
		},
	}
}

func newUploadCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			storeName := name
			if storeName == "" {
				storeName = filepath.Base(args[0])
			}
			report, err := c.Upload(args[0], storeName)
			if err != nil {
				return err
			}
			logx.Logf("Uploaded %s (%d bytes, %d chunks) at %.2f MB/s", logx.FGBLACK, logx.BGGREEN,
				report.Name, report.Bytes, report.Chunks, report.ThroughputMBps)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name to store the file under (defaults to its basename)")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <name> <dest>",
		Short: "Download a stored file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			report, err := c.Download(args[0], args[1])
			if err != nil {
				return err
			}
			logx.Logf("Downloaded %s (%d bytes, %d chunks) at %.2f MB/s", logx.FGBLACK, logx.BGGREEN,
				report.Name, report.Bytes, report.Chunks, report.ThroughputMBps)
			return nil
		},
	}
}

func newListFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listfiles",
		Short: "List every stored file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			names, err := c.ListFiles()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No files stored.")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show a stored file's metadata and chunk distribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			record, err := c.Info(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("File:    %s\n", record.Name)
			fmt.Printf("ID:      %s\n", record.FileID)
			fmt.Printf("Size:    %d bytes (%.2f MB)\n", record.Size, float64(record.Size)/(1024*1024))
			fmt.Printf("Created: %s\n", record.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("Chunks:  %d (chunk size %d bytes)\n", len(record.Chunks), record.ChunkSize)

			counts := make(map[string]int)
			var order []string
			for _, d := range record.Chunks {
				if _, seen := counts[d.NodeID]; !seen {
					order = append(order, d.NodeID)
				}
				counts[d.NodeID]++
			}
			fmt.Println("\nChunk distribution:")
			for _, nodeID := range order {
				fmt.Printf("  node %s: %d chunks\n", nodeID, counts[nodeID])
			}
			return nil
		},
	}
}

func newNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "Show the storage node registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			nodes, err := c.Nodes()
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				fmt.Println("No storage nodes registered.")
				return nil
			}
			for _, n := range nodes {
				fmt.Printf("%-12s %-24s %-8s last heartbeat %s, %d chunks stored\n",
					n.NodeID, n.Address, n.Status,
					n.LastHeartbeat.Local().Format("15:04:05"), n.Metrics.ChunksStored)
			}
			return nil
		},
	}
}

func newClient() (*client.Client, error) {
	var cfg clientConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, err
	}
	if cfg.CoordinatorURL == "" {
		cfg.CoordinatorURL = "http://localhost:5000"
	}
	return client.NewClient(cfg.CoordinatorURL, cfg.TransferWorkers), nil
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
