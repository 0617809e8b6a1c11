// gsqlctl administers a GSQL store directory.
//
//	gsqlctl --dir ./data stats
//	gsqlctl --dir ./data seed --index demo --count 1000
//	gsqlctl --dir ./data exec "BEGIN IMMEDIATE" "PUT demo k1 v1" "COMMIT"
package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"GSQLCore/config"
	"GSQLCore/logging"
	storageengine "GSQLCore/storage_engine"
)

var (
	rootCmd = &cobra.Command{
		Use:               "gsqlctl",
		Short:             "Administer a GSQL store",
		Long:              "gsqlctl opens a GSQL store directory, recovering it if needed, and inspects or changes it.",
		SilenceUsage:      true,
		PersistentPreRunE: rootPreRun,
		PersistentPostRun: rootPostRun,
	}

	storeDir   = "gsql-data"
	configFile = ""

	cfg       config.Config
	logCloser io.Closer
)

func init() {
	def := config.Default()
	fs := rootCmd.PersistentFlags()

	fs.StringVarP(&storeDir, "dir", "d", storeDir, "store `directory`")
	fs.StringVar(&configFile, "config", configFile, "`file` to load config from (default gsql.yaml if present)")

	fs.Int("page-size", def.PageSize, "page size in bytes for a new store")
	fs.Int("buffer-pool-pages", def.BufferPoolPages, "buffer pool capacity in pages")
	fs.Duration("lock-timeout", def.LockTimeout, "how long to wait for a lock")
	fs.Int64("wal-checkpoint-bytes", def.WALCheckpointBytes, "WAL size that triggers a checkpoint at commit")
	fs.Int64("wal-cache-bytes", def.WALCacheBytes, "memory for cached WAL records read during rollback")
	fs.Int("max-degree", def.MaxDegree, "default B+Tree fan-out of new indexes")
	fs.String("backend", def.Backend, "page file backend: file or bolt")
	fs.Bool("sync-on-commit", def.SyncOnCommit, "sync the WAL on every commit")
	fs.String("log-level", def.Log.Level, "log level: trace, debug, info, warn, error")
	fs.String("log-format", def.Log.Format, "log format: text or json")
	fs.String("log-file", def.Log.File, "`file` to log to instead of stderr")

	rootCmd.AddCommand(statsCmd, inspectCmd, checkCmd, recoverCmd, seedCmd, execCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logCloser, err = logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	log.WithField("dir", storeDir).Debug("gsqlctl starting")
	return nil
}

func rootPostRun(cmd *cobra.Command, args []string) {
	if logCloser != nil {
		logCloser.Close()
	}
}

// withStore opens the store, runs fn and closes the store cleanly.
func withStore(fn func(se *storageengine.StorageEngine) error) error {
	se, err := storageengine.Open(storeDir, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store %s: %w", storeDir, err)
	}
	runErr := fn(se)
	if err := se.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
