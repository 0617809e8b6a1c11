package config

import (
	"fmt"
	"time"

	"GSQLCore/types"
)

// Default configuration values.
const (
	DefaultBufferPoolPages    = 100
	DefaultLockTimeout        = 10 * time.Second
	DefaultWALCheckpointBytes = 4 << 20
	DefaultWALCacheBytes      = 8 << 20
	DefaultMaxDegree          = 32
	DefaultBackend            = "file"
	DefaultConfigFile         = "gsql.yaml"

	// A tree operation keeps its whole path and the siblings it touches pinned.
	MinBufferPoolPages = 16
)

// Config is the configuration surface of an open store.
type Config struct {
	PageSize           int           `koanf:"page_size"`
	BufferPoolPages    int           `koanf:"buffer_pool_pages"`
	LockTimeout        time.Duration `koanf:"lock_timeout"`
	WALCheckpointBytes int64         `koanf:"wal_checkpoint_bytes"`
	WALCacheBytes      int64         `koanf:"wal_cache_bytes"`
	MaxDegree          int           `koanf:"max_degree"`
	Backend            string        `koanf:"backend"`
	SyncOnCommit       bool          `koanf:"sync_on_commit"`
	Log                LogConfig     `koanf:"log"`
}

// LogConfig controls the process-wide logrus logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text or json
	File   string `koanf:"file"`
}

// Default returns a Config with every field set to its default.
func Default() Config {
	return Config{
		PageSize:           types.DefaultPageSize,
		BufferPoolPages:    DefaultBufferPoolPages,
		LockTimeout:        DefaultLockTimeout,
		WALCheckpointBytes: DefaultWALCheckpointBytes,
		WALCacheBytes:      DefaultWALCacheBytes,
		MaxDegree:          DefaultMaxDegree,
		Backend:            DefaultBackend,
		SyncOnCommit:       true,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c Config) Validate() error {
	if c.PageSize < types.MinPageSize || c.PageSize > types.MaxPageSize {
		return fmt.Errorf("page_size %d out of range [%d, %d]", c.PageSize, types.MinPageSize, types.MaxPageSize)
	}
	if c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page_size %d is not a power of two", c.PageSize)
	}
	if c.BufferPoolPages < MinBufferPoolPages {
		return fmt.Errorf("buffer_pool_pages must be at least %d, got %d", MinBufferPoolPages, c.BufferPoolPages)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive, got %s", c.LockTimeout)
	}
	if c.WALCheckpointBytes <= 0 {
		return fmt.Errorf("wal_checkpoint_bytes must be positive, got %d", c.WALCheckpointBytes)
	}
	if c.WALCacheBytes < 0 {
		return fmt.Errorf("wal_cache_bytes must not be negative, got %d", c.WALCacheBytes)
	}
	if c.MaxDegree < 3 {
		return fmt.Errorf("max_degree must be at least 3, got %d", c.MaxDegree)
	}
	switch c.Backend {
	case "file", "bolt":
	default:
		return fmt.Errorf("unknown backend %q (want file or bolt)", c.Backend)
	}
	return nil
}
