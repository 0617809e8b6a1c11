package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4096, cfg.PageSize)
	assert.Equal(t, 10*time.Second, cfg.LockTimeout)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
	}{
		{"page size too small", func(c *Config) { c.PageSize = 256 }},
		{"page size not power of two", func(c *Config) { c.PageSize = 5000 }},
		{"pool too small", func(c *Config) { c.BufferPoolPages = MinBufferPoolPages - 1 }},
		{"no lock timeout", func(c *Config) { c.LockTimeout = 0 }},
		{"no checkpoint threshold", func(c *Config) { c.WALCheckpointBytes = 0 }},
		{"degree too small", func(c *Config) { c.MaxDegree = 2 }},
		{"unknown backend", func(c *Config) { c.Backend = "yaml" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gsql.yaml")
	require.NoError(t, os.WriteFile(path, []byte("page_size: 8192\nbuffer_pool_pages: 64\nlog:\n  level: debug\n"), 0644))

	t.Setenv("GSQL_BUFFER_POOL_PAGES", "32")
	t.Setenv("GSQL_LOG__FORMAT", "json")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Duration("lock-timeout", DefaultLockTimeout, "")
	flags.String("backend", DefaultBackend, "")
	flags.Int64("wal-cache-bytes", DefaultWALCacheBytes, "")
	require.NoError(t, flags.Parse([]string{"--lock-timeout=250ms", "--wal-cache-bytes=1024"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.PageSize, "from file")
	assert.Equal(t, 32, cfg.BufferPoolPages, "env beats file")
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout, "flag beats default")
	assert.Equal(t, "file", cfg.Backend, "unset flag keeps the default")
	assert.Equal(t, int64(1024), cfg.WALCacheBytes)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, DefaultMaxDegree, cfg.MaxDegree)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_degree: 1\n"), 0644))
	_, err := Load(path, nil)
	assert.Error(t, err)
}
