package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides: GSQL_PAGE_SIZE -> page_size,
// GSQL_LOG__LEVEL -> log.level.
const EnvPrefix = "GSQL_"

// Load builds a Config from defaults, an optional YAML file, GSQL_* environment
// variables and explicitly set flags, in increasing order of precedence.
// An empty cfgFile falls back to gsql.yaml in the working directory when present.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	def := Default()

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"page_size":            def.PageSize,
		"buffer_pool_pages":    def.BufferPoolPages,
		"lock_timeout":         def.LockTimeout.String(),
		"wal_checkpoint_bytes": def.WALCheckpointBytes,
		"wal_cache_bytes":      def.WALCacheBytes,
		"max_degree":           def.MaxDegree,
		"backend":              def.Backend,
		"sync_on_commit":       def.SyncOnCommit,
		"log.level":            def.Log.Level,
		"log.format":           def.Log.Format,
		"log.file":             def.Log.File,
	}, "."), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			cfgFile = DefaultConfigFile
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were set explicitly; --log-level maps to log.level
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if strings.HasPrefix(key, "log_") {
				key = "log." + strings.TrimPrefix(key, "log_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
