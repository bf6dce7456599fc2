// Package config loads Memento's configuration from environment
// variables (and, optionally, a TOML file) using spf13/viper the way the
// reference corpus's CLI tools (steveyegge-beads, untoldecay-BeadsLog)
// bind environment configuration: one viper instance, explicit env key
// bindings, a typed struct filled via Unmarshal.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// CacheStrategy names one of the pluggable cache strategies.
type CacheStrategy string

const (
	StrategyLRU   CacheStrategy = "lru"
	Strategy2Q    CacheStrategy = "2q"
	StrategyARC   CacheStrategy = "arc"
	StrategyRadix CacheStrategy = "radix"
)

// AgingPreset names one of the five memory-aging presets.
type AgingPreset string

const (
	PresetConservative    AgingPreset = "conservative"
	PresetBalanced        AgingPreset = "balanced"
	PresetAggressive      AgingPreset = "aggressive"
	PresetWorkFocused     AgingPreset = "work_focused"
	PresetPersonalFocused AgingPreset = "personal_focused"
)

// Config is the fully resolved process configuration.
type Config struct {
	// LogLevel backs LOG_LEVEL.
	LogLevel string

	// DataDir is the root directory under which per-context database
	// files are created; individual contexts may override via
	// MEM100X_<CONTEXT>_DB_PATH.
	DataDir string

	// EntityCacheSize backs ENTITY_CACHE_SIZE (entity cache only);
	// SearchCacheSize backs SEARCH_CACHE_SIZE, default 1000.
	EntityCacheSize int
	SearchCacheSize int

	// CacheStrategy backs CACHE_STRATEGY.
	CacheStrategy CacheStrategy

	// AgingPreset backs MEMORY_AGING_PRESET.
	AgingPreset AgingPreset
	// AgingSweepIntervalSeconds backs MEMORY_AGING_SWEEP_INTERVAL_SECONDS;
	// zero means "use the preset's default".
	AgingSweepIntervalSeconds int

	// BloomExpectedItems / BloomFalsePositiveRate back
	// BLOOM_FILTER_EXPECTED_ITEMS / BLOOM_FILTER_FPR.
	BloomExpectedItems     int
	BloomFalsePositiveRate float64

	// DisableRateLimiting backs DISABLE_RATE_LIMITING.
	DisableRateLimiting bool

	// ContextDBPaths holds any explicit MEM100X_<NAME>_DB_PATH overrides,
	// keyed by lowercase context name.
	ContextDBPaths map[string]string

	// Unknown holds env var names recognized neither as a known key nor
	// as a known-deprecated key; surfaced as warnings, never an error.
	Unknown []string
	// Deprecated holds recognized-but-deprecated env var names present
	// in the environment.
	Deprecated []string
}

// knownKeys is the closed set of environment variables this version of
// Memento understands.
var knownKeys = map[string]bool{
	"MEM100X_DATA_DIR":                       true,
	"ENTITY_CACHE_SIZE":                      true,
	"SEARCH_CACHE_SIZE":                      true,
	"CACHE_STRATEGY":                         true,
	"MEMORY_AGING_PRESET":                    true,
	"MEMORY_AGING_SWEEP_INTERVAL_SECONDS":    true,
	"BLOOM_FILTER_EXPECTED_ITEMS":            true,
	"BLOOM_FILTER_FPR":                       true,
	"LOG_LEVEL":                              true,
	"DISABLE_RATE_LIMITING":                  true,
	"MEMENTO_CONFIG_FILE":                    true,
}

// deprecatedKeys maps a retired environment variable to the key that
// replaced it, so the validator can point the operator at the fix.
var deprecatedKeys = map[string]string{
	"MEM100X_CACHE_SIZE":     "ENTITY_CACHE_SIZE",
	"MEMORY_DECAY_RATE":      "MEMORY_AGING_PRESET",
	"BLOOM_SIZE":             "BLOOM_FILTER_EXPECTED_ITEMS",
}

const contextDBPrefix = "MEM100X_"
const contextDBSuffix = "_DB_PATH"

// Load resolves configuration from environ (typically os.Environ()) plus
// an optional TOML config file referenced by MEMENTO_CONFIG_FILE.
func Load(environ []string) (*Config, error) {
	v := viper.New()
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MEM100X_DATA_DIR", "./data")
	v.SetDefault("ENTITY_CACHE_SIZE", 10000)
	v.SetDefault("SEARCH_CACHE_SIZE", 1000)
	v.SetDefault("CACHE_STRATEGY", string(StrategyLRU))
	v.SetDefault("MEMORY_AGING_PRESET", string(PresetBalanced))
	v.SetDefault("MEMORY_AGING_SWEEP_INTERVAL_SECONDS", 0)
	v.SetDefault("BLOOM_FILTER_EXPECTED_ITEMS", 50000)
	v.SetDefault("BLOOM_FILTER_FPR", 0.001)
	v.SetDefault("DISABLE_RATE_LIMITING", false)

	env := make(map[string]string, len(environ))
	contextPaths := make(map[string]string)
	var unknown []string
	var deprecated []string

	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		switch {
		case knownKeys[key]:
			env[key] = val
		case deprecatedKeys[key] != "":
			deprecated = append(deprecated, key)
			// Best-effort: honor the deprecated key as if it were its
			// replacement so operators aren't broken mid-migration.
			env[deprecatedKeys[key]] = val
		case strings.HasPrefix(key, contextDBPrefix) && strings.HasSuffix(key, contextDBSuffix):
			name := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(key, contextDBPrefix), contextDBSuffix))
			contextPaths[name] = val
		default:
			unknown = append(unknown, key)
		}
	}

	for k, val := range env {
		v.Set(k, val)
	}

	if cfgFile := env["MEMENTO_CONFIG_FILE"]; cfgFile != "" {
		var fileCfg map[string]any
		if _, err := toml.DecodeFile(cfgFile, &fileCfg); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", cfgFile, err)
		}
		for k, val := range fileCfg {
			if !v.IsSet(strings.ToUpper(k)) {
				v.Set(strings.ToUpper(k), val)
			}
		}
	}

	cfg := &Config{
		LogLevel:                  v.GetString("LOG_LEVEL"),
		DataDir:                   v.GetString("MEM100X_DATA_DIR"),
		EntityCacheSize:           v.GetInt("ENTITY_CACHE_SIZE"),
		SearchCacheSize:           v.GetInt("SEARCH_CACHE_SIZE"),
		CacheStrategy:             CacheStrategy(strings.ToLower(v.GetString("CACHE_STRATEGY"))),
		AgingPreset:               AgingPreset(strings.ToLower(v.GetString("MEMORY_AGING_PRESET"))),
		AgingSweepIntervalSeconds: v.GetInt("MEMORY_AGING_SWEEP_INTERVAL_SECONDS"),
		BloomExpectedItems:        v.GetInt("BLOOM_FILTER_EXPECTED_ITEMS"),
		BloomFalsePositiveRate:    v.GetFloat64("BLOOM_FILTER_FPR"),
		DisableRateLimiting:       v.GetBool("DISABLE_RATE_LIMITING"),
		ContextDBPaths:            contextPaths,
		Unknown:                   unknown,
		Deprecated:                deprecated,
	}
	return cfg, nil
}

// DBPathFor resolves the on-disk path for a context's primary database
// file, honoring any MEM100X_<NAME>_DB_PATH override.
func (c *Config) DBPathFor(contextName string) string {
	if p, ok := c.ContextDBPaths[strings.ToLower(contextName)]; ok {
		return p
	}
	return fmt.Sprintf("%s/%s.db", strings.TrimRight(c.DataDir, "/"), contextName)
}
