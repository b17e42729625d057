// Package config handles application configuration.
//
// Settings come from defaults, a key = value .conf file and command-line
// flags, in increasing precedence. The indexer endpoint set is kept in a
// separate YAML file so it can be edited and reloaded on its own.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds daemon runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Ledger node
	Node NodeConfig

	// RPC server
	RPC RPCConfig

	// Default quorum policy for requests that do not carry one
	Policy PolicyConfig

	// Indexer querying
	Indexer IndexerQueryConfig

	// IndexersFile is the YAML endpoint list; Indexers is its content.
	IndexersFile string `conf:"indexers.file"`
	Indexers     []IndexerConfig

	// Graph replay
	Graph GraphConfig

	// Verdict cache
	Cache CacheConfig

	// Logging
	Log LogConfig
}

// NodeConfig describes the ledger node the daemon reads from.
type NodeConfig struct {
	URL          string        `conf:"node.url"`
	Timeout      time.Duration `conf:"node.timeout"`
	PollInterval time.Duration `conf:"node.poll"`
	ReorgDepth   uint64        `conf:"node.reorg_depth"`
	TxCacheSize  int           `conf:"node.txcache"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
	Metrics     bool     `conf:"rpc.metrics"`
}

// PolicyConfig is the default quorum policy.
type PolicyConfig struct {
	MinAgreeing          int     `conf:"policy.min_agreeing"`
	MinFraction          float64 `conf:"policy.min_fraction"`
	FallbackDisagreement bool    `conf:"policy.fallback_disagreement"`
	FallbackInsufficient bool    `conf:"policy.fallback_insufficient"`
}

// Policy converts the configured values to a verdict.Policy.
func (p PolicyConfig) Policy() verdict.Policy {
	return verdict.Policy{
		MinAgreeing:            p.MinAgreeing,
		MinFraction:            p.MinFraction,
		FallbackOnDisagreement: p.FallbackDisagreement,
		FallbackOnInsufficient: p.FallbackInsufficient,
	}
}

// IndexerQueryConfig bounds indexer fan-out.
type IndexerQueryConfig struct {
	Timeout       time.Duration `conf:"indexer.timeout"`
	GlobalTimeout time.Duration `conf:"indexer.global_timeout"`
	Retries       int           `conf:"indexer.retries"`
}

// GraphConfig bounds graph replay.
type GraphConfig struct {
	Timeout     time.Duration `conf:"graph.timeout"`
	Concurrency int           `conf:"graph.concurrency"`
	MaxDepth    int           `conf:"graph.max_depth"`
}

// CacheConfig controls verdict persistence.
type CacheConfig struct {
	Persist bool `conf:"cache.persist"`
	// Reset drops persisted verdicts at startup. Token metadata is kept.
	Reset bool
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `conf:"log.level"`
	File       string `conf:"log.file"`
	JSON       bool   `conf:"log.json"`
	MaxSizeMB  int    `conf:"log.max_size"`
	MaxBackups int    `conf:"log.max_backups"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.slpvalid
//	macOS:   ~/Library/Application Support/SLPValid
//	Windows: %APPDATA%\SLPValid
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slpvalid"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "SLPValid")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "SLPValid")
		}
		return filepath.Join(home, "AppData", "Roaming", "SLPValid")
	default:
		return filepath.Join(home, ".slpvalid")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// CacheDir returns the verdict database directory.
func (c *Config) CacheDir() string {
	return filepath.Join(c.NetworkDataDir(), "verdicts")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "slpvalid.conf")
}

// IndexersPath returns the indexer list path, resolving a relative
// IndexersFile against the data directory.
func (c *Config) IndexersPath() string {
	if c.IndexersFile == "" {
		return filepath.Join(c.DataDir, "indexers.yaml")
	}
	if filepath.IsAbs(c.IndexersFile) {
		return c.IndexersFile
	}
	return filepath.Join(c.DataDir, c.IndexersFile)
}
