package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads daemon configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// Ledger node
	case "node.url":
		cfg.Node.URL = value
	case "node.timeout":
		cfg.Node.Timeout, err = time.ParseDuration(value)
	case "node.poll":
		cfg.Node.PollInterval, err = time.ParseDuration(value)
	case "node.reorg_depth":
		cfg.Node.ReorgDepth, err = strconv.ParseUint(value, 10, 64)
	case "node.txcache":
		cfg.Node.TxCacheSize, err = strconv.Atoi(value)

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		cfg.RPC.Port, err = strconv.Atoi(value)
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)
	case "rpc.metrics":
		cfg.RPC.Metrics = parseBool(value)

	// Policy
	case "policy.min_agreeing":
		cfg.Policy.MinAgreeing, err = strconv.Atoi(value)
	case "policy.min_fraction":
		cfg.Policy.MinFraction, err = strconv.ParseFloat(value, 64)
	case "policy.fallback_disagreement":
		cfg.Policy.FallbackDisagreement = parseBool(value)
	case "policy.fallback_insufficient":
		cfg.Policy.FallbackInsufficient = parseBool(value)

	// Indexers
	case "indexers.file":
		cfg.IndexersFile = value
	case "indexer.timeout":
		cfg.Indexer.Timeout, err = time.ParseDuration(value)
	case "indexer.global_timeout":
		cfg.Indexer.GlobalTimeout, err = time.ParseDuration(value)
	case "indexer.retries":
		cfg.Indexer.Retries, err = strconv.Atoi(value)

	// Graph replay
	case "graph.timeout":
		cfg.Graph.Timeout, err = time.ParseDuration(value)
	case "graph.concurrency":
		cfg.Graph.Concurrency, err = strconv.Atoi(value)
	case "graph.max_depth":
		cfg.Graph.MaxDepth, err = strconv.Atoi(value)

	// Cache
	case "cache.persist":
		cfg.Cache.Persist = parseBool(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	case "log.max_size":
		cfg.Log.MaxSizeMB, err = strconv.Atoi(value)
	case "log.max_backups":
		cfg.Log.MaxBackups, err = strconv.Atoi(value)

	default:
		// Unknown keys are ignored
	}
	return err
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default daemon configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	d := Default(network)
	content := `# SLP validation daemon configuration

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.slpvalid)
# datadir = ~/.slpvalid

# ============================================================================
# Ledger node
# ============================================================================

node.url = ` + d.Node.URL + `
node.timeout = ` + d.Node.Timeout.String() + `
node.poll = ` + d.Node.PollInterval.String() + `
node.reorg_depth = ` + strconv.FormatUint(d.Node.ReorgDepth, 10) + `
# node.txcache = 50000

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + strconv.Itoa(d.RPC.Port) + `
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:3000
rpc.metrics = true

# ============================================================================
# Quorum policy (default for requests without one)
# ============================================================================

policy.min_agreeing = ` + strconv.Itoa(d.Policy.MinAgreeing) + `
policy.min_fraction = ` + strconv.FormatFloat(d.Policy.MinFraction, 'f', -1, 64) + `
policy.fallback_disagreement = true
policy.fallback_insufficient = true

# ============================================================================
# Indexers
# ============================================================================

# YAML list of indexer endpoints, relative to datadir
indexers.file = indexers.yaml
indexer.timeout = ` + d.Indexer.Timeout.String() + `
indexer.global_timeout = ` + d.Indexer.GlobalTimeout.String() + `
indexer.retries = 0

# ============================================================================
# Graph replay
# ============================================================================

graph.timeout = ` + d.Graph.Timeout.String() + `
graph.concurrency = ` + strconv.Itoa(d.Graph.Concurrency) + `
# 0 = unlimited
graph.max_depth = 0

# ============================================================================
# Verdict cache
# ============================================================================

cache.persist = true

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
