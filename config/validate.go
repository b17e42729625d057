package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ActorForth/ECash-SLPDB/internal/log"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.Node.URL == "" {
		return fmt.Errorf("node.url is required")
	}
	if err := validateURL(cfg.Node.URL); err != nil {
		return fmt.Errorf("node.url: %w", err)
	}
	if cfg.Node.PollInterval <= 0 {
		return fmt.Errorf("node.poll must be positive")
	}
	if cfg.Indexer.Timeout <= 0 {
		return fmt.Errorf("indexer.timeout must be positive")
	}
	if cfg.Indexer.GlobalTimeout < 0 {
		return fmt.Errorf("indexer.global_timeout must not be negative")
	}
	if cfg.Indexer.Retries < 0 {
		return fmt.Errorf("indexer.retries must not be negative")
	}
	if cfg.Graph.Concurrency < 1 {
		return fmt.Errorf("graph.concurrency must be at least 1")
	}
	if cfg.Graph.MaxDepth < 0 {
		return fmt.Errorf("graph.max_depth must not be negative")
	}
	if cfg.Log.Level != "" && !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
	}
	if err := ValidateIndexers(cfg.Indexers); err != nil {
		return err
	}
	// Satisfiability against the indexer set is checked per request, since
	// the set can be reconfigured at runtime.
	if err := cfg.Policy.Policy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	return nil
}

// ValidateIndexers checks an indexer list for duplicates and bad endpoints.
func ValidateIndexers(indexers []IndexerConfig) error {
	seen := make(map[string]struct{}, len(indexers))
	for i, ic := range indexers {
		name := strings.TrimSpace(ic.Name)
		if name == "" {
			return fmt.Errorf("indexers[%d]: name is empty", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("indexers: duplicate name %q", name)
		}
		seen[name] = struct{}{}
		switch ic.Protocol {
		case "", ProtocolREST, ProtocolJSONRPC:
		default:
			return fmt.Errorf("indexers[%s]: unknown protocol %q", name, ic.Protocol)
		}
		if err := validateURL(ic.Address); err != nil {
			return fmt.Errorf("indexers[%s]: %w", name, err)
		}
		if ic.TrustWeight < 0 {
			return fmt.Errorf("indexers[%s]: trust_weight must not be negative", name)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("address %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("address %q has no host", raw)
	}
	return nil
}
