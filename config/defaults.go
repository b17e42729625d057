package config

import "time"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Node: NodeConfig{
			URL:          "http://127.0.0.1:8545",
			Timeout:      10 * time.Second,
			PollInterval: 10 * time.Second,
			ReorgDepth:   100,
			TxCacheSize:  50_000,
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8755,
			AllowedIPs: []string{"127.0.0.1"},
			Metrics:    true,
		},
		Policy: PolicyConfig{
			MinAgreeing:          2,
			MinFraction:          0.5,
			FallbackDisagreement: true,
			FallbackInsufficient: true,
		},
		Indexer: IndexerQueryConfig{
			Timeout:       5 * time.Second,
			GlobalTimeout: 8 * time.Second,
			Retries:       0,
		},
		Graph: GraphConfig{
			Timeout:     30 * time.Second,
			Concurrency: 8,
		},
		Cache: CacheConfig{
			Persist: true,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Node.URL = "http://127.0.0.1:8645"
	cfg.RPC.Port = 8855
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
