package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Ledger node
	NodeURL string

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string
	RPCCORS    string

	// Policy
	MinAgreeing int
	MinFraction float64

	// Indexers
	IndexersFile   string
	IndexerTimeout time.Duration

	// Graph replay
	GraphTimeout time.Duration
	MaxDepth     int

	// Cache
	NoPersist  bool
	ResetCache bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set flags whose zero value is meaningful.
	SetRPC         bool
	SetMinAgreeing bool
	SetMinFraction bool
	SetMaxDepth    bool
	SetLogJSON     bool
}

// ParseFlags parses os.Args, exiting the process on error.
func ParseFlags() *Flags {
	f, err := ParseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return f
}

// ParseArgs parses the given command-line arguments.
func ParseArgs(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("slpvalidd", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	testnet := fs.Bool("testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Ledger node
	fs.StringVar(&f.NodeURL, "node", "", "Ledger node RPC URL")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable RPC server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")

	// Policy
	fs.IntVar(&f.MinAgreeing, "min-agreeing", 0, "Default minimum agreeing indexers (0 = always replay)")
	fs.Float64Var(&f.MinFraction, "min-fraction", 0, "Default minimum trust-weighted agreeing fraction")

	// Indexers
	fs.StringVar(&f.IndexersFile, "indexers", "", "Indexer list YAML file")
	fs.DurationVar(&f.IndexerTimeout, "indexer-timeout", 0, "Per-indexer query timeout")

	// Graph replay
	fs.DurationVar(&f.GraphTimeout, "graph-timeout", 0, "Graph replay timeout")
	fs.IntVar(&f.MaxDepth, "max-depth", 0, "Graph replay depth limit (0 = unlimited)")

	// Cache
	fs.BoolVar(&f.NoPersist, "no-persist", false, "Keep verdicts in memory only")
	fs.BoolVar(&f.ResetCache, "reset-cache", false, "Drop persisted verdicts at startup")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *testnet {
		f.Network = string(Testnet)
	}
	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetMinAgreeing = isFlagSet(fs, "min-agreeing")
	f.SetMinFraction = isFlagSet(fs, "min-fraction")
	f.SetMaxDepth = isFlagSet(fs, "max-depth")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// A positional argument stops the parser; anything flag-like after it
	// was silently dropped.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Ledger node
	if f.NodeURL != "" {
		cfg.Node.URL = f.NodeURL
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}

	// Policy
	if f.SetMinAgreeing {
		cfg.Policy.MinAgreeing = f.MinAgreeing
	}
	if f.SetMinFraction {
		cfg.Policy.MinFraction = f.MinFraction
	}

	// Indexers
	if f.IndexersFile != "" {
		cfg.IndexersFile = f.IndexersFile
	}
	if f.IndexerTimeout != 0 {
		cfg.Indexer.Timeout = f.IndexerTimeout
	}

	// Graph replay
	if f.GraphTimeout != 0 {
		cfg.Graph.Timeout = f.GraphTimeout
	}
	if f.SetMaxDepth {
		cfg.Graph.MaxDepth = f.MaxDepth
	}

	// Cache
	if f.NoPersist {
		cfg.Cache.Persist = false
	}
	if f.ResetCache {
		cfg.Cache.Reset = true
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `slpvalidd - SLP token transaction validation daemon

Usage:
  slpvalidd [options]
  slpvalidd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.slpvalid)
  --config, -c    Config file path (default: <datadir>/slpvalid.conf)
  --node          Ledger node RPC URL (mainnet: http://127.0.0.1:8545)

RPC Options:
  --rpc           Enable RPC server (default: true)
  --rpc-addr      RPC listen address (default: 127.0.0.1)
  --rpc-port      RPC port (mainnet: 8755, testnet: 8855)
  --rpc-allowed   Allowed IPs for RPC (comma-separated)
  --rpc-cors      Allowed CORS origins for RPC (comma-separated)

Validation Options:
  --min-agreeing     Default minimum agreeing indexers (default: 2, 0 = replay)
  --min-fraction     Default minimum trust-weighted fraction (default: 0.5)
  --indexers         Indexer list YAML (default: <datadir>/indexers.yaml)
  --indexer-timeout  Per-indexer query timeout (default: 5s)
  --graph-timeout    Graph replay timeout (default: 30s)
  --max-depth        Graph replay depth limit (default: 0 = unlimited)
  --no-persist       Keep verdicts in memory only
  --reset-cache      Drop persisted verdicts at startup

Logging Options:
  --log-level     Log level: trace, debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Start against a local mainnet node
  slpvalidd

  # Trust nothing, always replay the graph
  slpvalidd --min-agreeing=0

  # Custom indexer list
  slpvalidd --indexers=/etc/slpvalid/indexers.yaml
`
	fmt.Print(usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
// 5. Indexer list
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("slpvalidd version 0.1.0")
		os.Exit(0)
	}

	cfg, err := LoadWith(flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

// LoadWith builds a Config from defaults, the config file and the given flags.
func LoadWith(flags *Flags) (*Config, error) {
	network := Mainnet
	if strings.ToLower(flags.Network) == string(Testnet) {
		network = Testnet
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)

	indexers, err := LoadIndexers(cfg.IndexersPath())
	if err != nil {
		return nil, fmt.Errorf("loading indexers: %w", err)
	}
	cfg.Indexers = indexers

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure, a default config
// file and an empty indexer list if they don't already exist. Safe to call
// on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.CacheDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	indexersPath := cfg.IndexersPath()
	if _, err := os.Stat(indexersPath); os.IsNotExist(err) {
		if err := WriteIndexers(indexersPath, nil); err != nil {
			return fmt.Errorf("writing indexer list: %w", err)
		}
	}

	return nil
}
