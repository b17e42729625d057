// Package node assembles a validation daemon from configuration so it can
// be embedded in any binary.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ActorForth/ECash-SLPDB/config"
	"github.com/ActorForth/ECash-SLPDB/internal/cache"
	"github.com/ActorForth/ECash-SLPDB/internal/coordinator"
	"github.com/ActorForth/ECash-SLPDB/internal/graph"
	"github.com/ActorForth/ECash-SLPDB/internal/indexer"
	"github.com/ActorForth/ECash-SLPDB/internal/ledger"
	klog "github.com/ActorForth/ECash-SLPDB/internal/log"
	"github.com/ActorForth/ECash-SLPDB/internal/metrics"
	"github.com/ActorForth/ECash-SLPDB/internal/rpc"
	"github.com/ActorForth/ECash-SLPDB/internal/rpcclient"
	"github.com/ActorForth/ECash-SLPDB/internal/storage"
	"github.com/ActorForth/ECash-SLPDB/internal/token"
	"github.com/rs/zerolog"
)

// Options tunes node construction beyond the config file.
type Options struct {
	// NoColor disables colored console logs.
	NoColor bool
	// KeepLogger leaves the global logger as it is.
	KeepLogger bool
}

// Node is a fully-initialized validation daemon.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Storage
	db     storage.DB // nil when nothing is persisted.
	cache  *cache.Cache
	tokens *token.Registry

	// Ledger
	ledger   *ledger.RPCLedger
	notifier *ledger.Notifier
	watcher  *ledger.Watcher
	unsubs   []func()

	// Engine
	metrics *metrics.Metrics
	co      *coordinator.Coordinator

	// RPC
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a Node: logger, verdict store, ledger
// client, coordinator and RPC server. It does NOT start the reorg watcher;
// call Start() for that.
func New(cfg *config.Config, opts ...Options) (*Node, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	// ── 1. Init logger ──────────────────────────────────────────────
	if !o.KeepLogger {
		logFile := cfg.Log.File
		if logFile == "" {
			logsDir := cfg.LogsDir()
			if err := os.MkdirAll(logsDir, 0755); err != nil {
				return nil, fmt.Errorf("creating logs dir: %w", err)
			}
			logFile = filepath.Join(logsDir, "slpvalid.log")
		}
		err := klog.Setup(klog.Options{
			Level:      cfg.Log.Level,
			JSON:       cfg.Log.JSON,
			NoColor:    o.NoColor,
			File:       expandHome(logFile),
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("node", cfg.Node.URL).
		Int("indexers", len(cfg.Indexers)).
		Str("policy", cfg.Policy.Policy().String()).
		Msg("Starting SLP validation daemon")

	// ── 2. Verdict, token and checkpoint stores ─────────────────────
	st, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	db := st.db
	restored := 0
	if db != nil {
		restored, err = st.verdicts.Load()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("restore verdicts: %w", err)
		}
		logger.Info().Str("path", cfg.CacheDir()).Int("verdicts", restored).Msg("Verdict store opened")
	}
	verdicts, tokenStore := st.verdicts, st.tokens

	// ── 3. Ledger ───────────────────────────────────────────────────
	rl, err := ledger.NewRPCLedger(rpcclient.NewWithTimeout(cfg.Node.URL, cfg.Node.Timeout), cfg.Node.TxCacheSize)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("ledger client: %w", err)
	}
	notifier := ledger.NewNotifier()
	watcher := ledger.NewWatcher(rl, notifier, cfg.Node.PollInterval, cfg.Node.ReorgDepth)
	if st.checkpoints != nil {
		resumed, err := watcher.Resume(st.checkpoints)
		if err != nil {
			logger.Warn().Err(err).Msg("Chain checkpoint unreadable")
		}
		// Restored verdicts can only be checked for reorgs against a
		// checkpoint.
		if !resumed && restored > 0 {
			dropped := verdicts.Clear()
			logger.Warn().Int("verdicts", dropped).Msg("No chain checkpoint; restored verdicts dropped")
		}
	}

	// ── 4. Engine ───────────────────────────────────────────────────
	m := metrics.New()
	rules := graph.DefaultRules()
	rules.MaxDepth = cfg.Graph.MaxDepth
	if cfg.Graph.Concurrency > 0 {
		rules.MaxConcurrentFetches = cfg.Graph.Concurrency
	}
	replayer := graph.New(rl, rules)

	co, err := coordinator.New(rl, replayer, verdicts, coordinator.Options{
		Indexers:        cfg.Indexers,
		IndexerOptions:  indexer.Options{Timeout: cfg.Indexer.Timeout},
		DefaultPolicy:   cfg.Policy.Policy(),
		GlobalTimeout:   cfg.Indexer.GlobalTimeout,
		FallbackTimeout: cfg.Graph.Timeout,
		Retries:         cfg.Indexer.Retries,
		Metrics:         m,
	})
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	tokens := token.NewRegistry(rl, tokenStore)

	n := &Node{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		cache:    verdicts,
		tokens:   tokens,
		ledger:   rl,
		notifier: notifier,
		watcher:  watcher,
		metrics:  m,
		co:       co,
	}
	n.unsubs = append(n.unsubs, watcher.SubscribeReorgs(n.handleReorg))

	// ── 5. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		n.rpcServer = rpc.New(rpcAddr(cfg), co, m, cfg.RPC)
		n.rpcServer.SetIndexersFile(cfg.IndexersPath())
		n.rpcServer.SetTokenRegistry(tokens)
		if err := n.rpcServer.Start(); err != nil {
			n.shutdown()
			return nil, fmt.Errorf("start rpc: %w", err)
		}
		logger.Info().
			Str("addr", n.rpcServer.Addr()).
			Bool("metrics", cfg.RPC.Metrics).
			Msg("RPC server started")
	} else {
		logger.Warn().Msg("RPC disabled by config")
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n, nil
}

// Start checks the chain once, so verdicts restored from disk are settled
// against any reorg that happened while the daemon was stopped, then
// launches the reorg watcher.
func (n *Node) Start() error {
	if _, _, err := n.watcher.Poll(n.ctx); err != nil {
		n.logger.Warn().Err(err).Msg("Initial chain check failed")
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.watcher.Run(n.ctx)
	}()

	n.logger.Info().
		Dur("poll", n.cfg.Node.PollInterval).
		Uint64("depth", n.cfg.Node.ReorgDepth).
		Msg("Reorg watcher started")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()
	n.shutdown()
	n.logger.Info().Msg("Goodbye!")
}

func (n *Node) shutdown() {
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	for _, unsub := range n.unsubs {
		unsub()
	}
	n.unsubs = nil
	n.co.Close()
	closeDB(n.db)
	n.db = nil
}

// handleReorg drops everything derived from blocks at or above fromHeight.
// Cached transactions go first: a resolution that starts once verdicts are
// invalidated must not read replaced ancestors.
func (n *Node) handleReorg(fromHeight uint64) {
	pruned := n.ledger.PruneFrom(fromHeight)
	n.logger.Debug().Uint64("from_height", fromHeight).Int("pruned", pruned).Msg("Ledger cache pruned")

	n.co.HandleReorg(fromHeight)

	if t := n.tokens.PruneFrom(fromHeight); t > 0 {
		n.logger.Info().Uint64("from_height", fromHeight).Int("tokens", t).Msg("Token metadata pruned")
	}
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Coordinator returns the request coordinator.
func (n *Node) Coordinator() *coordinator.Coordinator { return n.co }

// Metrics returns the daemon's metrics.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Watcher returns the reorg watcher.
func (n *Node) Watcher() *ledger.Watcher { return n.watcher }

// Tokens returns the token metadata registry.
func (n *Node) Tokens() *token.Registry { return n.tokens }

// Buckets inside the badger database.
const (
	verdictBucket    = "verdicts"
	tokenBucket      = "tokens"
	checkpointBucket = "watcher"
)

type stores struct {
	db          storage.DB // nil when nothing is persisted
	verdicts    *cache.Cache
	tokens      *token.Store
	checkpoints *ledger.CheckpointStore // nil when nothing is persisted
}

// openStores opens the verdict cache, the token metadata store and the
// chain checkpoint. With persistence enabled they share one badger
// database in separate buckets; otherwise verdicts stay in memory only,
// token metadata uses an in-memory database and no checkpoint is kept.
func openStores(cfg *config.Config) (*stores, error) {
	if !cfg.Cache.Persist {
		return &stores{
			verdicts: cache.New(nil),
			tokens:   token.NewStore(storage.NewMemory()),
		}, nil
	}
	dir := expandHome(cfg.CacheDir())
	db, err := storage.NewBadger(dir)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", dir, err)
	}
	verdictDB := storage.NewBucket(db, verdictBucket)
	if cfg.Cache.Reset {
		n, err := verdictDB.Clear()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("reset verdict store: %w", err)
		}
		klog.Storage.Warn().Str("path", dir).Int("verdicts", n).Msg("Persisted verdicts dropped")
	}
	return &stores{
		db:          db,
		verdicts:    cache.New(cache.NewStore(verdictDB)),
		tokens:      token.NewStore(storage.NewBucket(db, tokenBucket)),
		checkpoints: ledger.NewCheckpointStore(storage.NewBucket(db, checkpointBucket)),
	}, nil
}

func closeDB(db storage.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		klog.Storage.Warn().Err(err).Msg("Close store")
	}
}
