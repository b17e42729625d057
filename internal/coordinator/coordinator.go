// Package coordinator answers token validity requests by polling a set of
// indexers, applying a quorum policy and falling back to graph replay.
//
// Resolved verdicts are cached until a reorg invalidates them. Identical
// concurrent requests share one resolution.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ActorForth/ECash-SLPDB/config"
	"github.com/ActorForth/ECash-SLPDB/internal/cache"
	"github.com/ActorForth/ECash-SLPDB/internal/indexer"
	"github.com/ActorForth/ECash-SLPDB/internal/ledger"
	klog "github.com/ActorForth/ECash-SLPDB/internal/log"
	"github.com/ActorForth/ECash-SLPDB/internal/metrics"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Coordinator errors.
var (
	// ErrInvalidPolicy is returned for a malformed policy or one the
	// configured indexer set cannot satisfy.
	ErrInvalidPolicy = verdict.ErrInvalidPolicy
	// ErrZeroID is returned when the token or transaction id is zero.
	ErrZeroID = errors.New("zero token or transaction id")
)

// Defaults.
const (
	DefaultGlobalTimeout   = 8 * time.Second
	DefaultFallbackTimeout = 30 * time.Second
	DefaultRetryBackoff    = 200 * time.Millisecond
	DefaultResolveAttempts = 3
	DefaultSettleGrace     = 25 * time.Millisecond
)

// Replayer decides validity from the ledger. *graph.Validator implements it.
type Replayer interface {
	Validate(ctx context.Context, tokenID types.TokenID, txID types.Hash) (verdict.Outcome, error)
}

// ClientFactory builds an indexer client from its configuration.
type ClientFactory func(cfg config.IndexerConfig) (indexer.Client, error)

// Options configures a Coordinator.
type Options struct {
	// Indexers is the initial endpoint set.
	Indexers []config.IndexerConfig
	// NewClient builds clients. Defaults to indexer.New with IndexerOptions.
	NewClient      ClientFactory
	IndexerOptions indexer.Options

	// DefaultPolicy is used by ValidateDefault and must stay satisfiable
	// across reconfiguration.
	DefaultPolicy verdict.Policy

	// GlobalTimeout bounds the indexer fan-out of one request.
	GlobalTimeout time.Duration
	// FallbackTimeout bounds one graph replay.
	FallbackTimeout time.Duration
	// Retries is the number of extra attempts per indexer for transient
	// failures, spaced by RetryBackoff.
	Retries      int
	RetryBackoff time.Duration
	// ResolveAttempts bounds re-resolution after reorg races.
	ResolveAttempts int
	// SettleGrace is how long a settled round keeps collecting votes
	// still in flight, so they count as confirmations. Negative
	// disables it.
	SettleGrace time.Duration

	Metrics *metrics.Metrics
}

// indexerSet is an immutable client set swapped as a whole.
type indexerSet struct {
	configs []config.IndexerConfig
	clients []indexer.Client
}

// Coordinator resolves validation requests. It is safe for concurrent use.
type Coordinator struct {
	ledger  ledger.Ledger
	graph   Replayer
	cache   *cache.Cache
	metrics *metrics.Metrics
	opts    Options

	indexers atomic.Pointer[indexerSet]
	reconfMu sync.Mutex
	flight   singleflight.Group

	unsubMu sync.Mutex
	unsubs  []func()

	logger zerolog.Logger
}

// New creates a coordinator. It fails if an indexer configuration is
// invalid or the default policy cannot be satisfied by the indexer set.
func New(l ledger.Ledger, g Replayer, c *cache.Cache, opts Options) (*Coordinator, error) {
	if opts.NewClient == nil {
		iopts := opts.IndexerOptions
		if iopts.HTTPClient == nil {
			iopts.HTTPClient = indexer.NewHTTPClient()
		}
		opts.NewClient = func(cfg config.IndexerConfig) (indexer.Client, error) {
			return indexer.New(cfg, iopts)
		}
	}
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = DefaultGlobalTimeout
	}
	if opts.FallbackTimeout <= 0 {
		opts.FallbackTimeout = DefaultFallbackTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.ResolveAttempts <= 0 {
		opts.ResolveAttempts = DefaultResolveAttempts
	}
	if opts.SettleGrace == 0 {
		opts.SettleGrace = DefaultSettleGrace
	}
	if c == nil {
		c = cache.New(nil)
	}

	co := &Coordinator{
		ledger:  l,
		graph:   g,
		cache:   c,
		metrics: opts.Metrics,
		opts:    opts,
		logger:  klog.Coordinator,
	}
	set, err := co.buildSet(opts.Indexers)
	if err != nil {
		return nil, err
	}
	co.indexers.Store(set)
	co.metrics.CacheEntries(c.Len())
	return co, nil
}

// Cache returns the verdict cache.
func (c *Coordinator) Cache() *cache.Cache { return c.cache }

// DefaultPolicy returns the configured default policy.
func (c *Coordinator) DefaultPolicy() verdict.Policy { return c.opts.DefaultPolicy }

// Indexers returns a copy of the current endpoint configuration.
func (c *Coordinator) Indexers() []config.IndexerConfig {
	set := c.indexers.Load()
	return append([]config.IndexerConfig(nil), set.configs...)
}

// ReconfigureIndexers validates cfgs and atomically replaces the client
// set. In-flight requests finish against the set they started with.
func (c *Coordinator) ReconfigureIndexers(cfgs []config.IndexerConfig) error {
	c.reconfMu.Lock()
	defer c.reconfMu.Unlock()

	set, err := c.buildSet(cfgs)
	if err != nil {
		return err
	}
	c.indexers.Store(set)
	c.logger.Info().Int("indexers", len(set.clients)).Msg("Indexer set reconfigured")
	return nil
}

func (c *Coordinator) buildSet(cfgs []config.IndexerConfig) (*indexerSet, error) {
	if err := config.ValidateIndexers(cfgs); err != nil {
		return nil, err
	}
	if err := satisfiable(c.opts.DefaultPolicy, len(cfgs)); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}
	set := &indexerSet{
		configs: append([]config.IndexerConfig(nil), cfgs...),
		clients: make([]indexer.Client, 0, len(cfgs)),
	}
	for _, cfg := range cfgs {
		cl, err := c.opts.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("indexer %s: %w", cfg.Name, err)
		}
		set.clients = append(set.clients, cl)
	}
	return set, nil
}

// satisfiable checks p in isolation and against n configured indexers.
func satisfiable(p verdict.Policy, n int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.MinAgreeing > n {
		return fmt.Errorf("%w: min_agreeing %d exceeds %d configured indexers", ErrInvalidPolicy, p.MinAgreeing, n)
	}
	return nil
}

// SubscribeReorgs invalidates cached verdicts on every reorg src reports.
func (c *Coordinator) SubscribeReorgs(src ledger.ReorgSource) {
	cancel := src.SubscribeReorgs(func(fromHeight uint64) {
		c.HandleReorg(fromHeight)
	})
	c.unsubMu.Lock()
	c.unsubs = append(c.unsubs, cancel)
	c.unsubMu.Unlock()
}

// HandleReorg drops verdicts observed at or above fromHeight and returns
// how many were removed.
func (c *Coordinator) HandleReorg(fromHeight uint64) int {
	n := c.cache.InvalidateFrom(fromHeight)
	c.metrics.Reorg()
	c.metrics.CacheEntries(c.cache.Len())
	c.logger.Info().Uint64("from_height", fromHeight).Int("invalidated", n).Msg("Reorg handled")
	return n
}

// Close cancels reorg subscriptions.
func (c *Coordinator) Close() {
	c.unsubMu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.unsubMu.Unlock()
	for _, cancel := range unsubs {
		cancel()
	}
}

// ValidateDefault is Validate with the default policy.
func (c *Coordinator) ValidateDefault(ctx context.Context, tokenID types.TokenID, txID types.Hash) (verdict.Verdict, error) {
	return c.Validate(ctx, tokenID, txID, c.opts.DefaultPolicy)
}

// Validate decides whether txID is a valid transaction of tokenID under
// policy. Errors are returned only for bad input; unreachable indexers or
// ledger failures yield an Indeterminate verdict. A cancelled ctx returns
// Indeterminate with the context error.
func (c *Coordinator) Validate(ctx context.Context, tokenID types.TokenID, txID types.Hash, policy verdict.Policy) (verdict.Verdict, error) {
	if tokenID.IsZero() || txID.IsZero() {
		return verdict.Verdict{}, ErrZeroID
	}
	set := c.indexers.Load()
	if err := satisfiable(policy, len(set.clients)); err != nil {
		return verdict.Verdict{}, err
	}

	if v, ok := c.cache.Get(tokenID, txID); ok && acceptable(v, policy) {
		c.metrics.CacheLookup(true)
		c.metrics.Verdict(v.Outcome, v.Source)
		return v, nil
	}
	c.metrics.CacheLookup(false)

	requestID := uuid.NewString()
	logger := klog.WithRequest(c.logger, requestID)
	logger.Debug().
		Str("token_id", tokenID.String()).
		Str("tx_id", txID.String()).
		Str("policy", policy.String()).
		Msg("Resolving")

	key := tokenID.String() + "|" + txID.String() + "|" + policy.String()
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		c.metrics.InFlight(1)
		defer c.metrics.InFlight(-1)
		// Shared by every waiter, so it must outlive any single caller.
		rctx := context.WithoutCancel(ctx)
		return c.resolve(rctx, logger, set, tokenID, txID, policy), nil
	})

	select {
	case res := <-ch:
		v := res.Val.(verdict.Verdict).Clone()
		c.metrics.Verdict(v.Outcome, v.Source)
		return v, nil
	case <-ctx.Done():
		v := verdict.Verdict{TokenID: tokenID, TxID: txID, Outcome: verdict.Indeterminate}
		c.metrics.Verdict(v.Outcome, v.Source)
		return v, ctx.Err()
	}
}

// acceptable reports whether a cached verdict meets policy. Replayed
// verdicts are authoritative; indexer verdicts need as many confirmations
// as the policy asks for, and never satisfy a trustless policy.
func acceptable(v verdict.Verdict, p verdict.Policy) bool {
	switch v.Provenance() {
	case verdict.SourceGraphReplay:
		return true
	case verdict.SourceIndexer:
		return !p.Trustless() && len(v.ConfirmingIndexers) >= p.MinAgreeing
	}
	return false
}

// resolve produces a verdict and caches it. A verdict resolved across a
// cache invalidation is discarded and resolved again.
func (c *Coordinator) resolve(ctx context.Context, logger zerolog.Logger, set *indexerSet, tokenID types.TokenID, txID types.Hash, policy verdict.Policy) verdict.Verdict {
	for attempt := 1; attempt <= c.opts.ResolveAttempts; attempt++ {
		epoch := c.cache.Epoch()
		height, herr := c.ledger.CurrentHeight(ctx)

		v := c.resolveOnce(ctx, logger, set, tokenID, txID, policy)
		v.ObservedAt = height

		if v.Outcome == verdict.Indeterminate {
			return v
		}
		if herr != nil {
			// Without a height the verdict cannot be tied to a reorg
			// boundary, so it is returned but not cached.
			logger.Warn().Err(herr).Msg("Ledger height unavailable; verdict not cached")
			return v
		}
		if c.cache.PutIfEpoch(v, epoch) {
			c.metrics.CacheEntries(c.cache.Len())
			return v
		}
		if c.cache.Epoch() == epoch {
			return v
		}
		logger.Debug().Int("attempt", attempt).Msg("Cache invalidated during resolution; resolving again")
	}
	logger.Warn().Int("attempts", c.opts.ResolveAttempts).Msg("Resolution kept racing reorgs")
	return verdict.Verdict{TokenID: tokenID, TxID: txID, Outcome: verdict.Indeterminate}
}

// resolveOnce runs one indexer round and, if needed, the replay.
func (c *Coordinator) resolveOnce(ctx context.Context, logger zerolog.Logger, set *indexerSet, tokenID types.TokenID, txID types.Hash, policy verdict.Policy) verdict.Verdict {
	if policy.Trustless() {
		return c.replay(ctx, logger, tokenID, txID)
	}
	// A token's own genesis is decided by the ledger alone; indexers
	// are never asked about it.
	if txID == tokenID.GenesisTxID() {
		logger.Debug().Msg("Genesis of the requested token; replaying")
		return c.replay(ctx, logger, tokenID, txID)
	}

	t := c.poll(ctx, logger, set, tokenID, txID, policy)
	d := t.decision()
	logger.Debug().
		Str("decision", d.kind.String()).
		Int("responded", t.responded()).
		Int("indexers", len(set.clients)).
		Msg("Indexer round finished")

	switch {
	case d.kind == quorumReached:
		return verdict.Verdict{
			TokenID:            tokenID,
			TxID:               txID,
			Outcome:            d.outcome,
			Source:             verdict.SourceIndexer,
			ConfirmingIndexers: t.agreeing(d.outcome),
		}
	case d.kind == noQuorumDisagreement && policy.FallbackOnDisagreement,
		d.kind == noQuorumInsufficient && policy.FallbackOnInsufficient:
		return c.replay(ctx, logger, tokenID, txID)
	}
	return verdict.Verdict{
		TokenID: tokenID,
		TxID:    txID,
		Outcome: verdict.Indeterminate,
		Source:  verdict.SourceIndexer,
	}
}

// replay runs the graph validator under the fallback timeout.
func (c *Coordinator) replay(ctx context.Context, logger zerolog.Logger, tokenID types.TokenID, txID types.Hash) verdict.Verdict {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FallbackTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := c.graph.Validate(ctx, tokenID, txID)
	elapsed := time.Since(start)
	c.metrics.Replay(outcome, elapsed)

	ev := logger.Debug()
	if err != nil {
		ev = logger.Info().Err(err)
	}
	ev.Str("outcome", outcome.String()).Dur("elapsed", elapsed).Msg("Graph replay finished")

	return verdict.Verdict{
		TokenID: tokenID,
		TxID:    txID,
		Outcome: outcome,
		Source:  verdict.SourceGraphReplay,
	}
}
