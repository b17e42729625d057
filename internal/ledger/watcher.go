package ledger

import (
	"context"
	"sync"
	"time"

	klog "github.com/ActorForth/ECash-SLPDB/internal/log"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
	"github.com/rs/zerolog"
)

// BlockSource exposes the chain tip and block hashes by height.
type BlockSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) (types.Hash, error)
}

// Watcher polls a BlockSource and publishes reorgs. It remembers the hashes
// of the most recent Depth blocks; a reorg deeper than that is reported at
// the oldest remembered height.
type Watcher struct {
	src      BlockSource
	notifier *Notifier
	interval time.Duration
	depth    uint64
	logger   zerolog.Logger

	mu     sync.Mutex
	hashes map[uint64]types.Hash
	tip    uint64
	synced bool
	store  *CheckpointStore
}

// Watcher defaults.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultWatchDepth   = 100
)

// NewWatcher creates a watcher publishing to notifier.
func NewWatcher(src BlockSource, notifier *Notifier, interval time.Duration, depth uint64) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if depth == 0 {
		depth = DefaultWatchDepth
	}
	return &Watcher{
		src:      src,
		notifier: notifier,
		interval: interval,
		depth:    depth,
		logger:   klog.Ledger,
		hashes:   make(map[uint64]types.Hash),
	}
}

// SubscribeReorgs implements ReorgSource.
func (w *Watcher) SubscribeReorgs(fn func(fromHeight uint64)) func() {
	return w.notifier.SubscribeReorgs(fn)
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("Reorg poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll checks the tip once. It returns the fork height and true when a
// reorg was detected and published.
func (w *Watcher) Poll(ctx context.Context) (uint64, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tip, err := w.src.CurrentHeight(ctx)
	if err != nil {
		return 0, false, err
	}

	var (
		fork     uint64
		reorged  bool
		scanFrom = tip
		moved    = !w.synced || tip != w.tip
	)
	if w.synced {
		if w.tip < scanFrom {
			scanFrom = w.tip
		}
		oldest := w.oldest()
		fork = scanFrom + 1
		for h := scanFrom; ; h-- {
			known, ok := w.hashes[h]
			if !ok {
				break
			}
			cur, err := w.src.BlockHash(ctx, h)
			if err != nil {
				return 0, false, err
			}
			if cur == known {
				break
			}
			fork = h
			if h == oldest || h == 0 {
				break
			}
		}
		if tip < w.tip && tip+1 < fork {
			fork = tip + 1
		}
		reorged = fork <= w.tip
	}

	if reorged {
		for h := range w.hashes {
			if h >= fork {
				delete(w.hashes, h)
			}
		}
	}

	start := uint64(0)
	if tip+1 > w.depth {
		start = tip + 1 - w.depth
	}
	for h := start; h <= tip; h++ {
		if _, ok := w.hashes[h]; ok {
			continue
		}
		hash, err := w.src.BlockHash(ctx, h)
		if err != nil {
			return 0, false, err
		}
		w.hashes[h] = hash
	}
	for h := range w.hashes {
		if h < start || h > tip {
			delete(w.hashes, h)
		}
	}
	w.tip = tip
	w.synced = true

	if reorged {
		w.logger.Warn().Uint64("from_height", fork).Uint64("tip", tip).Msg("Chain reorganization detected")
		w.notifier.Publish(fork)
	}
	// Saved after publishing: a crash in between replays the reorg on the
	// next start instead of losing it.
	if moved || reorged {
		w.checkpoint()
	}
	return fork, reorged, nil
}

func (w *Watcher) oldest() uint64 {
	first := true
	var min uint64
	for h := range w.hashes {
		if first || h < min {
			min = h
			first = false
		}
	}
	return min
}
