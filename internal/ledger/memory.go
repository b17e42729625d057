package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ActorForth/ECash-SLPDB/pkg/tx"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Memory is an in-memory ledger used for tests and simulation. It counts
// fetches and can inject failures and latency.
type Memory struct {
	mu       sync.RWMutex
	txs      map[types.Hash]*TxRef
	height   uint64
	failures map[types.Hash]error
	delay    time.Duration
	down     bool

	fetches  atomic.Int64
	notifier *Notifier
}

// NewMemory creates an empty ledger at height 0.
func NewMemory() *Memory {
	return &Memory{
		txs:      make(map[types.Hash]*TxRef),
		failures: make(map[types.Hash]error),
		notifier: NewNotifier(),
	}
}

// Add stores t confirmed at height (0 = unconfirmed) and returns its id.
// The tip advances to height if it is higher.
func (m *Memory) Add(t *tx.Transaction, height uint64) types.Hash {
	id := t.Hash()
	m.mu.Lock()
	m.txs[id] = &TxRef{TxID: id, Height: height, Tx: t}
	if height > m.height {
		m.height = height
	}
	m.mu.Unlock()
	return id
}

// Remove deletes a transaction.
func (m *Memory) Remove(txID types.Hash) {
	m.mu.Lock()
	delete(m.txs, txID)
	m.mu.Unlock()
}

// SetHeight moves the tip.
func (m *Memory) SetHeight(h uint64) {
	m.mu.Lock()
	m.height = h
	m.mu.Unlock()
}

// FailOn makes fetches of txID return err. A nil err clears the failure.
func (m *Memory) FailOn(txID types.Hash, err error) {
	m.mu.Lock()
	if err == nil {
		delete(m.failures, txID)
	} else {
		m.failures[txID] = err
	}
	m.mu.Unlock()
}

// SetDown makes every call fail with ErrUnreachable.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

// SetDelay adds latency to every fetch.
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// Fetches returns the number of FetchTransaction calls so far.
func (m *Memory) Fetches() int64 { return m.fetches.Load() }

// FetchTransaction implements Ledger.
func (m *Memory) FetchTransaction(ctx context.Context, txID types.Hash) (*TxRef, error) {
	m.fetches.Add(1)

	m.mu.RLock()
	delay := m.delay
	m.mu.RUnlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return nil, ErrUnreachable
	}
	if err, ok := m.failures[txID]; ok {
		return nil, fmt.Errorf("fetch %s: %w", txID, err)
	}
	ref, ok := m.txs[txID]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", txID, ErrNotFound)
	}
	cp := *ref
	return &cp, nil
}

// CurrentHeight implements Ledger.
func (m *Memory) CurrentHeight(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.down {
		return 0, ErrUnreachable
	}
	return m.height, nil
}

// SubscribeReorgs implements ReorgSource.
func (m *Memory) SubscribeReorgs(fn func(fromHeight uint64)) func() {
	return m.notifier.SubscribeReorgs(fn)
}

// Reorg replaces the blocks from fromHeight up: transactions confirmed
// there return to the unconfirmed set, the tip drops to fromHeight-1 and
// subscribers are notified.
func (m *Memory) Reorg(fromHeight uint64) {
	m.mu.Lock()
	for _, ref := range m.txs {
		if ref.Height >= fromHeight {
			ref.Height = 0
		}
	}
	if fromHeight > 0 && m.height >= fromHeight {
		m.height = fromHeight - 1
	}
	m.mu.Unlock()

	m.notifier.Publish(fromHeight)
}
