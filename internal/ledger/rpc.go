package ledger

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ActorForth/ECash-SLPDB/internal/rpcclient"
	"github.com/ActorForth/ECash-SLPDB/pkg/tx"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Node JSON-RPC methods used by RPCLedger.
const (
	methodGetTransaction   = "chain_getTransaction"
	methodGetInfo          = "chain_getInfo"
	methodGetBlockByHeight = "chain_getBlockByHeight"
)

// codeNotFound is the node's JSON-RPC error code for a missing object.
const codeNotFound = -32000

// DefaultTxCacheSize is the number of fetched transactions RPCLedger keeps.
const DefaultTxCacheSize = 50_000

// ErrHashMismatch is wrapped when a node returns a transaction that does not
// hash to the requested id.
var ErrHashMismatch = errors.New("transaction hash mismatch")

// RPCLedger reads the ledger from a node over JSON-RPC. Confirmed
// transactions are cached; the cache is pruned on reorg.
type RPCLedger struct {
	client *rpcclient.Client
	cache  *lru.Cache[types.Hash, *TxRef]
}

// hashParam mirrors the node's single-hash parameter.
type hashParam struct {
	Hash string `json:"hash"`
}

// heightParam mirrors the node's height parameter.
type heightParam struct {
	Height uint64 `json:"height"`
}

// txResult is the node's transaction representation.
type txResult struct {
	Hash     string      `json:"hash"`
	Version  uint32      `json:"version"`
	Inputs   []tx.Input  `json:"inputs"`
	Outputs  []tx.Output `json:"outputs"`
	LockTime uint64      `json:"locktime"`
	Height   uint64      `json:"height"`
}

// chainInfoResult is the node's chain_getInfo answer.
type chainInfoResult struct {
	Height  uint64 `json:"height"`
	TipHash string `json:"tip_hash"`
}

// blockResult is the part of a block the ledger reads.
type blockResult struct {
	Hash string `json:"hash"`
}

// NewRPCLedger creates a ledger backed by client. cacheSize <= 0 uses
// DefaultTxCacheSize.
func NewRPCLedger(client *rpcclient.Client, cacheSize int) (*RPCLedger, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultTxCacheSize
	}
	c, err := lru.New[types.Hash, *TxRef](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("tx cache: %w", err)
	}
	return &RPCLedger{client: client, cache: c}, nil
}

// FetchTransaction implements Ledger.
func (l *RPCLedger) FetchTransaction(ctx context.Context, txID types.Hash) (*TxRef, error) {
	if ref, ok := l.cache.Get(txID); ok {
		cp := *ref
		return &cp, nil
	}

	var res txResult
	if err := l.client.CallContext(ctx, methodGetTransaction, hashParam{Hash: txID.String()}, &res); err != nil {
		return nil, classify(ctx, err)
	}

	t := &tx.Transaction{
		Version:  res.Version,
		Inputs:   res.Inputs,
		Outputs:  res.Outputs,
		LockTime: res.LockTime,
	}
	if got := t.Hash(); got != txID {
		return nil, fmt.Errorf("%w: %w: requested %s, got %s", ErrUnreachable, ErrHashMismatch, txID, got)
	}

	ref := &TxRef{TxID: txID, Height: res.Height, Tx: t}
	if ref.Height > 0 {
		l.cache.Add(txID, ref)
	}
	cp := *ref
	return &cp, nil
}

// CurrentHeight implements Ledger.
func (l *RPCLedger) CurrentHeight(ctx context.Context) (uint64, error) {
	var info chainInfoResult
	if err := l.client.CallContext(ctx, methodGetInfo, nil, &info); err != nil {
		return 0, classify(ctx, err)
	}
	return info.Height, nil
}

// BlockHash returns the hash of the block at height.
func (l *RPCLedger) BlockHash(ctx context.Context, height uint64) (types.Hash, error) {
	var b blockResult
	if err := l.client.CallContext(ctx, methodGetBlockByHeight, heightParam{Height: height}, &b); err != nil {
		return types.Hash{}, classify(ctx, err)
	}
	h, err := types.HexToHash(b.Hash)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: block hash: %v", ErrUnreachable, err)
	}
	return h, nil
}

// PruneFrom drops cached transactions confirmed at or above height.
func (l *RPCLedger) PruneFrom(height uint64) int {
	var n int
	for _, k := range l.cache.Keys() {
		if ref, ok := l.cache.Peek(k); ok && ref.Height >= height {
			l.cache.Remove(k)
			n++
		}
	}
	return n
}

// CachedTransactions returns the number of cached transactions.
func (l *RPCLedger) CachedTransactions() int { return l.cache.Len() }

// classify maps client errors to ledger errors.
func classify(ctx context.Context, err error) error {
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == codeNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, rpcErr.Message)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, ctxErr)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
