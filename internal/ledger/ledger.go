// Package ledger is the engine's view of the underlying transaction graph:
// transaction lookup, the current tip height and reorg notifications.
package ledger

import (
	"context"
	"errors"

	"github.com/ActorForth/ECash-SLPDB/pkg/tx"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Ledger errors.
var (
	ErrNotFound    = errors.New("transaction not found")
	ErrUnreachable = errors.New("ledger unreachable")
)

// TxRef is a fetched transaction with its confirmation height.
// Height 0 means the transaction is unconfirmed.
type TxRef struct {
	TxID   types.Hash
	Height uint64
	Tx     *tx.Transaction
}

// Ledger fetches transactions from the chain.
type Ledger interface {
	FetchTransaction(ctx context.Context, txID types.Hash) (*TxRef, error)
	CurrentHeight(ctx context.Context) (uint64, error)
}

// ReorgSource delivers reorg notifications. The callback receives the
// lowest height whose blocks were replaced. The returned function cancels
// the subscription.
type ReorgSource interface {
	SubscribeReorgs(fn func(fromHeight uint64)) (cancel func())
}
