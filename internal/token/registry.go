package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/ActorForth/ECash-SLPDB/internal/ledger"
	klog "github.com/ActorForth/ECash-SLPDB/internal/log"
	"github.com/ActorForth/ECash-SLPDB/internal/storage"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
	"github.com/rs/zerolog"
)

// ErrNotGenesis is returned when a token ID does not name a GENESIS
// transaction.
var ErrNotGenesis = errors.New("transaction is not a token genesis")

// Registry resolves token metadata from genesis transactions.
type Registry struct {
	ledger ledger.Ledger
	store  *Store
	logger zerolog.Logger
}

// NewRegistry creates a registry reading genesis transactions from l and
// remembering confirmed ones in store.
func NewRegistry(l ledger.Ledger, store *Store) *Registry {
	return &Registry{ledger: l, store: store, logger: klog.WithComponent("token")}
}

// Lookup returns the metadata of tokenID. Ledger errors are returned
// wrapped; ErrNotGenesis means the id names some other transaction.
func (r *Registry) Lookup(ctx context.Context, tokenID types.TokenID) (*Info, error) {
	meta, err := r.store.Get(tokenID)
	if err == nil {
		return &Info{ID: tokenID, Metadata: *meta}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn().Err(err).Str("token_id", tokenID.String()).Msg("Stored token metadata unreadable")
	}

	ref, err := r.ledger.FetchTransaction(ctx, tokenID.GenesisTxID())
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", tokenID, err)
	}
	msg, err := ref.Tx.SLP()
	if err != nil {
		return nil, fmt.Errorf("token %s: %w: %v", tokenID, ErrNotGenesis, err)
	}
	meta = FromGenesis(msg, ref.Height)
	if meta == nil {
		return nil, fmt.Errorf("token %s: %w: %s message", tokenID, ErrNotGenesis, msg.Kind)
	}

	// Only a confirmed genesis is final.
	if ref.Height > 0 {
		if err := r.store.Put(tokenID, meta); err != nil {
			r.logger.Warn().Err(err).Str("token_id", tokenID.String()).Msg("Persist token metadata failed")
		}
	}
	return &Info{ID: tokenID, Metadata: *meta}, nil
}

// List returns every remembered token.
func (r *Registry) List() ([]Info, error) {
	return r.store.List()
}

// PruneFrom forgets tokens whose genesis was confirmed at or above height
// and returns how many were dropped.
func (r *Registry) PruneFrom(height uint64) int {
	pruned, err := r.store.PruneFrom(height)
	if err != nil {
		r.logger.Warn().Err(err).Uint64("from_height", height).Msg("Prune token metadata failed")
		return 0
	}
	for _, id := range pruned {
		r.logger.Debug().Str("token_id", id.String()).Msg("Token genesis left the chain")
	}
	return len(pruned)
}
