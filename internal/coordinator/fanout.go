package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ActorForth/ECash-SLPDB/internal/indexer"
	"github.com/ActorForth/ECash-SLPDB/internal/metrics"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// vote is one indexer's final answer. Outcome is Indeterminate when the
// query failed.
type vote struct {
	index   int
	outcome verdict.Outcome
}

// poll queries every client concurrently and returns the tally once the
// decision is settled, the global timeout fires or every client finished.
// Outstanding queries are cancelled on return.
func (c *Coordinator) poll(ctx context.Context, logger zerolog.Logger, set *indexerSet, tokenID types.TokenID, txID types.Hash, policy verdict.Policy) *tally {
	names := make([]string, len(set.clients))
	weights := make([]float64, len(set.clients))
	for i, cl := range set.clients {
		names[i] = cl.Name()
		weights[i] = cl.TrustWeight()
	}
	t := newTally(policy, names, weights)
	if len(set.clients) == 0 {
		return t
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.GlobalTimeout)
	defer cancel()

	// Buffered so stragglers never block after poll returns.
	votes := make(chan vote, len(set.clients))
	for i, cl := range set.clients {
		go func(i int, cl indexer.Client) {
			votes <- vote{index: i, outcome: c.query(ctx, logger, cl, tokenID, txID)}
		}(i, cl)
	}

	for pending := len(set.clients); pending > 0; pending-- {
		select {
		case v := <-votes:
			t.record(v.index, v.outcome)
			if pending > 1 && t.settled() {
				logger.Debug().Int("outstanding", pending-1).Msg("Quorum decision settled early")
				c.drain(ctx, t, votes, pending-1)
				return t
			}
		case <-ctx.Done():
			logger.Debug().Int("outstanding", pending).Msg("Indexer round timed out")
			return t
		}
	}
	return t
}

// drain records votes arriving within the settle grace after the decision
// settled. Late votes cannot change a settled decision, only add
// confirmations.
func (c *Coordinator) drain(ctx context.Context, t *tally, votes <-chan vote, pending int) {
	if c.opts.SettleGrace <= 0 {
		return
	}
	grace := time.NewTimer(c.opts.SettleGrace)
	defer grace.Stop()
	for ; pending > 0; pending-- {
		select {
		case v := <-votes:
			t.record(v.index, v.outcome)
		case <-grace.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// query asks one indexer, retrying transient failures. It returns
// Indeterminate when no usable answer was obtained.
func (c *Coordinator) query(ctx context.Context, logger zerolog.Logger, cl indexer.Client, tokenID types.TokenID, txID types.Hash) verdict.Outcome {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp, err := cl.Query(ctx, tokenID, txID)
		if err == nil && (resp == nil || (resp.Outcome != verdict.Valid && resp.Outcome != verdict.Invalid)) {
			err = &indexer.QueryError{Indexer: cl.Name(), Kind: indexer.ErrMalformedResponse}
		}
		c.metrics.IndexerQuery(cl.Name(), resultLabel(ctx, resp, err), time.Since(start))
		if err == nil {
			return resp.Outcome
		}

		switch {
		case ctx.Err() != nil:
			// Cancelled by the round itself; not the indexer's fault.
			return verdict.Indeterminate
		case errors.Is(err, indexer.ErrMalformedResponse), errors.Is(err, indexer.ErrProtocol):
			logger.Warn().Err(err).Str("indexer", cl.Name()).Msg("Indexer response rejected")
			return verdict.Indeterminate
		}

		if attempt >= c.opts.Retries {
			logger.Debug().Err(err).Str("indexer", cl.Name()).Int("attempts", attempt+1).Msg("Indexer query failed")
			return verdict.Indeterminate
		}
		select {
		case <-time.After(c.opts.RetryBackoff):
		case <-ctx.Done():
			return verdict.Indeterminate
		}
	}
}

func resultLabel(ctx context.Context, resp *indexer.Response, err error) string {
	switch {
	case err == nil && resp.Outcome == verdict.Valid:
		return metrics.ResultValid
	case err == nil:
		return metrics.ResultInvalid
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return metrics.ResultCanceled
	case errors.Is(err, indexer.ErrTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, indexer.ErrMalformedResponse):
		return metrics.ResultMalformed
	case errors.Is(err, indexer.ErrProtocol):
		return metrics.ResultProtocol
	default:
		return metrics.ResultUnreachable
	}
}
