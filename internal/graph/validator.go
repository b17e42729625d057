// Package graph decides token validity by replaying a transaction's
// ancestry on the ledger.
//
// A replay runs in two phases. Discovery walks ancestors breadth first,
// fetching each level concurrently and expanding only parents whose
// outputs carry the provenance some child needs. Evaluation then resolves
// every discovered transaction in post-order with an explicit stack, so
// deep chains never grow the goroutine stack. Shared ancestors are fetched
// and evaluated once.
package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ActorForth/ECash-SLPDB/internal/ledger"
	klog "github.com/ActorForth/ECash-SLPDB/internal/log"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/slp"
	"github.com/ActorForth/ECash-SLPDB/pkg/tx"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Replay errors.
var (
	// ErrFetchFailed is wrapped when a required ancestor could not be
	// fetched and the outcome is therefore Indeterminate.
	ErrFetchFailed = errors.New("ancestor fetch failed")
	// ErrDepthLimit is returned when the walk stopped at Rules.MaxDepth.
	ErrDepthLimit = errors.New("replay depth limit reached")
)

// Validator replays transaction ancestry. It is safe for concurrent use;
// each call keeps its own visited map.
type Validator struct {
	ledger ledger.Ledger
	rules  Rules
	logger zerolog.Logger
}

// New creates a validator reading from l.
func New(l ledger.Ledger, rules Rules) *Validator {
	if rules.MaxConcurrentFetches <= 0 {
		rules.MaxConcurrentFetches = DefaultRules().MaxConcurrentFetches
	}
	return &Validator{ledger: l, rules: rules, logger: klog.Graph}
}

// Rules returns the validator's rule set.
func (v *Validator) Rules() Rules { return v.rules }

// edge links a child input to the parent output it spends.
type edge struct {
	parent *node
	vout   uint32
}

// spend is the reverse of an edge: a child spending output vout.
type spend struct {
	child *node
	vout  uint32
}

type nodeState uint8

const (
	stateNew nodeState = iota
	stateVisiting
	stateDone
)

// node is one transaction in a replay.
type node struct {
	id    types.Hash
	depth int

	fetched  bool
	fetchErr error
	ref      *ledger.TxRef
	// invalid is set for transactions that cannot carry tokens: structural
	// errors, no SLP message or a malformed one.
	invalid bool
	msg     *slp.Message
	tokenID types.TokenID

	// expanded is set once parents were linked; truncated when the depth
	// limit prevented it.
	expanded  bool
	truncated bool
	parents   []edge
	// spends lists the children spending this node's outputs.
	spends []spend
	queued bool

	state   nodeState
	outcome verdict.Outcome
}

func (n *node) tx() *tx.Transaction { return n.ref.Tx }

// replay is the per-call state.
type replay struct {
	v       *Validator
	tokenID types.TokenID
	root    *node
	nodes   map[types.Hash]*node
	fetches int
}

// Validate decides whether txID is a valid transaction of tokenID.
func (v *Validator) Validate(ctx context.Context, tokenID types.TokenID, txID types.Hash) (verdict.Outcome, error) {
	r := &replay{
		v:       v,
		tokenID: tokenID,
		nodes:   make(map[types.Hash]*node),
	}
	r.root = &node{id: txID}
	r.nodes[txID] = r.root

	if err := r.discover(ctx); err != nil {
		return verdict.Indeterminate, err
	}
	outcome := r.evaluate()

	v.logger.Debug().
		Str("token_id", tokenID.String()).
		Str("tx_id", txID.String()).
		Int("transactions", len(r.nodes)).
		Int("fetches", r.fetches).
		Str("outcome", outcome.String()).
		Msg("Replay finished")

	if outcome == verdict.Indeterminate {
		return outcome, r.cause()
	}
	return outcome, nil
}

// discover fetches and links the relevant ancestry level by level.
func (r *replay) discover(ctx context.Context) error {
	frontier := []*node{r.root}
	r.root.queued = true

	for len(frontier) > 0 {
		if err := r.fetchLevel(ctx, frontier); err != nil {
			return err
		}

		var next []*node
		enqueue := func(n *node) {
			if !n.queued {
				n.queued = true
				next = append(next, n)
			}
		}
		for _, n := range frontier {
			n.queued = false
			if n.expanded || !r.relevant(n) {
				continue
			}
			if r.v.rules.MaxDepth > 0 && n.depth >= r.v.rules.MaxDepth {
				n.truncated = true
				continue
			}
			n.expanded = true
			for _, in := range parentInputs(n.msg, len(n.tx().Inputs)) {
				prev := n.tx().Inputs[in].PrevOut
				p, ok := r.nodes[prev.TxID]
				if !ok {
					p = &node{id: prev.TxID, depth: n.depth + 1}
					r.nodes[prev.TxID] = p
				}
				e := edge{parent: p, vout: prev.Index}
				n.parents = append(n.parents, e)
				p.spends = append(p.spends, spend{child: n, vout: prev.Index})
				// A new edge can make an already fetched, unexpanded
				// ancestor relevant.
				if !p.fetched || (!p.expanded && !p.truncated) {
					enqueue(p)
				}
			}
		}
		frontier = next
	}
	return nil
}

// fetchLevel fetches the unfetched nodes of one level concurrently.
func (r *replay) fetchLevel(ctx context.Context, level []*node) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.v.rules.MaxConcurrentFetches)
	for _, n := range level {
		if n.fetched {
			continue
		}
		n.fetched = true
		r.fetches++
		g.Go(func() error {
			ref, err := r.v.ledger.FetchTransaction(gctx, n.id)
			if err != nil {
				n.fetchErr = err
				return nil
			}
			decode(n, ref)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// decode parses a fetched transaction into n. It runs on fetch goroutines
// and only touches n.
func decode(n *node, ref *ledger.TxRef) {
	n.ref = ref
	if ref.Tx == nil || ref.Tx.Validate() != nil {
		n.invalid = true
		return
	}
	msg, err := ref.Tx.SLP()
	if err != nil {
		n.invalid = true
		return
	}
	n.msg = msg
	n.tokenID = msg.ResolveTokenID(n.id)
}

// relevant reports whether n's ancestry can influence the result: the root
// when it claims the requested token, any other node when one of its
// outputs carries what a child needs.
func (r *replay) relevant(n *node) bool {
	if n.fetchErr != nil || n.invalid || n.msg == nil {
		return false
	}
	if n == r.root {
		return n.tokenID == r.tokenID
	}
	for _, s := range n.spends {
		if contributes(s.child, n, s.vout) {
			return true
		}
	}
	return false
}

// evaluate resolves the root in post-order over parent edges.
func (r *replay) evaluate() verdict.Outcome {
	stack := []*node{r.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		switch n.state {
		case stateNew:
			n.state = stateVisiting
			for _, e := range n.parents {
				if e.parent.state == stateNew {
					stack = append(stack, e.parent)
				}
			}
		case stateVisiting:
			stack = stack[:len(stack)-1]
			n.outcome = r.decide(n)
			n.state = stateDone
		default:
			stack = stack[:len(stack)-1]
		}
	}
	return r.root.outcome
}

// decide computes n's outcome from its already decided parents.
func (r *replay) decide(n *node) verdict.Outcome {
	switch {
	case n.fetchErr != nil:
		return verdict.Indeterminate
	case n.invalid || n.msg == nil:
		return verdict.Invalid
	case n == r.root && n.tokenID != r.tokenID:
		return verdict.Invalid
	}

	msg := n.msg
	if msg.Kind == slp.KindGenesis && genesisValid(msg.TokenType) {
		return verdict.Valid
	}
	if n.truncated {
		return verdict.Indeterminate
	}

	switch msg.Kind {
	case slp.KindGenesis:
		// NFT1 child: input 0 must spend group tokens of a valid group tx.
		if len(n.parents) == 0 {
			return verdict.Invalid
		}
		return r.parentOutcome(n, n.parents[0])

	case slp.KindMint:
		unknown := false
		for _, e := range n.parents {
			switch r.parentOutcome(n, e) {
			case verdict.Valid:
				return verdict.Valid
			case verdict.Indeterminate:
				unknown = true
			}
		}
		if unknown {
			return verdict.Indeterminate
		}
		return verdict.Invalid

	case slp.KindSend:
		need, err := msg.OutputSum()
		if err != nil {
			return verdict.Invalid
		}
		var have uint64
		unknown := false
		for _, e := range n.parents {
			switch r.parentOutcome(n, e) {
			case verdict.Valid:
				a := e.parent.msg.AmountAt(e.vout)
				if have > math.MaxUint64-a {
					have = math.MaxUint64
				} else {
					have += a
				}
			case verdict.Indeterminate:
				unknown = true
			}
		}
		switch {
		case have >= need:
			return verdict.Valid
		case unknown:
			return verdict.Indeterminate
		default:
			return verdict.Invalid
		}
	}
	return verdict.Invalid
}

// parentOutcome is what the parent of e contributes to child: its outcome
// when the spent output carries the needed provenance, Invalid when it
// does not, Indeterminate when that cannot be known.
func (r *replay) parentOutcome(child *node, e edge) verdict.Outcome {
	p := e.parent
	if p.fetchErr != nil {
		return verdict.Indeterminate
	}
	if !contributes(child, p, e.vout) {
		return verdict.Invalid
	}
	if p.state != stateDone {
		// Only reachable through a cycle, which a hash-linked ledger cannot
		// produce.
		return verdict.Indeterminate
	}
	return p.outcome
}

// cause explains an Indeterminate result.
func (r *replay) cause() error {
	ids := make([]types.Hash, 0, len(r.nodes))
	for id, n := range r.nodes {
		if n.fetchErr != nil || n.truncated {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.nodes[ids[i]], r.nodes[ids[j]]
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		return ids[i].String() < ids[j].String()
	})
	for _, id := range ids {
		if n := r.nodes[id]; n.fetchErr != nil {
			return fmt.Errorf("%w: %s: %w", ErrFetchFailed, id, n.fetchErr)
		}
	}
	if len(ids) > 0 {
		return fmt.Errorf("%w: %d levels", ErrDepthLimit, r.v.rules.MaxDepth)
	}
	return nil
}
