package coordinator

import (
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
)

// maxEnumerated bounds early-stop analysis. Each outstanding indexer can
// still vote Valid, vote Invalid or fail, so settling k of them costs 3^k
// decisions; above this the aggregator simply waits.
const maxEnumerated = 8

// fractionSlack absorbs float rounding in weighted shares.
const fractionSlack = 1e-9

type decisionKind uint8

const (
	// noQuorumInsufficient: too few votes, or only one outcome voted and
	// it fell short.
	noQuorumInsufficient decisionKind = iota
	// noQuorumDisagreement: both outcomes were voted and neither wins.
	noQuorumDisagreement
	quorumReached
)

func (k decisionKind) String() string {
	switch k {
	case quorumReached:
		return "quorum"
	case noQuorumDisagreement:
		return "disagreement"
	default:
		return "insufficient"
	}
}

// decision is what a set of votes means under a policy.
type decision struct {
	kind    decisionKind
	outcome verdict.Outcome
}

// totals holds vote counts and trust weights per outcome, indexed by
// verdict.Outcome.
type totals struct {
	count  [3]int
	weight [3]float64
}

func (t *totals) add(o verdict.Outcome, w float64) {
	if o != verdict.Valid && o != verdict.Invalid {
		return
	}
	t.count[o]++
	t.weight[o] += w
}

// decide applies policy p. An outcome reaches quorum when at least
// MinAgreeing indexers voted for it and its share of the responding trust
// weight is at least MinFraction. Two qualifying outcomes are no quorum.
func decide(p verdict.Policy, t totals) decision {
	responding := t.weight[verdict.Valid] + t.weight[verdict.Invalid]
	valid := reaches(p, t.count[verdict.Valid], t.weight[verdict.Valid], responding)
	invalid := reaches(p, t.count[verdict.Invalid], t.weight[verdict.Invalid], responding)

	switch {
	case valid && !invalid:
		return decision{kind: quorumReached, outcome: verdict.Valid}
	case invalid && !valid:
		return decision{kind: quorumReached, outcome: verdict.Invalid}
	case t.count[verdict.Valid] > 0 && t.count[verdict.Invalid] > 0:
		return decision{kind: noQuorumDisagreement}
	default:
		return decision{kind: noQuorumInsufficient}
	}
}

func reaches(p verdict.Policy, n int, w, responding float64) bool {
	if n == 0 || n < p.MinAgreeing || responding <= 0 {
		return false
	}
	return w >= p.MinFraction*responding-fractionSlack
}

// tally accumulates indexer votes for one request.
type tally struct {
	policy  verdict.Policy
	names   []string
	weights []float64
	done    []bool
	votes   []verdict.Outcome // Indeterminate for failed queries
	totals  totals
}

func newTally(p verdict.Policy, names []string, weights []float64) *tally {
	return &tally{
		policy:  p,
		names:   names,
		weights: weights,
		done:    make([]bool, len(names)),
		votes:   make([]verdict.Outcome, len(names)),
	}
}

// record stores indexer i's vote. Indeterminate records a failure.
func (t *tally) record(i int, o verdict.Outcome) {
	if t.done[i] {
		return
	}
	t.done[i] = true
	t.votes[i] = o
	t.totals.add(o, t.weights[i])
}

// decision is the decision over the votes recorded so far.
func (t *tally) decision() decision {
	return decide(t.policy, t.totals)
}

// settled reports whether every way the outstanding indexers could still
// answer leads to the current decision.
func (t *tally) settled() bool {
	var outstanding []int
	for i, d := range t.done {
		if !d {
			outstanding = append(outstanding, i)
		}
	}
	if len(outstanding) == 0 {
		return true
	}
	if len(outstanding) > maxEnumerated {
		return false
	}

	want := t.decision()
	choices := []verdict.Outcome{verdict.Indeterminate, verdict.Valid, verdict.Invalid}
	combos := 1
	for range outstanding {
		combos *= len(choices)
	}
	for c := 1; c < combos; c++ {
		sim := t.totals
		n := c
		for _, i := range outstanding {
			sim.add(choices[n%len(choices)], t.weights[i])
			n /= len(choices)
		}
		if decide(t.policy, sim) != want {
			return false
		}
	}
	return true
}

// agreeing returns the names of indexers that voted o, sorted.
func (t *tally) agreeing(o verdict.Outcome) []string {
	var names []string
	for i, d := range t.done {
		if d && t.votes[i] == o {
			names = append(names, t.names[i])
		}
	}
	return verdict.SortedIndexers(names)
}

// responded returns how many indexers voted.
func (t *tally) responded() int {
	return t.totals.count[verdict.Valid] + t.totals.count[verdict.Invalid]
}
