package graph

import "github.com/ActorForth/ECash-SLPDB/pkg/slp"

// Rules parameterizes a replay.
type Rules struct {
	// MaxDepth bounds how many ancestor levels are walked. Zero means
	// unbounded. Transactions past the limit have unknown validity.
	MaxDepth int
	// MaxConcurrentFetches bounds ledger fetches in flight per level.
	MaxConcurrentFetches int
}

// DefaultRules returns SLP v1 rules with an unbounded walk.
func DefaultRules() Rules {
	return Rules{MaxConcurrentFetches: 8}
}

// genesisValid reports whether a GENESIS of type tt is valid without
// looking at its inputs.
func genesisValid(tt slp.TokenType) bool {
	return tt == slp.TokenTypeFungible || tt == slp.TokenTypeNFT1Group
}

// parentInputs returns the input indexes whose parents can carry the
// provenance msg needs.
func parentInputs(msg *slp.Message, inputs int) []int {
	switch msg.Kind {
	case slp.KindSend, slp.KindMint:
		idx := make([]int, inputs)
		for i := range idx {
			idx[i] = i
		}
		return idx
	case slp.KindGenesis:
		if msg.TokenType == slp.TokenTypeNFT1Child && inputs > 0 {
			return []int{0}
		}
	}
	return nil
}

// contributes reports whether output vout of parent carries what child
// needs: token amount for SEND, the mint baton for MINT and group tokens
// for an NFT1 child GENESIS.
func contributes(child, parent *node, vout uint32) bool {
	if parent.msg == nil || child.msg == nil {
		return false
	}
	cm, pm := child.msg, parent.msg
	switch cm.Kind {
	case slp.KindSend:
		return pm.TokenType == cm.TokenType && parent.tokenID == child.tokenID && pm.AmountAt(vout) > 0
	case slp.KindMint:
		return pm.TokenType == cm.TokenType && parent.tokenID == child.tokenID && pm.HasBatonAt(vout)
	case slp.KindGenesis:
		return cm.TokenType == slp.TokenTypeNFT1Child && pm.TokenType == slp.TokenTypeNFT1Group && pm.AmountAt(vout) > 0
	}
	return false
}
