// Package ledgertest builds SLP transaction graphs on an in-memory ledger
// for tests.
package ledgertest

import (
	"encoding/binary"

	"github.com/ActorForth/ECash-SLPDB/internal/ledger"
	"github.com/ActorForth/ECash-SLPDB/pkg/slp"
	"github.com/ActorForth/ECash-SLPDB/pkg/tx"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// DustValue is the coin value of every built output.
const DustValue = 546

// plainScript is a non-SLP locking script.
var plainScript = []byte{0x76, 0xa9, 0x14}

// Builder adds transactions to a Memory ledger. Each built transaction
// gets one more confirmation height than the previous.
type Builder struct {
	Ledger *ledger.Memory
	height uint64
	seed   uint64
}

// New returns a builder over a fresh ledger.
func New() *Builder {
	return &Builder{Ledger: ledger.NewMemory()}
}

// Out is shorthand for an outpoint.
func Out(txID types.Hash, vout uint32) types.Outpoint {
	return types.Outpoint{TxID: txID, Index: vout}
}

// fundingInput returns a unique outpoint that no ledger transaction owns.
func (b *Builder) fundingInput() types.Outpoint {
	b.seed++
	var h types.Hash
	h[0] = 0xf0
	binary.BigEndian.PutUint64(h[24:], b.seed)
	return types.Outpoint{TxID: h, Index: 0}
}

// Tx adds a transaction carrying msg (nil for a plain transaction) that
// spends inputs. Without inputs a unique funding input is used.
func (b *Builder) Tx(msg *slp.Message, inputs ...types.Outpoint) types.Hash {
	t := &tx.Transaction{Version: 1}
	if len(inputs) == 0 {
		inputs = []types.Outpoint{b.fundingInput()}
	}
	for _, in := range inputs {
		t.Inputs = append(t.Inputs, tx.Input{PrevOut: in})
	}

	tokenOutputs := 0
	if msg != nil {
		t.Outputs = append(t.Outputs, tx.Output{Script: slp.MustScript(msg)})
		switch msg.Kind {
		case slp.KindSend:
			tokenOutputs = len(msg.Amounts)
		default:
			tokenOutputs = 1
			if int(msg.MintBatonVout) > tokenOutputs {
				tokenOutputs = int(msg.MintBatonVout)
			}
		}
	}
	// Two spare outputs past the token outputs.
	for i := 0; i < tokenOutputs+2; i++ {
		t.Outputs = append(t.Outputs, tx.Output{Value: DustValue, Script: plainScript})
	}

	b.height++
	return b.Ledger.Add(t, b.height)
}

// Genesis adds a GENESIS of type tt minting qty to output 1 and returns
// its id, which is also the token id.
func (b *Builder) Genesis(tt slp.TokenType, qty uint64, batonVout uint32, inputs ...types.Outpoint) types.Hash {
	decimals := uint8(0)
	if tt == slp.TokenTypeFungible {
		decimals = 2
	}
	return b.Tx(slp.Genesis(tt, "TST", "Test Token", decimals, batonVout, qty), inputs...)
}

// Send adds a SEND of token id spending inputs.
func (b *Builder) Send(tt slp.TokenType, id types.Hash, amounts []uint64, inputs ...types.Outpoint) types.Hash {
	return b.Tx(slp.Send(tt, types.TokenID(id), amounts...), inputs...)
}

// Mint adds a MINT of token id spending inputs.
func (b *Builder) Mint(tt slp.TokenType, id types.Hash, qty uint64, batonVout uint32, inputs ...types.Outpoint) types.Hash {
	return b.Tx(slp.Mint(tt, types.TokenID(id), batonVout, qty), inputs...)
}

// NFTChain builds a group genesis, a group send, an NFT1 child genesis
// and depth child sends, each spending the previous one's output 1. It
// returns the child token id and the last transaction id.
func (b *Builder) NFTChain(depth int) (child types.TokenID, last types.Hash) {
	group := b.Genesis(slp.TokenTypeNFT1Group, 10, 0)
	split := b.Send(slp.TokenTypeNFT1Group, group, []uint64{1, 9}, Out(group, 1))
	genesis := b.Genesis(slp.TokenTypeNFT1Child, 1, 0, Out(split, 1))
	last = genesis
	for i := 0; i < depth; i++ {
		last = b.Send(slp.TokenTypeNFT1Child, genesis, []uint64{1}, Out(last, 1))
	}
	return types.TokenID(genesis), last
}
