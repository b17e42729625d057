package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ActorForth/ECash-SLPDB/internal/ledger"
	"github.com/ActorForth/ECash-SLPDB/internal/ledger/ledgertest"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/slp"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

const fungible = slp.TokenTypeFungible

var out = ledgertest.Out

func validate(t *testing.T, b *ledgertest.Builder, rules Rules, token types.Hash, txID types.Hash) (verdict.Outcome, error) {
	t.Helper()
	return New(b.Ledger, rules).Validate(context.Background(), types.TokenID(token), txID)
}

func expect(t *testing.T, got verdict.Outcome, err error, want verdict.Outcome) {
	t.Helper()
	if got != want {
		t.Fatalf("outcome = %v (err %v), want %v", got, err, want)
	}
}

func TestValidate_GenesisValidByDefinition(t *testing.T) {
	for _, tt := range []slp.TokenType{slp.TokenTypeFungible, slp.TokenTypeNFT1Group} {
		b := ledgertest.New()
		g := b.Genesis(tt, 1000, 2)

		got, err := validate(t, b, DefaultRules(), g, g)
		expect(t, got, err, verdict.Valid)
		if err != nil {
			t.Errorf("%v: unexpected error %v", tt, err)
		}
		if b.Ledger.Fetches() != 1 {
			t.Errorf("%v: fetches = %d, want 1 (no ancestors)", tt, b.Ledger.Fetches())
		}
	}
}

func TestValidate_Send(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 0)
	ok := b.Send(fungible, g, []uint64{60, 40}, out(g, 1))
	over := b.Send(fungible, g, []uint64{150}, out(g, 1))
	next := b.Send(fungible, g, []uint64{60}, out(ok, 1))

	got, err := validate(t, b, DefaultRules(), g, ok)
	expect(t, got, err, verdict.Valid)

	got, err = validate(t, b, DefaultRules(), g, over)
	expect(t, got, err, verdict.Invalid)

	got, err = validate(t, b, DefaultRules(), g, next)
	expect(t, got, err, verdict.Valid)
}

func TestValidate_WrongToken(t *testing.T) {
	b := ledgertest.New()
	gA := b.Genesis(fungible, 100, 0)
	gB := b.Genesis(fungible, 100, 0)

	// Claims token B but spends token A.
	mixed := b.Send(fungible, gB, []uint64{10}, out(gA, 1))
	got, err := validate(t, b, DefaultRules(), gB, mixed)
	expect(t, got, err, verdict.Invalid)

	// A valid send of A asked about as token B.
	sendA := b.Send(fungible, gA, []uint64{10}, out(gA, 1))
	got, err = validate(t, b, DefaultRules(), gB, sendA)
	expect(t, got, err, verdict.Invalid)
}

func TestValidate_WrongTokenType(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 0)
	asGroup := b.Send(slp.TokenTypeNFT1Group, g, []uint64{10}, out(g, 1))

	got, err := validate(t, b, DefaultRules(), g, asGroup)
	expect(t, got, err, verdict.Invalid)
}

func TestValidate_NotSLP(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 0)
	plain := b.Tx(nil, out(g, 1))

	got, err := validate(t, b, DefaultRules(), g, plain)
	expect(t, got, err, verdict.Invalid)

	// A SEND spending a burned (non-SLP) output has no valid input.
	after := b.Send(fungible, g, []uint64{100}, out(plain, 1))
	got, err = validate(t, b, DefaultRules(), g, after)
	expect(t, got, err, verdict.Invalid)
}

func TestValidate_Mint(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 2)
	mint := b.Mint(fungible, g, 50, 2, out(g, 2))
	mint2 := b.Mint(fungible, g, 50, 0, out(mint, 2))
	noBaton := b.Mint(fungible, g, 50, 0, out(g, 1))
	spent := b.Mint(fungible, g, 50, 0, out(mint2, 2))

	tests := []struct {
		name string
		tx   types.Hash
		want verdict.Outcome
	}{
		{"baton from genesis", mint, verdict.Valid},
		{"baton from mint", mint2, verdict.Valid},
		{"token output is not a baton", noBaton, verdict.Invalid},
		{"baton ended", spent, verdict.Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validate(t, b, DefaultRules(), g, tt.tx)
			expect(t, got, err, tt.want)
		})
	}
}

func TestValidate_NFT1Child(t *testing.T) {
	b := ledgertest.New()
	child, last := b.NFTChain(2)

	got, err := validate(t, b, DefaultRules(), types.Hash(child), types.Hash(child))
	expect(t, got, err, verdict.Valid)

	got, err = validate(t, b, DefaultRules(), types.Hash(child), last)
	expect(t, got, err, verdict.Valid)

	// Child genesis burning fungible tokens instead of group tokens.
	fg := b.Genesis(fungible, 10, 0)
	bad := b.Genesis(slp.TokenTypeNFT1Child, 1, 0, out(fg, 1))
	got, err = validate(t, b, DefaultRules(), bad, bad)
	expect(t, got, err, verdict.Invalid)

	// Group tokens on input 1 do not count.
	group := b.Genesis(slp.TokenTypeNFT1Group, 5, 0)
	wrongSlot := b.Genesis(slp.TokenTypeNFT1Child, 1, 0, out(fg, 3), out(group, 1))
	got, err = validate(t, b, DefaultRules(), wrongSlot, wrongSlot)
	expect(t, got, err, verdict.Invalid)
}

func TestValidate_DeepNFTChain(t *testing.T) {
	b := ledgertest.New()
	child, last := b.NFTChain(500)

	got, err := validate(t, b, DefaultRules(), types.Hash(child), last)
	expect(t, got, err, verdict.Valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 500 sends, the child genesis, the group send and the group genesis.
	if n := b.Ledger.Fetches(); n != 503 {
		t.Errorf("fetches = %d, want 503", n)
	}
}

func TestValidate_SharedAncestorsFetchedOnce(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 0)
	split := b.Send(fungible, g, []uint64{50, 50}, out(g, 1))
	left := b.Send(fungible, g, []uint64{50}, out(split, 1))
	right := b.Send(fungible, g, []uint64{50}, out(split, 2))
	join := b.Send(fungible, g, []uint64{100}, out(left, 1), out(right, 1))

	got, err := validate(t, b, DefaultRules(), g, join)
	expect(t, got, err, verdict.Valid)
	if n := b.Ledger.Fetches(); n != 5 {
		t.Errorf("fetches = %d, want 5", n)
	}
}

func TestValidate_IrrelevantParentsNotExpanded(t *testing.T) {
	b := ledgertest.New()
	other := b.Genesis(fungible, 100, 0)
	o1 := b.Send(fungible, other, []uint64{100}, out(other, 1))
	o2 := b.Send(fungible, other, []uint64{100}, out(o1, 1))

	g := b.Genesis(fungible, 100, 0)
	target := b.Send(fungible, g, []uint64{100}, out(o2, 1), out(g, 1))

	got, err := validate(t, b, DefaultRules(), g, target)
	expect(t, got, err, verdict.Valid)
	// target, o2 (fetched to learn it is another token) and g.
	if n := b.Ledger.Fetches(); n != 3 {
		t.Errorf("fetches = %d, want 3", n)
	}
}

func TestValidate_LateRelevance(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 0)
	n := b.Send(fungible, g, []uint64{30, 70}, out(g, 1))
	p := b.Send(fungible, g, []uint64{30}, out(n, 1))
	// First input spends a token-less output of n; n only becomes relevant
	// through p one level deeper.
	target := b.Send(fungible, g, []uint64{30}, out(n, 3), out(p, 1))

	got, err := validate(t, b, DefaultRules(), g, target)
	expect(t, got, err, verdict.Valid)
}

func TestValidate_FetchFailure(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 0)
	g2 := b.Genesis(fungible, 100, 0)
	send := b.Send(fungible, g, []uint64{100}, out(g, 1))
	b.Ledger.FailOn(g, ledger.ErrUnreachable)

	got, err := validate(t, b, DefaultRules(), g, send)
	expect(t, got, err, verdict.Indeterminate)
	if !errors.Is(err, ErrFetchFailed) || !errors.Is(err, ledger.ErrUnreachable) {
		t.Errorf("err = %v, want ErrFetchFailed wrapping ErrUnreachable", err)
	}

	// Missing root.
	got, err = validate(t, b, DefaultRules(), g, types.Hash{0x99})
	expect(t, got, err, verdict.Indeterminate)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// Another token's unreachable output cannot turn a decided send
	// Indeterminate once valid inputs already cover the outputs.
	b.Ledger.FailOn(g, nil)
	split := b.Send(fungible, g, []uint64{50, 50}, out(g, 1))
	covered := b.Send(fungible, g, []uint64{50}, out(split, 1), out(split, 2))
	b.Ledger.FailOn(g2, ledger.ErrUnreachable)
	withDead := b.Send(fungible, g, []uint64{50}, out(covered, 1), out(g2, 1))
	got, err = validate(t, b, DefaultRules(), g, withDead)
	expect(t, got, err, verdict.Valid)
	if err != nil {
		t.Errorf("decided outcome returned error %v", err)
	}

	// Without enough valid inputs the failure leaves the outcome open.
	short := b.Send(fungible, g, []uint64{80}, out(covered, 1), out(g2, 1))
	got, err = validate(t, b, DefaultRules(), g, short)
	expect(t, got, err, verdict.Indeterminate)
}

func TestValidate_ContextExpiry(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 0)
	send := b.Send(fungible, g, []uint64{100}, out(g, 1))
	b.Ledger.SetDelay(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := New(b.Ledger, DefaultRules()).Validate(ctx, types.TokenID(g), send)
	expect(t, got, err, verdict.Indeterminate)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestValidate_MaxDepth(t *testing.T) {
	b := ledgertest.New()
	g := b.Genesis(fungible, 100, 0)
	last := g
	for i := 0; i < 5; i++ {
		last = b.Send(fungible, g, []uint64{100}, out(last, 1))
	}

	got, err := validate(t, b, Rules{MaxDepth: 2}, g, last)
	expect(t, got, err, verdict.Indeterminate)
	if !errors.Is(err, ErrDepthLimit) {
		t.Errorf("err = %v, want ErrDepthLimit", err)
	}

	got, err = validate(t, b, Rules{MaxDepth: 10}, g, last)
	expect(t, got, err, verdict.Valid)
}
