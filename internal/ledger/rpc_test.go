package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ActorForth/ECash-SLPDB/internal/rpcclient"
	"github.com/ActorForth/ECash-SLPDB/pkg/tx"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// fakeNode serves chain_* methods from a map of transactions.
type fakeNode struct {
	txs    map[string]txResult
	height uint64
	blocks map[uint64]string
	calls  atomic.Int64
	tamper bool
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		ID     uint64          `json:"id"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case methodGetTransaction:
		var p hashParam
		json.Unmarshal(req.Params, &p)
		res, ok := f.txs[p.Hash]
		if !ok {
			resp["error"] = map[string]any{"code": codeNotFound, "message": "transaction not found"}
			break
		}
		if f.tamper {
			res.LockTime++
		}
		resp["result"] = res
	case methodGetInfo:
		resp["result"] = chainInfoResult{Height: f.height}
	case methodGetBlockByHeight:
		var p heightParam
		json.Unmarshal(req.Params, &p)
		resp["result"] = blockResult{Hash: f.blocks[p.Height]}
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	json.NewEncoder(w).Encode(resp)
}

func newFakeNode(t *testing.T, txs ...*tx.Transaction) (*fakeNode, *RPCLedger, map[types.Hash]*tx.Transaction) {
	t.Helper()
	f := &fakeNode{txs: make(map[string]txResult), height: 10, blocks: map[uint64]string{3: types.Hash{0x33}.String()}}
	byID := make(map[types.Hash]*tx.Transaction)
	for i, tr := range txs {
		id := tr.Hash()
		byID[id] = tr
		f.txs[id.String()] = txResult{
			Hash: id.String(), Version: tr.Version, Inputs: tr.Inputs,
			Outputs: tr.Outputs, LockTime: tr.LockTime, Height: uint64(i),
		}
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	l, err := NewRPCLedger(rpcclient.New(srv.URL), 16)
	if err != nil {
		t.Fatalf("NewRPCLedger: %v", err)
	}
	return f, l, byID
}

func TestRPCLedger_FetchCachesConfirmed(t *testing.T) {
	mempoolTx, confirmedTx := sampleTx(1), sampleTx(2)
	node, l, _ := newFakeNode(t, mempoolTx, confirmedTx)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ref, err := l.FetchTransaction(ctx, confirmedTx.Hash())
		if err != nil {
			t.Fatalf("FetchTransaction: %v", err)
		}
		if ref.Height != 1 || len(ref.Tx.Outputs) != 1 || ref.Tx.Outputs[0].Script[0] != 0x51 {
			t.Errorf("ref = %+v", ref)
		}
	}
	if node.calls.Load() != 1 {
		t.Errorf("node calls = %d, want 1 (second fetch cached)", node.calls.Load())
	}

	for i := 0; i < 2; i++ {
		if _, err := l.FetchTransaction(ctx, mempoolTx.Hash()); err != nil {
			t.Fatalf("FetchTransaction: %v", err)
		}
	}
	if node.calls.Load() != 3 {
		t.Errorf("node calls = %d, want 3 (unconfirmed not cached)", node.calls.Load())
	}

	if n := l.PruneFrom(1); n != 1 || l.CachedTransactions() != 0 {
		t.Errorf("PruneFrom = %d, cached = %d", n, l.CachedTransactions())
	}
}

func TestRPCLedger_Errors(t *testing.T) {
	node, l, _ := newFakeNode(t, sampleTx(1))
	ctx := context.Background()

	if _, err := l.FetchTransaction(ctx, types.Hash{0xee}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}

	node.tamper = true
	if _, err := l.FetchTransaction(ctx, sampleTx(1).Hash()); !errors.Is(err, ErrHashMismatch) || !errors.Is(err, ErrUnreachable) {
		t.Errorf("tampered: err = %v", err)
	}

	dead, _ := NewRPCLedger(rpcclient.New("http://127.0.0.1:1"), 0)
	if _, err := dead.CurrentHeight(ctx); !errors.Is(err, ErrUnreachable) {
		t.Errorf("dead node: err = %v, want ErrUnreachable", err)
	}
}

func TestRPCLedger_HeightAndBlockHash(t *testing.T) {
	_, l, _ := newFakeNode(t)
	ctx := context.Background()

	h, err := l.CurrentHeight(ctx)
	if err != nil || h != 10 {
		t.Errorf("CurrentHeight = %d, %v", h, err)
	}
	hash, err := l.BlockHash(ctx, 3)
	if err != nil || hash != (types.Hash{0x33}) {
		t.Errorf("BlockHash = %s, %v", hash, err)
	}
}
