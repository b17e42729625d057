package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ActorForth/ECash-SLPDB/config"
	"github.com/ActorForth/ECash-SLPDB/internal/cache"
	"github.com/ActorForth/ECash-SLPDB/internal/coordinator"
	"github.com/ActorForth/ECash-SLPDB/internal/graph"
	"github.com/ActorForth/ECash-SLPDB/internal/indexer"
	"github.com/ActorForth/ECash-SLPDB/internal/ledger/ledgertest"
	klog "github.com/ActorForth/ECash-SLPDB/internal/log"
	"github.com/ActorForth/ECash-SLPDB/internal/metrics"
	"github.com/ActorForth/ECash-SLPDB/internal/storage"
	"github.com/ActorForth/ECash-SLPDB/internal/token"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/slp"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// stubIndexer always answers with the same outcome.
type stubIndexer struct {
	name    string
	outcome verdict.Outcome
}

func (s *stubIndexer) Name() string         { return s.name }
func (s *stubIndexer) TrustWeight() float64 { return 1 }

func (s *stubIndexer) Query(context.Context, types.TokenID, types.Hash) (*indexer.Response, error) {
	return &indexer.Response{Outcome: s.outcome}, nil
}

func stubFactory(cfg config.IndexerConfig) (indexer.Client, error) {
	return &stubIndexer{name: cfg.Name, outcome: verdict.Valid}, nil
}

type testEnv struct {
	server *Server
	co     *coordinator.Coordinator
	token  types.TokenID
	tx     types.Hash
	url    string
}

func testIndexers(names ...string) []config.IndexerConfig {
	var cfgs []config.IndexerConfig
	for _, n := range names {
		cfgs = append(cfgs, config.IndexerConfig{
			Name:     n,
			Address:  "http://" + n + ".test",
			Protocol: config.ProtocolREST,
		})
	}
	return cfgs
}

func setupTestEnvWith(t *testing.T, rpcCfg config.RPCConfig) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	b := ledgertest.New()
	genesis := b.Genesis(slp.TokenTypeFungible, 100, 0)
	send := b.Send(slp.TokenTypeFungible, genesis, []uint64{100}, ledgertest.Out(genesis, 1))

	co, err := coordinator.New(b.Ledger, graph.New(b.Ledger, graph.DefaultRules()), cache.New(nil), coordinator.Options{
		Indexers:        testIndexers("a", "b"),
		NewClient:       stubFactory,
		DefaultPolicy:   verdict.DefaultPolicy(),
		GlobalTimeout:   time.Second,
		FallbackTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	t.Cleanup(co.Close)

	srv := New("127.0.0.1:0", co, metrics.New(), rpcCfg)
	srv.SetTokenRegistry(token.NewRegistry(b.Ledger, token.NewStore(storage.NewMemory())))
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server: srv,
		co:     co,
		token:  types.TokenID(genesis),
		tx:     send,
		url:    fmt.Sprintf("http://%s/", srv.Addr()),
	}
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWith(t, config.RPCConfig{Metrics: true})
}

func rpcCall(t *testing.T, url, method string, params interface{}) Response {
	t.Helper()
	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", method, err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResp
}

func decodeResult(t *testing.T, resp Response, target interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %d %s", resp.Error.Code, resp.Error.Message)
	}
	data, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRPC_TokenValidate(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "token_validate", ValidateParam{
		TokenID: env.token.String(),
		TxID:    env.tx.String(),
	})
	var v verdict.Verdict
	decodeResult(t, resp, &v)

	if v.Outcome != verdict.Valid {
		t.Errorf("outcome = %v, want valid", v.Outcome)
	}
	if v.Source != verdict.SourceIndexer {
		t.Errorf("source = %v, want indexer", v.Source)
	}
	if strings.Join(v.ConfirmingIndexers, ",") != "a,b" {
		t.Errorf("confirming = %v, want [a b]", v.ConfirmingIndexers)
	}
	if v.TxID != env.tx {
		t.Errorf("tx_id = %s, want %s", v.TxID, env.tx)
	}
}

func TestRPC_TokenValidate_TrustlessPolicy(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "token_validate", ValidateParam{
		TokenID: env.token.String(),
		TxID:    env.tx.String(),
		Policy:  &verdict.Policy{MinAgreeing: 0},
	})
	var v verdict.Verdict
	decodeResult(t, resp, &v)

	if v.Outcome != verdict.Valid || v.Source != verdict.SourceGraphReplay {
		t.Errorf("verdict = %v/%v, want valid/graph_replay", v.Outcome, v.Source)
	}
}

func TestRPC_TokenValidate_UnsatisfiablePolicy(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "token_validate", ValidateParam{
		TokenID: env.token.String(),
		TxID:    env.tx.String(),
		Policy:  &verdict.Policy{MinAgreeing: 3, MinFraction: 0.5},
	})
	if resp.Error == nil {
		t.Fatal("expected error for min_agreeing above indexer count")
	}
	if resp.Error.Code != CodeInvalidPolicy {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeInvalidPolicy)
	}
}

func TestRPC_TokenValidate_BadParams(t *testing.T) {
	env := setupTestEnv(t)
	zero := types.Hash{}.String()

	tests := []struct {
		name  string
		param interface{}
	}{
		{"no params", nil},
		{"bad token hex", ValidateParam{TokenID: "zz", TxID: env.tx.String()}},
		{"short tx", ValidateParam{TokenID: env.token.String(), TxID: "abcd"}},
		{"zero ids", ValidateParam{TokenID: zero, TxID: zero}},
		{"wrong shape", []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpcCall(t, env.url, "token_validate", tt.param)
			if resp.Error == nil {
				t.Fatal("expected error")
			}
			if resp.Error.Code != CodeInvalidParams {
				t.Errorf("error code = %d, want %d", resp.Error.Code, CodeInvalidParams)
			}
		})
	}
}

func TestRPC_IndexerList(t *testing.T) {
	env := setupTestEnv(t)

	var result IndexerListResult
	decodeResult(t, rpcCall(t, env.url, "indexer_list", nil), &result)

	if len(result.Indexers) != 2 {
		t.Fatalf("indexers = %d, want 2", len(result.Indexers))
	}
	if result.Indexers[0].Name != "a" || result.Indexers[1].Name != "b" {
		t.Errorf("names = %s,%s", result.Indexers[0].Name, result.Indexers[1].Name)
	}
	if result.DefaultPolicy != verdict.DefaultPolicy() {
		t.Errorf("default policy = %+v", result.DefaultPolicy)
	}
}

func TestRPC_IndexerReconfigure(t *testing.T) {
	env := setupTestEnv(t)
	path := filepath.Join(t.TempDir(), "indexers.yaml")
	env.server.SetIndexersFile(path)

	param := ReconfigureParam{Indexers: []config.IndexerConfig{
		{Name: "x", Address: "http://x.test"},
		{Name: "y", Address: "http://y.test", TrustWeight: 2},
		{Name: "z", Address: "http://z.test"},
	}}
	var result ReconfigureResult
	decodeResult(t, rpcCall(t, env.url, "indexer_reconfigure", param), &result)

	if result.Indexers != 3 || !result.Persisted {
		t.Errorf("result = %+v", result)
	}
	got := env.co.Indexers()
	if len(got) != 3 || got[0].Protocol != config.ProtocolREST {
		t.Errorf("live set = %+v", got)
	}

	saved, err := config.LoadIndexers(path)
	if err != nil {
		t.Fatalf("load saved: %v", err)
	}
	if len(saved) != 3 || saved[1].TrustWeight != 2 {
		t.Errorf("saved = %+v", saved)
	}
}

func TestRPC_IndexerReconfigure_Rejected(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name     string
		indexers []config.IndexerConfig
		code     int
	}{
		{"too few for default policy", testIndexers("only"), CodeInvalidPolicy},
		{"duplicate names", testIndexers("a", "a"), CodeInvalidParams},
		{"bad protocol", []config.IndexerConfig{
			{Name: "a", Address: "http://a.test", Protocol: "gopher"},
			{Name: "b", Address: "http://b.test"},
		}, CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpcCall(t, env.url, "indexer_reconfigure", ReconfigureParam{Indexers: tt.indexers})
			if resp.Error == nil {
				t.Fatal("expected error")
			}
			if resp.Error.Code != tt.code {
				t.Errorf("error code = %d, want %d (%s)", resp.Error.Code, tt.code, resp.Error.Message)
			}
		})
	}

	if n := len(env.co.Indexers()); n != 2 {
		t.Errorf("indexer set changed after rejected reconfigure: %d", n)
	}
}

func TestRPC_CacheInfoAndInvalidate(t *testing.T) {
	env := setupTestEnv(t)

	rpcCall(t, env.url, "token_validate", ValidateParam{TokenID: env.token.String(), TxID: env.tx.String()})

	var info cache.Info
	decodeResult(t, rpcCall(t, env.url, "cache_info", nil), &info)
	if info.Entries != 1 {
		t.Fatalf("entries = %d, want 1", info.Entries)
	}
	if info.Persistent {
		t.Error("in-memory cache reported as persistent")
	}

	// The verdict was observed at the current tip, so invalidating below
	// it removes nothing.
	var res InvalidateResult
	decodeResult(t, rpcCall(t, env.url, "cache_invalidate", InvalidateParam{Height: 0, Mode: InvalidateAtOrBelow}), &res)
	if res.Removed != 0 {
		t.Errorf("at_or_below 0 removed %d", res.Removed)
	}

	decodeResult(t, rpcCall(t, env.url, "cache_invalidate", InvalidateParam{Height: 0}), &res)
	if res.Removed != 1 {
		t.Errorf("from 0 removed %d, want 1", res.Removed)
	}
	if res.Epoch == 0 {
		t.Error("epoch not advanced by invalidation")
	}

	decodeResult(t, rpcCall(t, env.url, "cache_info", nil), &info)
	if info.Entries != 0 {
		t.Errorf("entries after invalidate = %d", info.Entries)
	}
}

func TestRPC_CacheInvalidate_BadMode(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "cache_invalidate", InvalidateParam{Height: 5, Mode: "below"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestRPC_TokenInfo(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "token_info", TokenParam{TokenID: env.token.String()})
	var info token.Info
	decodeResult(t, resp, &info)
	if info.ID != env.token {
		t.Errorf("token_id = %s, want %s", info.ID, env.token)
	}
	if info.Ticker != "TST" || info.Decimals != 2 || info.InitialSupply != 100 {
		t.Errorf("info = %+v", info.Metadata)
	}

	resp = rpcCall(t, env.url, "token_list", nil)
	var list []token.Info
	decodeResult(t, resp, &list)
	if len(list) != 1 || list[0].ID != env.token {
		t.Errorf("token_list = %+v", list)
	}
}

func TestRPC_TokenInfo_Errors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name    string
		tokenID string
	}{
		{"bad hex", "xyz"},
		{"not a genesis", env.tx.String()},
		{"unknown", types.TokenID{0x42}.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpcCall(t, env.url, "token_info", TokenParam{TokenID: tt.tokenID})
			if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
				t.Fatalf("expected invalid params, got %+v", resp.Error)
			}
		})
	}
}

func TestRPC_URIParse(t *testing.T) {
	env := setupTestEnv(t)

	raw := "simpleledger:qrabc?amount=2.5-" + env.token.String() + "&message=coffee"
	resp := rpcCall(t, env.url, "uri_parse", URIParam{URI: raw})

	var result struct {
		Scheme  string `json:"scheme"`
		Address string `json:"address"`
		Tokens  []struct {
			TokenID string `json:"token_id"`
			Amount  string `json:"amount"`
		} `json:"tokens"`
		Message string `json:"message"`
	}
	decodeResult(t, resp, &result)

	if result.Scheme != "simpleledger" || result.Address != "qrabc" {
		t.Errorf("scheme/address = %s/%s", result.Scheme, result.Address)
	}
	if len(result.Tokens) != 1 || result.Tokens[0].Amount != "2.5" || result.Tokens[0].TokenID != env.token.String() {
		t.Errorf("tokens = %+v", result.Tokens)
	}
	if result.Message != "coffee" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestRPC_URIParse_Invalid(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "uri_parse", URIParam{URI: "dogecoin:abc"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", resp.Error)
	}
}

func TestRPC_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := rpcCall(t, env.url, "chain_getInfo", nil)
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestRPC_InvalidJSON(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Post(env.url, "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", rpcResp.Error)
	}
}

func TestRPC_WrongVersion(t *testing.T) {
	env := setupTestEnv(t)

	body := `{"jsonrpc":"1.0","method":"cache_info","id":7}`
	resp, err := http.Post(env.url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected invalid request, got %+v", rpcResp.Error)
	}
}

func TestRPC_GetMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	resp, err := http.Get(env.url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected invalid request, got %+v", rpcResp.Error)
	}
}

func TestRPC_Metrics(t *testing.T) {
	env := setupTestEnv(t)
	rpcCall(t, env.url, "token_validate", ValidateParam{TokenID: env.token.String(), TxID: env.tx.String()})

	resp, err := http.Get(env.url + "metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "slpvalid_verdicts_total") {
		t.Error("metrics output missing verdict counter")
	}
}

func TestRPC_MetricsDisabled(t *testing.T) {
	env := setupTestEnvWith(t, config.RPCConfig{})

	// Without a /metrics route the request falls through to the JSON-RPC
	// handler, which rejects GET.
	resp, err := http.Get(env.url + "metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	var rpcResp Response
	json.NewDecoder(resp.Body).Decode(&rpcResp)
	if rpcResp.Error == nil || rpcResp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected JSON-RPC rejection, got %+v", rpcResp.Error)
	}
}

// ── IP filter / CORS ────────────────────────────────────────────────────

func TestRPC_IPFilter_Allowed(t *testing.T) {
	env := setupTestEnvWith(t, config.RPCConfig{AllowedIPs: []string{"127.0.0.1"}})

	resp := rpcCall(t, env.url, "cache_info", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
}

func TestRPC_IPFilter_Blocked(t *testing.T) {
	env := setupTestEnvWith(t, config.RPCConfig{AllowedIPs: []string{"10.0.0.0/8"}, Metrics: true})

	for _, path := range []string{"", "metrics"} {
		body := `{"jsonrpc":"2.0","method":"cache_info","id":1}`
		resp, err := http.Post(env.url+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("/%s status = %d, want %d", path, resp.StatusCode, http.StatusForbidden)
		}
	}
}

func TestRPC_CORS_Preflight(t *testing.T) {
	env := setupTestEnvWith(t, config.RPCConfig{CORSOrigins: []string{"http://wallet.example"}})

	req, _ := http.NewRequest(http.MethodOptions, env.url, nil)
	req.Header.Set("Origin", "http://wallet.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://wallet.example" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestRPC_CORS_UnknownOrigin(t *testing.T) {
	env := setupTestEnvWith(t, config.RPCConfig{CORSOrigins: []string{"http://wallet.example"}})

	body := `{"jsonrpc":"2.0","method":"cache_info","id":1}`
	req, _ := http.NewRequest(http.MethodPost, env.url, strings.NewReader(body))
	req.Header.Set("Origin", "http://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow origin = %q, want empty", got)
	}
}

func TestParseAllowedIPs(t *testing.T) {
	nets := parseAllowedIPs([]string{"192.168.0.0/16", "::1", "garbage", "10.1.2.3"})
	if len(nets) != 3 {
		t.Fatalf("nets = %d, want 3", len(nets))
	}
	ones, bits := nets[1].Mask.Size()
	if ones != 128 || bits != 128 {
		t.Errorf("ipv6 mask = %d/%d", ones, bits)
	}
}
