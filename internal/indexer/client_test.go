package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ActorForth/ECash-SLPDB/config"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

var (
	testToken = types.TokenID{0xaa, 0x01}
	otherTok  = types.TokenID{0xbb, 0x02}
	testTx    = types.Hash{0xcc, 0x03}
)

// restServer answers /slp/validateTxid with fn's result list.
func restServer(t *testing.T, fn func(txids []string) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != restPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req restRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := fn(req.TxIDs)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if s, ok := body.(string); ok {
			w.Write([]byte(s))
			return
		}
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// rpcServer answers slp_validate with fn's result or error.
func rpcServer(t *testing.T, fn func(p validateParams) (any, *rpcErrorBody)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params validateParams `json:"params"`
			ID     uint64         `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if req.Method != methodValidate {
			resp["error"] = &rpcErrorBody{Code: -32601, Message: "method not found"}
		} else {
			result, rerr := fn(req.Params)
			if rerr != nil {
				resp["error"] = rerr
			} else {
				resp["result"] = result
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newClient(t *testing.T, protocol, addr string, timeout time.Duration) Client {
	t.Helper()
	c, err := New(config.IndexerConfig{Name: "idx", Address: addr, Protocol: protocol, TrustWeight: 2}, Options{Timeout: timeout})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func boolPtr(b bool) *bool { return &b }

func TestNewUnknownProtocol(t *testing.T) {
	_, err := New(config.IndexerConfig{Name: "x", Address: "http://x", Protocol: "grpc"}, Options{})
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("err = %v, want ErrUnknownProtocol", err)
	}
}

func TestClientIdentity(t *testing.T) {
	c := newClient(t, config.ProtocolREST, "http://127.0.0.1:1", 0)
	if c.Name() != "idx" || c.TrustWeight() != 2 {
		t.Fatalf("identity = %s/%v", c.Name(), c.TrustWeight())
	}
	d, err := New(config.IndexerConfig{Name: "d", Address: "http://x"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if d.TrustWeight() != 1 {
		t.Fatalf("default weight = %v", d.TrustWeight())
	}
}

func TestRESTQuery(t *testing.T) {
	tests := []struct {
		name   string
		result restResult
		want   verdict.Outcome
	}{
		{"valid", restResult{Valid: boolPtr(true), TokenID: testToken.String()}, verdict.Valid},
		{"invalid", restResult{Valid: boolPtr(false), InvalidReason: "bad input"}, verdict.Invalid},
		{"other token", restResult{Valid: boolPtr(true), TokenID: otherTok.String()}, verdict.Invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := restServer(t, func(txids []string) (int, any) {
				r := tt.result
				r.TxID = txids[0]
				// An unrelated entry first; the client must pick by txid.
				return http.StatusOK, []restResult{{TxID: types.Hash{9}.String(), Valid: boolPtr(false)}, r}
			})
			c := newClient(t, config.ProtocolREST, srv.URL, time.Second)
			resp, err := c.Query(context.Background(), testToken, testTx)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if resp.Outcome != tt.want {
				t.Fatalf("outcome = %v, want %v", resp.Outcome, tt.want)
			}
		})
	}
}

func TestRESTFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		kind   error
	}{
		{"missing validity", http.StatusOK, []map[string]string{{"txid": testTx.String()}}, ErrMalformedResponse},
		{"no matching txid", http.StatusOK, []restResult{}, ErrMalformedResponse},
		{"garbage", http.StatusOK, "not json", ErrMalformedResponse},
		{"bad token id", http.StatusOK, []map[string]any{{"txid": testTx.String(), "valid": true, "tokenId": "zz"}}, ErrMalformedResponse},
		{"valid without token id", http.StatusOK, []map[string]any{{"txid": testTx.String(), "valid": true}}, ErrMalformedResponse},
		{"server error", http.StatusBadGateway, "down", ErrUnreachable},
		{"client error", http.StatusNotFound, "", ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := restServer(t, func([]string) (int, any) { return tt.status, tt.body })
			c := newClient(t, config.ProtocolREST, srv.URL, time.Second)
			_, err := c.Query(context.Background(), testToken, testTx)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("err = %v, want %v", err, tt.kind)
			}
			var qe *QueryError
			if !errors.As(err, &qe) || qe.Indexer != "idx" {
				t.Fatalf("err %v is not a QueryError for idx", err)
			}
		})
	}
}

func TestRESTUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := newClient(t, config.ProtocolREST, addr, time.Second)
	_, err := c.Query(context.Background(), testToken, testTx)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestQueryTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	for _, protocol := range []string{config.ProtocolREST, config.ProtocolJSONRPC} {
		t.Run(protocol, func(t *testing.T) {
			srv := httptest.NewServer(slow)
			t.Cleanup(srv.Close)
			c := newClient(t, protocol, srv.URL, 50*time.Millisecond)

			start := time.Now()
			_, err := c.Query(context.Background(), testToken, testTx)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("err = %v, want ErrTimeout", err)
			}
			if time.Since(start) > time.Second {
				t.Fatal("timeout not enforced")
			}
		})
	}
}

func TestQueryCallerCancel(t *testing.T) {
	srv := rpcServer(t, func(validateParams) (any, *rpcErrorBody) {
		return map[string]any{"valid": true}, nil
	})
	c := newClient(t, config.ProtocolJSONRPC, srv.URL, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Query(ctx, testToken, testTx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestJSONRPCQuery(t *testing.T) {
	var got validateParams
	srv := rpcServer(t, func(p validateParams) (any, *rpcErrorBody) {
		got = p
		tid := testToken.String()
		return validateResult{Valid: boolPtr(true), TokenID: &tid, Outputs: []uint64{0, 10, 5}}, nil
	})
	c := newClient(t, config.ProtocolJSONRPC, srv.URL, time.Second)
	resp, err := c.Query(context.Background(), testToken, testTx)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got.TokenID != testToken.String() || got.TxID != testTx.String() {
		t.Fatalf("params = %+v", got)
	}
	if resp.Outcome != verdict.Valid {
		t.Fatalf("outcome = %v", resp.Outcome)
	}
	if resp.TokenID == nil || *resp.TokenID != testToken {
		t.Fatalf("token id = %v", resp.TokenID)
	}
	if len(resp.Outputs) != 3 || resp.Outputs[1] != 10 {
		t.Fatalf("outputs = %v", resp.Outputs)
	}
}

func TestJSONRPCFailures(t *testing.T) {
	tests := []struct {
		name   string
		result any
		rerr   *rpcErrorBody
		want   verdict.Outcome
		kind   error
	}{
		{name: "invalid", result: map[string]any{"valid": false}, want: verdict.Invalid},
		{name: "other token", result: map[string]any{"valid": true, "token_id": otherTok.String()}, want: verdict.Invalid},
		{name: "missing validity", result: map[string]any{"outputs": []int{1}}, kind: ErrMalformedResponse},
		{name: "null result", result: nil, kind: ErrMalformedResponse},
		{name: "wrong shape", result: "yes", kind: ErrMalformedResponse},
		{name: "rpc error", rerr: &rpcErrorBody{Code: -32000, Message: "unknown tx"}, kind: ErrProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, func(validateParams) (any, *rpcErrorBody) { return tt.result, tt.rerr })
			c := newClient(t, config.ProtocolJSONRPC, srv.URL, time.Second)
			resp, err := c.Query(context.Background(), testToken, testTx)
			if tt.kind != nil {
				if !errors.Is(err, tt.kind) {
					t.Fatalf("err = %v, want %v", err, tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if resp.Outcome != tt.want {
				t.Fatalf("outcome = %v, want %v", resp.Outcome, tt.want)
			}
		})
	}
}

func TestJSONRPCServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := newClient(t, config.ProtocolJSONRPC, srv.URL, time.Second)
	if _, err := c.Query(context.Background(), testToken, testTx); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}
