package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// echoServer answers every call with handler(method, params).
func echoServer(t *testing.T, handler func(method string, params json.RawMessage) (any, *rpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			ID     uint64          `json:"id"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("server: bad request %s", body)
			return
		}
		result, rerr := handler(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rerr != nil {
			resp["error"] = rerr
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCall_Result(t *testing.T) {
	srv := echoServer(t, func(method string, params json.RawMessage) (any, *rpcError) {
		if method != "chain_getInfo" {
			return nil, &rpcError{Code: -32601, Message: "method not found"}
		}
		return map[string]any{"height": 42}, nil
	})

	c := New(srv.URL)
	var info struct {
		Height uint64 `json:"height"`
	}
	if err := c.Call("chain_getInfo", nil, &info); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if info.Height != 42 {
		t.Errorf("height = %d, want 42", info.Height)
	}
}

func TestCall_RPCError(t *testing.T) {
	srv := echoServer(t, func(string, json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32602, Message: "bad params"}
	})

	err := New(srv.URL).Call("x", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("code = %d", rpcErr.Code)
	}
}

func TestCall_Decode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	if err := New(srv.URL).Call("x", nil, nil); !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestCall_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	var httpErr *HTTPError
	if err := New(srv.URL).Call("x", nil, nil); !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadGateway {
		t.Errorf("err = %v, want HTTPError 502", err)
	}
}

func TestCallContext_Deadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := New(srv.URL).CallContext(ctx, "x", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestCall_IncrementsID(t *testing.T) {
	var ids []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID uint64 `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		ids = append(ids, req.ID)
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Call("a", nil, nil)
	c.Call("b", nil, nil)
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Errorf("ids = %v, want two distinct", ids)
	}
}
