package rpc

import (
	"github.com/ActorForth/ECash-SLPDB/config"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeInvalidPolicy is returned for a policy the configured indexer set
	// cannot satisfy.
	CodeInvalidPolicy = -32001
	// CodeCancelled is returned when the caller went away before a verdict
	// was reached.
	CodeCancelled = -32002
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// ValidateParam is used by token_validate. A nil Policy selects the
// daemon's default policy.
type ValidateParam struct {
	TokenID string          `json:"token_id"`
	TxID    string          `json:"tx_id"`
	Policy  *verdict.Policy `json:"policy,omitempty"`
}

// ReconfigureParam is used by indexer_reconfigure.
type ReconfigureParam struct {
	Indexers []config.IndexerConfig `json:"indexers"`
}

// Invalidation modes accepted by cache_invalidate.
const (
	InvalidateFrom      = "from"
	InvalidateAtOrBelow = "at_or_below"
)

// InvalidateParam is used by cache_invalidate. An empty Mode means "from".
type InvalidateParam struct {
	Height uint64 `json:"height"`
	Mode   string `json:"mode,omitempty"`
}

// URIParam is used by uri_parse.
type URIParam struct {
	URI string `json:"uri"`
}

// TokenParam is used by token_info.
type TokenParam struct {
	TokenID string `json:"token_id"`
}

// ── Result types ────────────────────────────────────────────────────────

// IndexerListResult is returned by indexer_list.
type IndexerListResult struct {
	Indexers      []config.IndexerConfig `json:"indexers"`
	DefaultPolicy verdict.Policy         `json:"default_policy"`
}

// ReconfigureResult is returned by indexer_reconfigure.
type ReconfigureResult struct {
	Indexers  int  `json:"indexers"`
	Persisted bool `json:"persisted"`
}

// InvalidateResult is returned by cache_invalidate.
type InvalidateResult struct {
	Removed int    `json:"removed"`
	Epoch   uint64 `json:"epoch"`
}
