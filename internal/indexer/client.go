// Package indexer queries third-party SLP indexers for their opinion on a
// token transaction.
//
// Each Client talks to one endpoint and normalizes its answer into a
// Response. Clients never retry; retry policy belongs to the caller.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ActorForth/ECash-SLPDB/config"
	"github.com/ActorForth/ECash-SLPDB/internal/rpcclient"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Query failure kinds.
var (
	ErrUnreachable       = errors.New("indexer unreachable")
	ErrTimeout           = errors.New("indexer timeout")
	ErrMalformedResponse = errors.New("malformed indexer response")
	ErrProtocol          = errors.New("indexer protocol error")
)

// ErrUnknownProtocol is returned by New for an unsupported protocol.
var ErrUnknownProtocol = errors.New("unknown indexer protocol")

// DefaultTimeout bounds a single query.
const DefaultTimeout = 5 * time.Second

// QueryError is a failed query. Kind is one of the Err* kinds above.
type QueryError struct {
	Indexer string
	Kind    error
	Err     error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Indexer, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Indexer, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *QueryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Response is a normalized indexer answer.
type Response struct {
	// Outcome is Valid or Invalid; indexers do not vote Indeterminate.
	Outcome verdict.Outcome
	// TokenID is the token the indexer attributes the transaction to.
	TokenID *types.TokenID
	// Outputs are per-output token amounts, when reported.
	Outputs []uint64
	// Confirmations, when reported.
	Confirmations *uint64
}

// Client queries one indexer endpoint. Implementations are safe for
// concurrent use.
type Client interface {
	Name() string
	TrustWeight() float64
	Query(ctx context.Context, tokenID types.TokenID, txID types.Hash) (*Response, error)
}

// Options configures clients built by New.
type Options struct {
	// Timeout bounds each query. Zero uses DefaultTimeout.
	Timeout time.Duration
	// HTTPClient is shared by every client for connection pooling.
	HTTPClient *http.Client
}

// NewHTTPClient returns the pooled HTTP client clients share.
func NewHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 16
	tr.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: tr}
}

// New builds the client for cfg's protocol.
func New(cfg config.IndexerConfig, opts Options) (Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient()
	}
	b := base{name: cfg.Name, weight: cfg.Weight(), timeout: opts.Timeout}

	switch cfg.Protocol {
	case config.ProtocolREST, "":
		return &restClient{base: b, url: cfg.Address, http: opts.HTTPClient}, nil
	case config.ProtocolJSONRPC:
		return &rpcClient{base: b, rpc: rpcclient.NewWithHTTPClient(cfg.Address, opts.HTTPClient)}, nil
	default:
		return nil, fmt.Errorf("%w: %q (indexer %s)", ErrUnknownProtocol, cfg.Protocol, cfg.Name)
	}
}

// base carries what every adapter shares.
type base struct {
	name    string
	weight  float64
	timeout time.Duration
}

func (b base) Name() string         { return b.name }
func (b base) TrustWeight() float64 { return b.weight }

// fail wraps err as a QueryError of the given kind.
func (b base) fail(kind, err error) error {
	return &QueryError{Indexer: b.name, Kind: kind, Err: err}
}

// classify maps a transport-level error to a failure kind.
func (b base) classify(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return b.fail(ErrTimeout, err)
	case ctx.Err() != nil:
		return b.fail(ErrTimeout, ctx.Err())
	case errors.As(err, &netErr) && netErr.Timeout():
		return b.fail(ErrTimeout, err)
	}

	var rpcErr *rpcclient.RPCError
	var httpErr *rpcclient.HTTPError
	switch {
	case errors.As(err, &rpcErr):
		return b.fail(ErrProtocol, err)
	case errors.As(err, &httpErr):
		if httpErr.Status >= 500 {
			return b.fail(ErrUnreachable, err)
		}
		return b.fail(ErrProtocol, err)
	case errors.Is(err, rpcclient.ErrDecode):
		return b.fail(ErrMalformedResponse, err)
	}
	return b.fail(ErrUnreachable, err)
}

// normalize builds a Response for the requested token. An answer naming a
// different token is Invalid for the requested one.
func normalize(valid bool, reported *types.TokenID, requested types.TokenID) *Response {
	r := &Response{Outcome: verdict.Invalid, TokenID: reported}
	if valid {
		r.Outcome = verdict.Valid
		if reported != nil && *reported != requested {
			r.Outcome = verdict.Invalid
		}
	}
	return r
}
