package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ActorForth/ECash-SLPDB/config"
	"github.com/ActorForth/ECash-SLPDB/internal/coordinator"
	"github.com/ActorForth/ECash-SLPDB/internal/ledger"
	"github.com/ActorForth/ECash-SLPDB/internal/token"
	"github.com/ActorForth/ECash-SLPDB/internal/verdict"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
	"github.com/ActorForth/ECash-SLPDB/pkg/uri"
)

// ── Validation ──────────────────────────────────────────────────────────

func (s *Server) handleTokenValidate(ctx context.Context, req *Request) (interface{}, *Error) {
	var p ValidateParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}

	tokenID, err := types.HexToTokenID(p.TokenID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid token_id: %v", err)}
	}
	txID, err := types.HexToHash(p.TxID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid tx_id: %v", err)}
	}

	policy := s.co.DefaultPolicy()
	if p.Policy != nil {
		policy = *p.Policy
	}

	v, err := s.co.Validate(ctx, tokenID, txID, policy)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, coordinator.ErrInvalidPolicy):
		return nil, &Error{Code: CodeInvalidPolicy, Message: err.Error()}
	case errors.Is(err, coordinator.ErrZeroID):
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, &Error{Code: CodeCancelled, Message: err.Error(), Data: v}
	default:
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
}

// ── Indexers ────────────────────────────────────────────────────────────

func (s *Server) handleIndexerList(_ *Request) (interface{}, *Error) {
	indexers := s.co.Indexers()
	if indexers == nil {
		indexers = []config.IndexerConfig{}
	}
	return &IndexerListResult{
		Indexers:      indexers,
		DefaultPolicy: s.co.DefaultPolicy(),
	}, nil
}

func (s *Server) handleIndexerReconfigure(req *Request) (interface{}, *Error) {
	var p ReconfigureParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	for i := range p.Indexers {
		if p.Indexers[i].Protocol == "" {
			p.Indexers[i].Protocol = config.ProtocolREST
		}
	}

	if err := s.co.ReconfigureIndexers(p.Indexers); err != nil {
		code := CodeInvalidParams
		if errors.Is(err, verdict.ErrInvalidPolicy) {
			code = CodeInvalidPolicy
		}
		return nil, &Error{Code: code, Message: err.Error()}
	}

	result := &ReconfigureResult{Indexers: len(p.Indexers)}
	if s.indexersFile != "" {
		if err := config.WriteIndexers(s.indexersFile, p.Indexers); err != nil {
			// The live set is already replaced; report the write failure
			// without rolling back.
			s.logger.Error().Err(err).Str("path", s.indexersFile).Msg("Failed to persist indexer set")
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("indexers applied but not saved: %v", err)}
		}
		result.Persisted = true
	}
	s.logger.Info().Int("indexers", result.Indexers).Bool("persisted", result.Persisted).Msg("Indexers reconfigured over RPC")
	return result, nil
}

// ── Cache ───────────────────────────────────────────────────────────────

func (s *Server) handleCacheInvalidate(req *Request) (interface{}, *Error) {
	var p InvalidateParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}

	c := s.co.Cache()
	var removed int
	switch p.Mode {
	case "", InvalidateFrom:
		removed = c.InvalidateFrom(p.Height)
	case InvalidateAtOrBelow:
		removed = c.InvalidateAtOrBelow(p.Height)
	default:
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("unknown mode %q", p.Mode)}
	}
	return &InvalidateResult{Removed: removed, Epoch: c.Epoch()}, nil
}

func (s *Server) handleCacheInfo(_ *Request) (interface{}, *Error) {
	return s.co.Cache().Info(), nil
}

// ── URIs ────────────────────────────────────────────────────────────────

func (s *Server) handleURIParse(req *Request) (interface{}, *Error) {
	var p URIParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	r, err := uri.Parse(p.URI)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	return r, nil
}

// ── Tokens ──────────────────────────────────────────────────────────────

func (s *Server) handleTokenInfo(ctx context.Context, req *Request) (interface{}, *Error) {
	if s.tokens == nil {
		return nil, &Error{Code: CodeMethodNotFound, Message: "token registry not enabled"}
	}
	var p TokenParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	tokenID, err := types.HexToTokenID(p.TokenID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid token_id: %v", err)}
	}

	info, err := s.tokens.Lookup(ctx, tokenID)
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, token.ErrNotGenesis), errors.Is(err, ledger.ErrNotFound):
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
}

func (s *Server) handleTokenList(_ *Request) (interface{}, *Error) {
	if s.tokens == nil {
		return nil, &Error{Code: CodeMethodNotFound, Message: "token registry not enabled"}
	}
	list, err := s.tokens.List()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if list == nil {
		list = []token.Info{}
	}
	return list, nil
}
