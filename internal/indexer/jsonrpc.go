package indexer

import (
	"context"
	"errors"

	"github.com/ActorForth/ECash-SLPDB/internal/rpcclient"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// methodValidate is the indexer's JSON-RPC validation method.
const methodValidate = "slp_validate"

// rpcClient speaks JSON-RPC 2.0.
type rpcClient struct {
	base
	rpc *rpcclient.Client
}

type validateParams struct {
	TokenID string `json:"token_id"`
	TxID    string `json:"tx_id"`
}

type validateResult struct {
	Valid         *bool    `json:"valid"`
	TokenID       *string  `json:"token_id"`
	Outputs       []uint64 `json:"outputs"`
	Confirmations *uint64  `json:"confirmations"`
}

// Query implements Client.
func (c *rpcClient) Query(ctx context.Context, tokenID types.TokenID, txID types.Hash) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var res *validateResult
	params := validateParams{TokenID: tokenID.String(), TxID: txID.String()}
	if err := c.rpc.CallContext(ctx, methodValidate, params, &res); err != nil {
		return nil, c.classify(ctx, err)
	}
	if res == nil || res.Valid == nil {
		return nil, c.fail(ErrMalformedResponse, errors.New("missing validity"))
	}

	var reported *types.TokenID
	if res.TokenID != nil {
		tid, err := types.HexToTokenID(*res.TokenID)
		if err != nil {
			return nil, c.fail(ErrMalformedResponse, err)
		}
		reported = &tid
	}
	r := normalize(*res.Valid, reported, tokenID)
	r.Outputs = res.Outputs
	r.Confirmations = res.Confirmations
	return r, nil
}
