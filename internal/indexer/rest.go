package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ActorForth/ECash-SLPDB/internal/rpcclient"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// restPath is the SLP REST validation endpoint.
const restPath = "/slp/validateTxid"

// maxRESTResponse bounds how much of an answer is read.
const maxRESTResponse = 1 << 20

// restClient speaks the SLP REST validation API.
type restClient struct {
	base
	url  string
	http *http.Client
}

type restRequest struct {
	TxIDs []string `json:"txids"`
}

type restResult struct {
	TxID          string `json:"txid"`
	Valid         *bool  `json:"valid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	TokenID       string `json:"tokenId,omitempty"`
}

// Query implements Client.
func (c *restClient) Query(ctx context.Context, tokenID types.TokenID, txID types.Hash) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(restRequest{TxIDs: []string{txID.String()}})
	if err != nil {
		return nil, c.fail(ErrProtocol, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.url, "/")+restPath, bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(ErrProtocol, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxRESTResponse))
		return nil, c.classify(ctx, &rpcclient.HTTPError{Status: resp.StatusCode})
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRESTResponse))
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	var results []restResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, c.fail(ErrMalformedResponse, err)
	}
	for _, r := range results {
		id, err := types.HexToHash(r.TxID)
		if err != nil || id != txID {
			continue
		}
		if r.Valid == nil {
			return nil, c.fail(ErrMalformedResponse, errors.New("missing validity"))
		}
		var reported *types.TokenID
		if r.TokenID != "" {
			tid, err := types.HexToTokenID(r.TokenID)
			if err != nil {
				return nil, c.fail(ErrMalformedResponse, err)
			}
			reported = &tid
		}
		// The request names only the txid, so a Valid answer must say
		// which token it is valid for.
		if *r.Valid && reported == nil {
			return nil, c.fail(ErrMalformedResponse, errors.New("valid without token id"))
		}
		return normalize(*r.Valid, reported, tokenID), nil
	}
	return nil, c.fail(ErrMalformedResponse, fmt.Errorf("no result for %s", txID))
}
