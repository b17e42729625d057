// Package token records descriptive metadata for SLP tokens.
//
// A token's metadata lives in its GENESIS message: ticker, name, document
// URL and hash, and the decimal precision. The Registry reads the genesis
// transaction from the ledger once and keeps the decoded metadata in a
// Store, since a confirmed genesis never changes.
package token

import (
	"encoding/hex"

	"github.com/ActorForth/ECash-SLPDB/pkg/slp"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Metadata holds descriptive information about a token.
type Metadata struct {
	TokenType    slp.TokenType `json:"token_type"`
	Ticker       string        `json:"ticker"`
	Name         string        `json:"name"`
	DocumentURL  string        `json:"document_url,omitempty"`
	DocumentHash string        `json:"document_hash,omitempty"`
	Decimals     uint8         `json:"decimals"`
	// Baton is true when the genesis created a mint baton.
	Baton bool `json:"baton"`
	// InitialSupply is the quantity minted by the genesis.
	InitialSupply uint64 `json:"initial_supply"`
	// GenesisHeight is the confirmation height of the genesis, 0 while
	// unconfirmed.
	GenesisHeight uint64 `json:"genesis_height"`
}

// Info pairs a token ID with its metadata.
type Info struct {
	ID types.TokenID `json:"token_id"`
	Metadata
}

// FromGenesis extracts metadata from a GENESIS message. It returns nil for
// any other message kind.
func FromGenesis(msg *slp.Message, height uint64) *Metadata {
	if msg == nil || msg.Kind != slp.KindGenesis {
		return nil
	}
	meta := &Metadata{
		TokenType:     msg.TokenType,
		Ticker:        msg.Ticker,
		Name:          msg.Name,
		DocumentURL:   msg.DocumentURL,
		Decimals:      msg.Decimals,
		Baton:         msg.MintBatonVout != 0,
		InitialSupply: msg.Quantity,
		GenesisHeight: height,
	}
	if len(msg.DocumentHash) > 0 {
		meta.DocumentHash = hex.EncodeToString(msg.DocumentHash)
	}
	return meta
}
