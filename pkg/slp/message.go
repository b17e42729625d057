// Package slp implements the Simple Ledger Protocol OP_RETURN message format.
//
// Every SLP transaction carries its token message in output 0 as an
// OP_RETURN script of data pushes:
//
//	OP_RETURN <lokad "SLP\x00"> <token_type> <"GENESIS"|"MINT"|"SEND"> <fields...>
//
// Token amounts listed by a message apply to outputs 1..n of the same
// transaction. Output 0 never carries tokens.
package slp

import (
	"errors"
	"fmt"
	"math"

	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// TokenType is the SLP token type field.
type TokenType uint16

const (
	TokenTypeFungible  TokenType = 0x01 // Type 1 fungible token
	TokenTypeNFT1Child TokenType = 0x41 // NFT1 child (unique item)
	TokenTypeNFT1Group TokenType = 0x81 // NFT1 group (fungible parent of children)
)

// String returns a human-readable name for the token type.
func (t TokenType) String() string {
	switch t {
	case TokenTypeFungible:
		return "fungible"
	case TokenTypeNFT1Child:
		return "nft1-child"
	case TokenTypeNFT1Group:
		return "nft1-group"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint16(t))
	}
}

// Supported reports whether the type is one this package understands.
func (t TokenType) Supported() bool {
	switch t {
	case TokenTypeFungible, TokenTypeNFT1Child, TokenTypeNFT1Group:
		return true
	}
	return false
}

// Kind is the SLP transaction type.
type Kind string

const (
	KindGenesis Kind = "GENESIS"
	KindMint    Kind = "MINT"
	KindSend    Kind = "SEND"
)

const (
	// MaxSendOutputs is the maximum number of token outputs a SEND may list.
	MaxSendOutputs = 19
	// MaxDecimals is the largest decimals value a GENESIS may declare.
	MaxDecimals = 9
)

// Message parse errors.
var (
	ErrNotSLP             = errors.New("not an slp message")
	ErrUnsupportedType    = errors.New("unsupported slp token type")
	ErrMalformed          = errors.New("malformed slp message")
	ErrNFTChildRule       = errors.New("nft1 child rule violated")
	ErrAmountOverflow     = errors.New("slp amount overflow")
	ErrBatonVoutReserved  = errors.New("mint baton vout must be >= 2")
	ErrTooManySendOutputs = errors.New("too many send outputs")
)

// Message is a parsed SLP token message.
type Message struct {
	TokenType TokenType `json:"token_type"`
	Kind      Kind      `json:"kind"`

	// TokenID is zero for GENESIS; the token id of a genesis is the id of the
	// transaction carrying it.
	TokenID types.TokenID `json:"token_id"`

	// GENESIS fields.
	Ticker       string `json:"ticker,omitempty"`
	Name         string `json:"name,omitempty"`
	DocumentURL  string `json:"document_url,omitempty"`
	DocumentHash []byte `json:"document_hash,omitempty"`
	Decimals     uint8  `json:"decimals"`

	// MintBatonVout is the output carrying mint authority; 0 means none.
	MintBatonVout uint32 `json:"mint_baton_vout,omitempty"`

	// Quantity is the amount minted to output 1 by GENESIS or MINT.
	Quantity uint64 `json:"quantity,omitempty"`

	// Amounts[i] is the amount sent to output i+1 by SEND.
	Amounts []uint64 `json:"amounts,omitempty"`
}

// ResolveTokenID returns the token this message operates on, given the id of
// the transaction that carries it.
func (m *Message) ResolveTokenID(txID types.Hash) types.TokenID {
	if m.Kind == KindGenesis {
		return types.TokenID(txID)
	}
	return m.TokenID
}

// AmountAt returns the token amount assigned to the given output index.
func (m *Message) AmountAt(vout uint32) uint64 {
	switch m.Kind {
	case KindGenesis, KindMint:
		if vout == 1 {
			return m.Quantity
		}
	case KindSend:
		if vout >= 1 && int(vout) <= len(m.Amounts) {
			return m.Amounts[vout-1]
		}
	}
	return 0
}

// HasBatonAt reports whether the given output carries the mint baton.
func (m *Message) HasBatonAt(vout uint32) bool {
	if m.Kind == KindSend || m.MintBatonVout == 0 {
		return false
	}
	return m.MintBatonVout == vout
}

// OutputSum returns the total token amount assigned to outputs.
func (m *Message) OutputSum() (uint64, error) {
	switch m.Kind {
	case KindGenesis, KindMint:
		return m.Quantity, nil
	}
	var total uint64
	for _, a := range m.Amounts {
		if total > math.MaxUint64-a {
			return 0, ErrAmountOverflow
		}
		total += a
	}
	return total, nil
}

// validate enforces the per-type message rules that do not need ancestry.
func (m *Message) validate() error {
	if !m.TokenType.Supported() {
		return fmt.Errorf("%w: 0x%02x", ErrUnsupportedType, uint16(m.TokenType))
	}
	switch m.Kind {
	case KindGenesis:
		if m.Decimals > MaxDecimals {
			return fmt.Errorf("%w: decimals %d > %d", ErrMalformed, m.Decimals, MaxDecimals)
		}
		if m.MintBatonVout == 1 {
			return ErrBatonVoutReserved
		}
		if len(m.DocumentHash) != 0 && len(m.DocumentHash) != types.HashSize {
			return fmt.Errorf("%w: document hash must be 0 or 32 bytes", ErrMalformed)
		}
		if m.TokenType == TokenTypeNFT1Child {
			if m.Decimals != 0 || m.MintBatonVout != 0 || m.Quantity != 1 {
				return fmt.Errorf("%w: genesis must have decimals 0, no baton, quantity 1", ErrNFTChildRule)
			}
		}
	case KindMint:
		if m.TokenType == TokenTypeNFT1Child {
			return fmt.Errorf("%w: children cannot be minted", ErrNFTChildRule)
		}
		if m.MintBatonVout == 1 {
			return ErrBatonVoutReserved
		}
	case KindSend:
		if len(m.Amounts) == 0 {
			return fmt.Errorf("%w: send without outputs", ErrMalformed)
		}
		if len(m.Amounts) > MaxSendOutputs {
			return ErrTooManySendOutputs
		}
		if _, err := m.OutputSum(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, m.Kind)
	}
	return nil
}
