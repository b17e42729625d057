package slp

import "github.com/ActorForth/ECash-SLPDB/pkg/types"

// Genesis returns a GENESIS message minting qty to output 1.
func Genesis(tt TokenType, ticker, name string, decimals uint8, batonVout uint32, qty uint64) *Message {
	return &Message{
		TokenType:     tt,
		Kind:          KindGenesis,
		Ticker:        ticker,
		Name:          name,
		Decimals:      decimals,
		MintBatonVout: batonVout,
		Quantity:      qty,
	}
}

// Mint returns a MINT message adding qty to output 1.
func Mint(tt TokenType, id types.TokenID, batonVout uint32, qty uint64) *Message {
	return &Message{
		TokenType:     tt,
		Kind:          KindMint,
		TokenID:       id,
		MintBatonVout: batonVout,
		Quantity:      qty,
	}
}

// Send returns a SEND message assigning amounts to outputs 1..n.
func Send(tt TokenType, id types.TokenID, amounts ...uint64) *Message {
	return &Message{
		TokenType: tt,
		Kind:      KindSend,
		TokenID:   id,
		Amounts:   append([]uint64(nil), amounts...),
	}
}

// MustScript encodes m and panics on error. Intended for fixtures.
func MustScript(m *Message) []byte {
	s, err := m.Script()
	if err != nil {
		panic(err)
	}
	return s
}
