// Package tx defines the transaction shape the validation engine reads from
// the ledger: spent outpoints and outputs with raw locking scripts.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ActorForth/ECash-SLPDB/pkg/crypto"
	"github.com/ActorForth/ECash-SLPDB/pkg/slp"
	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Transaction is a ledger transaction. Signatures are not carried: they are
// checked by the node before a transaction reaches the engine.
type Transaction struct {
	Version  uint32   `json:"version"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	LockTime uint64   `json:"locktime"`
}

// Input references an output being spent.
type Input struct {
	PrevOut types.Outpoint `json:"prevout"`
}

// Output is a new transaction output.
type Output struct {
	Value  uint64 `json:"value"`
	Script []byte `json:"script"`
}

// outputJSON is the JSON representation of Output with a hex-encoded script.
type outputJSON struct {
	Value  uint64 `json:"value"`
	Script string `json:"script"`
}

// MarshalJSON encodes the output with a hex-encoded script.
func (o Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(outputJSON{Value: o.Value, Script: hex.EncodeToString(o.Script)})
}

// UnmarshalJSON decodes an output with a hex-encoded script.
func (o *Output) UnmarshalJSON(data []byte) error {
	var j outputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	b, err := hex.DecodeString(j.Script)
	if err != nil {
		return fmt.Errorf("output script: %w", err)
	}
	o.Value = j.Value
	o.Script = b
	return nil
}

// Hash computes the transaction ID (BLAKE3 of the canonical serialization).
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.Bytes())
}

// Bytes returns the canonical serialization.
// Format: version(4) | input_count(4) | [prevout(36)]... | output_count(4) | [value(8) + script_len(4) + script]... | locktime(8)
func (tx *Transaction) Bytes() []byte {
	var buf []byte

	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script)))
		buf = append(buf, out.Script...)
	}

	buf = binary.LittleEndian.AppendUint64(buf, tx.LockTime)

	return buf
}

// SLP parses the token message carried by output 0. It returns an error
// wrapping slp.ErrNotSLP for transactions without one.
func (tx *Transaction) SLP() (*slp.Message, error) {
	if len(tx.Outputs) == 0 {
		return nil, slp.ErrNotSLP
	}
	return slp.Parse(tx.Outputs[0].Script)
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}
