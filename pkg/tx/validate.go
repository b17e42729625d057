package tx

import (
	"errors"
	"fmt"

	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Structural limits.
const (
	MaxTxInputs   = 10_000
	MaxTxOutputs  = 10_000
	MaxScriptSize = 10_000
)

// Validation errors.
var (
	ErrNoInputs       = errors.New("transaction has no inputs")
	ErrNoOutputs      = errors.New("transaction has no outputs")
	ErrDuplicateInput = errors.New("duplicate input")
	ErrTooManyInputs  = errors.New("too many inputs")
	ErrTooManyOutputs = errors.New("too many outputs")
	ErrScriptTooLarge = errors.New("script too large")
	ErrOutputOverflow = errors.New("output values overflow")
)

// Validate checks transaction structure. It is applied to every transaction
// received from a ledger source before token rules are evaluated.
func (tx *Transaction) Validate() error {
	if len(tx.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(tx.Inputs) > MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), MaxTxInputs)
	}
	if len(tx.Outputs) > MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), MaxTxOutputs)
	}

	seen := make(map[types.Outpoint]bool, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
	}

	for i, out := range tx.Outputs {
		if len(out.Script) > MaxScriptSize {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptTooLarge, len(out.Script), MaxScriptSize)
		}
	}
	if _, err := tx.TotalOutputValue(); err != nil {
		return ErrOutputOverflow
	}
	return nil
}
