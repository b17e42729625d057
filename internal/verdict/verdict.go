// Package verdict defines validation outcomes, their provenance and the
// quorum policy callers pass per request.
package verdict

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Outcome is the result of validating a token transaction.
type Outcome uint8

const (
	Indeterminate Outcome = iota
	Valid
	Invalid
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "indeterminate"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(s) {
	case "valid":
		return Valid, nil
	case "invalid":
		return Invalid, nil
	case "indeterminate":
		return Indeterminate, nil
	}
	return Indeterminate, fmt.Errorf("unknown outcome %q", s)
}

// MarshalJSON encodes the outcome as its name.
func (o Outcome) MarshalJSON() ([]byte, error) { return json.Marshal(o.String()) }

// UnmarshalJSON decodes an outcome name.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseOutcome(s)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// SourceKind records where a verdict came from.
type SourceKind uint8

const (
	SourceNone SourceKind = iota
	SourceIndexer
	SourceGraphReplay
	SourceCached
)

// String returns the source name.
func (s SourceKind) String() string {
	switch s {
	case SourceIndexer:
		return "indexer"
	case SourceGraphReplay:
		return "graph_replay"
	case SourceCached:
		return "cached"
	default:
		return "none"
	}
}

// ParseSourceKind is the inverse of SourceKind.String.
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "indexer":
		return SourceIndexer, nil
	case "graph_replay":
		return SourceGraphReplay, nil
	case "cached":
		return SourceCached, nil
	case "none", "":
		return SourceNone, nil
	}
	return SourceNone, fmt.Errorf("unknown source %q", s)
}

// MarshalJSON encodes the source as its name.
func (s SourceKind) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalJSON decodes a source name.
func (s *SourceKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, err := ParseSourceKind(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Verdict is the answer to one validation request.
//
// ConfirmingIndexers lists the indexers that voted for Outcome by the time
// the decision settled, plus any that answered within the coordinator's
// settle grace. Indexers still outstanding after that are not listed.
type Verdict struct {
	TokenID            types.TokenID `json:"token_id"`
	TxID               types.Hash    `json:"tx_id"`
	Outcome            Outcome       `json:"outcome"`
	Source             SourceKind    `json:"source"`
	ConfirmingIndexers []string      `json:"confirming_indexers,omitempty"`
	ObservedAt         uint64        `json:"observed_at"`

	// Origin is the provenance a Cached verdict was originally resolved
	// with. It is zero for verdicts that were not restored from storage.
	Origin SourceKind `json:"origin,omitempty"`
}

// Key identifies a verdict in caches and stores.
type Key struct {
	TokenID types.TokenID
	TxID    types.Hash
}

// Key returns the verdict's cache key.
func (v Verdict) Key() Key { return Key{TokenID: v.TokenID, TxID: v.TxID} }

// Clone returns a deep copy.
func (v Verdict) Clone() Verdict {
	if v.ConfirmingIndexers != nil {
		v.ConfirmingIndexers = append([]string(nil), v.ConfirmingIndexers...)
	}
	return v
}

// Provenance returns the source the verdict was resolved with, looking
// through the Cached marker of restored verdicts.
func (v Verdict) Provenance() SourceKind {
	if v.Source == SourceCached {
		return v.Origin
	}
	return v.Source
}

// Supported reports whether a Valid verdict names a supporting source.
// Non-Valid verdicts are always supported.
func (v Verdict) Supported() bool {
	if v.Outcome != Valid {
		return true
	}
	switch v.Provenance() {
	case SourceGraphReplay:
		return true
	case SourceIndexer:
		return len(v.ConfirmingIndexers) > 0
	}
	return false
}

// SortedIndexers returns a sorted copy of names.
func SortedIndexers(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

// ErrInvalidPolicy is returned for a policy no decision procedure can honor.
var ErrInvalidPolicy = errors.New("invalid quorum policy")

// Policy is the per-request quorum policy. It is passed by value.
type Policy struct {
	// MinAgreeing is the minimum number of indexers that must agree on an
	// outcome. Zero means trustless: indexers are skipped.
	MinAgreeing int `json:"min_agreeing"`
	// MinFraction is the minimum trust-weighted share of responding
	// indexers that must agree, in [0, 1].
	MinFraction float64 `json:"min_fraction"`
	// FallbackOnDisagreement replays the graph when responses exist but no
	// outcome reaches quorum.
	FallbackOnDisagreement bool `json:"fallback_on_disagreement"`
	// FallbackOnInsufficient replays the graph when too few indexers
	// answered for any outcome to reach quorum.
	FallbackOnInsufficient bool `json:"fallback_on_insufficient"`
}

// Trustless reports whether the policy bypasses indexers entirely.
func (p Policy) Trustless() bool { return p.MinAgreeing == 0 }

// Validate checks the policy in isolation. Satisfiability against a
// concrete indexer set is checked by the coordinator.
func (p Policy) Validate() error {
	if p.MinAgreeing < 0 {
		return fmt.Errorf("%w: min_agreeing %d < 0", ErrInvalidPolicy, p.MinAgreeing)
	}
	if p.MinFraction < 0 || p.MinFraction > 1 || p.MinFraction != p.MinFraction {
		return fmt.Errorf("%w: min_fraction %v outside [0,1]", ErrInvalidPolicy, p.MinFraction)
	}
	return nil
}

// String renders the policy compactly; it is used as part of request keys.
func (p Policy) String() string {
	return fmt.Sprintf("%d/%g/%t/%t", p.MinAgreeing, p.MinFraction, p.FallbackOnDisagreement, p.FallbackOnInsufficient)
}

// DefaultPolicy is 2-of-N agreement with a simple majority and fallback on
// both failure modes.
func DefaultPolicy() Policy {
	return Policy{
		MinAgreeing:            2,
		MinFraction:            0.5,
		FallbackOnDisagreement: true,
		FallbackOnInsufficient: true,
	}
}
