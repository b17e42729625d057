// Package uri parses and builds SLP payment request URIs.
//
//	simpleledger:<address>?amount=<n>-<tokenid>[-<flags>]&amount1=<bch>&message=<text>
//
// A token amount is written as a decimal token quantity followed by the
// token id. A plain amount is a BCH value in coins and is converted to
// satoshis.
package uri

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/ActorForth/ECash-SLPDB/pkg/types"
)

// Accepted URI schemes.
const (
	SchemeSLP  = "simpleledger"
	SchemeCash = "bitcoincash"
)

// SatoshisPerCoin is the number of satoshis in one coin.
const SatoshisPerCoin = 100_000_000

// MaxAmounts is the largest number of payments a request may carry: one BCH
// and one token payment.
const MaxAmounts = 2

// Parse errors.
var (
	ErrScheme        = errors.New("unsupported uri scheme")
	ErrDuplicateKey  = errors.New("duplicate query key")
	ErrBadAmount     = errors.New("invalid amount")
	ErrTooManyAmount = errors.New("too many amounts requested")
)

// TokenAmount is a requested token payment.
type TokenAmount struct {
	TokenID types.TokenID `json:"token_id"`
	// Amount is the decimal token quantity as written in the URI.
	Amount string `json:"amount"`
	Flags  string `json:"flags,omitempty"`
}

// Request is a parsed payment request.
type Request struct {
	Scheme   string            `json:"scheme"`
	Address  string            `json:"address,omitempty"`
	Satoshis uint64            `json:"satoshis,omitempty"`
	Tokens   []TokenAmount     `json:"tokens,omitempty"`
	Message  string            `json:"message,omitempty"`
	OpReturn string            `json:"op_return,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Parse decodes a payment URI. A bare string without a scheme is treated as
// an address.
func Parse(raw string) (*Request, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return &Request{Address: raw}, nil
	}
	scheme = strings.ToLower(scheme)
	if scheme != SchemeSLP && scheme != SchemeCash {
		return nil, fmt.Errorf("%w: %q", ErrScheme, scheme)
	}

	addr, query, _ := strings.Cut(rest, "?")
	req := &Request{Scheme: scheme, Address: addr}

	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	amounts := 0
	for _, k := range keys {
		v := values[k]
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, k)
		}
		val := v[0]
		switch {
		case strings.HasPrefix(k, "amount"):
			amounts++
			if amounts > MaxAmounts {
				return nil, ErrTooManyAmount
			}
			if err := req.addAmount(val); err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
		case k == "message":
			req.Message = val
		case k == "op_return":
			req.OpReturn = val
		case k == "op_return_raw":
			if req.OpReturn == "" {
				req.OpReturn = val
			}
		default:
			if req.Extra == nil {
				req.Extra = make(map[string]string)
			}
			req.Extra[k] = val
		}
	}
	return req, nil
}

func (r *Request) addAmount(val string) error {
	qty, tokenPart, isToken := strings.Cut(val, "-")
	if !isToken {
		if r.Satoshis != 0 {
			return fmt.Errorf("%w: more than one coin amount", ErrBadAmount)
		}
		sat, err := ParseCoins(qty)
		if err != nil {
			return err
		}
		r.Satoshis = sat
		return nil
	}

	if len(r.Tokens) > 0 {
		return fmt.Errorf("%w: more than one token amount", ErrBadAmount)
	}
	if _, err := strconv.ParseFloat(qty, 64); err != nil || strings.HasPrefix(qty, "-") {
		return fmt.Errorf("%w: %q", ErrBadAmount, qty)
	}
	idHex, flags, _ := strings.Cut(tokenPart, "-")
	id, err := types.HexToTokenID(idHex)
	if err != nil {
		return fmt.Errorf("%w: token id: %v", ErrBadAmount, err)
	}
	r.Tokens = append(r.Tokens, TokenAmount{TokenID: id, Amount: qty, Flags: flags})
	return nil
}

// ParseCoins converts a decimal coin value with at most 8 fractional digits
// to satoshis.
func ParseCoins(s string) (uint64, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadAmount)
	}
	if len(frac) > 8 {
		return 0, fmt.Errorf("%w: %q has more than 8 decimals", ErrBadAmount, s)
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	var f uint64
	if frac != "" {
		f, err = strconv.ParseUint(frac+strings.Repeat("0", 8-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
		}
	}
	if w > (^uint64(0)-f)/SatoshisPerCoin {
		return 0, fmt.Errorf("%w: %q overflows", ErrBadAmount, s)
	}
	return w*SatoshisPerCoin + f, nil
}

// FormatCoins renders satoshis as a plain decimal coin value.
func FormatCoins(sat uint64) string {
	s := fmt.Sprintf("%d.%08d", sat/SatoshisPerCoin, sat%SatoshisPerCoin)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// String encodes the request as a URI. A token amount is written before a
// coin amount.
func (r *Request) String() string {
	scheme := r.Scheme
	if scheme == "" {
		scheme = SchemeSLP
	}
	var q []string
	if len(r.Tokens) > 0 {
		t := r.Tokens[0]
		a := fmt.Sprintf("amount=%s-%s", t.Amount, t.TokenID)
		if t.Flags != "" {
			a += "-" + t.Flags
		}
		q = append(q, a)
		if r.Satoshis != 0 {
			q = append(q, "amount1="+FormatCoins(r.Satoshis))
		}
	} else if r.Satoshis != 0 {
		q = append(q, "amount="+FormatCoins(r.Satoshis))
	}
	if r.Message != "" {
		q = append(q, "message="+url.QueryEscape(r.Message))
	}
	if r.OpReturn != "" {
		q = append(q, "op_return="+url.QueryEscape(r.OpReturn))
	}
	out := scheme + ":" + r.Address
	if len(q) > 0 {
		out += "?" + strings.Join(q, "&")
	}
	return out
}
