// Package bookparser converts a decoded hub payload's token tree into a
// booktypes.OrderBook. Exchanges describe the same shape two ways —
// positional arrays ([price, amount]) or keyed objects ({price, amount})
// — so two stateless entry points exist, both sharing the same
// field-name overrides and a max_count cap per side.
//
// Numeric parsing always goes through shopspring/decimal, which is
// invariant-culture fixed-point by construction: there is no locale to
// get wrong.
package bookparser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bookhub/pkg/booktypes"
)

// ParseError is returned for any malformed book payload: missing
// fields, wrong shapes, or unparseable numbers.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("bookparser: %s", e.Reason) }

// FieldNames overrides the per-entry field names and the top-level
// sequence field. Empty fields fall back to the defaults below; the
// top-level "asks"/"bids" container keys are not overridable.
type FieldNames struct {
	Price    string
	Amount   string
	Sequence string
}

func (f FieldNames) withDefaults() FieldNames {
	if f.Price == "" {
		f.Price = "price"
	}
	if f.Amount == "" {
		f.Amount = "amount"
	}
	if f.Sequence == "" {
		f.Sequence = "sequence"
	}
	return f
}

// Unmarshal turns decoded wire text into a token tree suitable for
// ParsePositional/ParseKeyed. Numeric literals decode as json.Number
// rather than float64, so toDecimal/sequenceOf can parse them straight
// into shopspring/decimal without a lossy float round trip.
func Unmarshal(text string) (map[string]any, error) {
	var token map[string]any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&token); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("unmarshal: %v", err)}
	}
	return token, nil
}

// ParsePositional reads asks/bids as arrays of [price, amount] pairs.
func ParsePositional(token map[string]any, symbol string, fields FieldNames, maxCount int) (booktypes.OrderBook, error) {
	fields = fields.withDefaults()

	seq, err := sequenceOf(token, fields.Sequence)
	if err != nil {
		return booktypes.OrderBook{}, err
	}

	asks, err := positionalSide(token, "asks", maxCount)
	if err != nil {
		return booktypes.OrderBook{}, err
	}
	bids, err := positionalSide(token, "bids", maxCount)
	if err != nil {
		return booktypes.OrderBook{}, err
	}

	return assemble(symbol, seq, asks, bids), nil
}

// ParseKeyed reads asks/bids as arrays of {price, amount} objects.
func ParseKeyed(token map[string]any, symbol string, fields FieldNames, maxCount int) (booktypes.OrderBook, error) {
	fields = fields.withDefaults()

	seq, err := sequenceOf(token, fields.Sequence)
	if err != nil {
		return booktypes.OrderBook{}, err
	}

	asks, err := keyedSide(token, "asks", fields, maxCount)
	if err != nil {
		return booktypes.OrderBook{}, err
	}
	bids, err := keyedSide(token, "bids", fields, maxCount)
	if err != nil {
		return booktypes.OrderBook{}, err
	}

	return assemble(symbol, seq, asks, bids), nil
}

// assemble builds the parsed message as-is, delete markers included: it
// is up to the Reconciler to decide whether this book becomes the new
// full-book state (dropping deletes) or is merged as a delta (honoring
// them).
func assemble(symbol string, seq int64, asks, bids []booktypes.OrderPrice) booktypes.OrderBook {
	book := booktypes.NewOrderBook(symbol, seq)
	book.Asks.LoadRaw(asks)
	book.Bids.LoadRaw(bids)
	return book
}

func positionalSide(token map[string]any, key string, maxCount int) ([]booktypes.OrderPrice, error) {
	raw, ok := token[key]
	if !ok || raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("%s: expected array", key)}
	}

	out := make([]booktypes.OrderPrice, 0, capLen(len(entries), maxCount))
	for i, e := range entries {
		if maxCount > 0 && i >= maxCount {
			break
		}
		pair, ok := e.([]any)
		if !ok || len(pair) < 2 {
			return nil, &ParseError{Reason: fmt.Sprintf("%s[%d]: expected [price, amount]", key, i)}
		}
		price, err := toDecimal(pair[0])
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("%s[%d].price: %v", key, i, err)}
		}
		amount, err := toDecimal(pair[1])
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("%s[%d].amount: %v", key, i, err)}
		}
		out = append(out, booktypes.OrderPrice{Price: price, Amount: amount})
	}
	return out, nil
}

func keyedSide(token map[string]any, key string, fields FieldNames, maxCount int) ([]booktypes.OrderPrice, error) {
	raw, ok := token[key]
	if !ok || raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("%s: expected array", key)}
	}

	out := make([]booktypes.OrderPrice, 0, capLen(len(entries), maxCount))
	for i, e := range entries {
		if maxCount > 0 && i >= maxCount {
			break
		}
		obj, ok := e.(map[string]any)
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("%s[%d]: expected object", key, i)}
		}
		priceRaw, ok := obj[fields.Price]
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("%s[%d]: missing %q", key, i, fields.Price)}
		}
		amountRaw, ok := obj[fields.Amount]
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("%s[%d]: missing %q", key, i, fields.Amount)}
		}
		price, err := toDecimal(priceRaw)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("%s[%d].%s: %v", key, i, fields.Price, err)}
		}
		amount, err := toDecimal(amountRaw)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("%s[%d].%s: %v", key, i, fields.Amount, err)}
		}
		out = append(out, booktypes.OrderPrice{Price: price, Amount: amount})
	}
	return out, nil
}

func sequenceOf(token map[string]any, field string) (int64, error) {
	raw, ok := token[field]
	if !ok {
		return 0, &ParseError{Reason: fmt.Sprintf("missing sequence field %q", field)}
	}
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, &ParseError{Reason: fmt.Sprintf("sequence field %q: %v", field, err)}
		}
		return n, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return 0, &ParseError{Reason: fmt.Sprintf("sequence field %q: %v", field, err)}
		}
		return d.IntPart(), nil
	default:
		return 0, &ParseError{Reason: fmt.Sprintf("sequence field %q: unsupported type %T", field, raw)}
	}
}

// toDecimal parses a JSON-decoded numeric value (string or float64) as a
// fixed-point decimal, never through a locale-sensitive path.
func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func capLen(a, b int) int {
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
