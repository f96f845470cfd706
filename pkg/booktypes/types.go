// Package booktypes defines the shared data model for the order-book
// reconciler and the hub client: price levels, full books, and the
// dialect tag that picks a reconciliation strategy. It has no
// dependencies on internal packages, so it can be imported by any layer.
package booktypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dialect is one of the three observed exchange delivery styles. It
// replaces a switch-on-exchange-name control flow with a tagged value
// carried on the subscription.
type Dialect int

const (
	// DeltaOnly exchanges never send a full book over the feed; the
	// first message and every later message are partial deltas, and a
	// REST snapshot must be fetched to seed full_book.
	DeltaOnly Dialect = iota
	// SnapshotThenDelta exchanges send one full snapshot as their first
	// message, then partial deltas after.
	SnapshotThenDelta
	// FullEachTime exchanges send a full snapshot on every message;
	// there is nothing to merge, only to replace.
	FullEachTime
)

// String renders the dialect for logging.
func (d Dialect) String() string {
	switch d {
	case DeltaOnly:
		return "delta_only"
	case SnapshotThenDelta:
		return "snapshot_then_delta"
	case FullEachTime:
		return "full_each_time"
	default:
		return "unknown"
	}
}

// OrderPrice is a single resting level at a price. Amount <= 0 or
// Price <= 0 marks a deletion of that price from the book it belongs to.
type OrderPrice struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// IsDelete reports whether this level represents removal of its price
// rather than a live resting order.
func (p OrderPrice) IsDelete() bool {
	return p.Amount.Sign() <= 0 || p.Price.Sign() <= 0
}

// OrderBook is a full or partial snapshot for one symbol. Asks and Bids
// are kept price-ascending; "best bid" is the last entry of Bids.
type OrderBook struct {
	Symbol         string
	SequenceID     int64
	Asks           *BookSide
	Bids           *BookSide
	LastUpdatedUTC time.Time
}

// NewOrderBook returns an empty book for symbol with empty sides ready
// for mutation.
func NewOrderBook(symbol string, sequenceID int64) OrderBook {
	return OrderBook{
		Symbol:     symbol,
		SequenceID: sequenceID,
		Asks:       NewBookSide(),
		Bids:       NewBookSide(),
	}
}

// Clone returns a deep-enough copy of book: the sides are independent
// BookSides, but individual OrderPrice values are immutable value types
// so they don't need copying.
func (b OrderBook) Clone() OrderBook {
	return OrderBook{
		Symbol:         b.Symbol,
		SequenceID:     b.SequenceID,
		Asks:           b.Asks.clone(),
		Bids:           b.Bids.clone(),
		LastUpdatedUTC: b.LastUpdatedUTC,
	}
}
