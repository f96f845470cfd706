package booktypes

import (
	"sort"

	"github.com/shopspring/decimal"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// BookSide is one side (asks or bids) of an order book: a map from price
// to level, always iterated price-ascending per the data model in §3.
// It is not safe for concurrent use on its own — the Reconciler's
// per-symbol lock is what makes mutation safe.
//
// go-ordered-map only preserves insertion order, not key order, so a
// plain Set does not keep the map price-sorted by itself. BookSide
// rebuilds the underlying map in sorted order after every batch of
// mutations instead of reaching for a different data structure; books
// are bounded by the caller's max_count, so a full re-sort per message
// is cheap.
type BookSide struct {
	levels *orderedmap.OrderedMap[string, OrderPrice]
}

// NewBookSide returns an empty side.
func NewBookSide() *BookSide {
	return &BookSide{levels: orderedmap.New[string, OrderPrice]()}
}

// Len returns the number of live price levels.
func (s *BookSide) Len() int {
	if s == nil || s.levels == nil {
		return 0
	}
	return s.levels.Len()
}

// Get returns the level at price, if present.
func (s *BookSide) Get(price decimal.Decimal) (OrderPrice, bool) {
	return s.levels.Get(price.String())
}

// ReplaceAll discards all existing levels and installs levels as the new
// canonical content of this side, sorted price-ascending, dropping any
// delete-marked entries. Used when a book becomes the resting full-book
// state: FullEachTime, SnapshotThenDelta's first message, DeltaOnly's
// REST snapshot.
func (s *BookSide) ReplaceAll(levels []OrderPrice) {
	fresh := orderedmap.New[string, OrderPrice](orderedmap.WithCapacity[string, OrderPrice](len(levels)))
	for _, lvl := range levels {
		if lvl.IsDelete() {
			continue
		}
		fresh.Set(lvl.Price.String(), lvl)
	}
	s.levels = fresh
	s.sortInPlace()
}

// LoadRaw installs levels verbatim, including delete-marked entries. Used
// by the Book Parser, which does not yet know whether the message it is
// building will be treated as a full replacement or merged as a delta —
// that decision belongs to the Reconciler, and a delta's delete markers
// must survive until it reaches applyDelta.
func (s *BookSide) LoadRaw(levels []OrderPrice) {
	fresh := orderedmap.New[string, OrderPrice](orderedmap.WithCapacity[string, OrderPrice](len(levels)))
	for _, lvl := range levels {
		fresh.Set(lvl.Price.String(), lvl)
	}
	s.levels = fresh
	s.sortInPlace()
}

// ApplyDelta merges levels into the side: a delete-marked level removes
// its price (a no-op if the price isn't present), anything else
// overwrites. The side is re-sorted once after the whole batch, not per
// level, to keep delta application close to O(n log n) instead of
// O(n^2 log n).
func (s *BookSide) ApplyDelta(levels []OrderPrice) {
	if len(levels) == 0 {
		return
	}
	for _, lvl := range levels {
		key := lvl.Price.String()
		if lvl.IsDelete() {
			s.levels.Delete(key)
			continue
		}
		s.levels.Set(key, lvl)
	}
	s.sortInPlace()
}

// Levels returns the current levels in price-ascending order. The
// returned slice is a fresh copy safe for the caller to retain.
func (s *BookSide) Levels() []OrderPrice {
	out := make([]OrderPrice, 0, s.levels.Len())
	for pair := s.levels.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (s *BookSide) clone() *BookSide {
	fresh := orderedmap.New[string, OrderPrice](orderedmap.WithCapacity[string, OrderPrice](s.levels.Len()))
	for pair := s.levels.Oldest(); pair != nil; pair = pair.Next() {
		fresh.Set(pair.Key, pair.Value)
	}
	return &BookSide{levels: fresh}
}

// sortInPlace rebuilds s.levels with the same contents but in
// price-ascending key order.
func (s *BookSide) sortInPlace() {
	n := s.levels.Len()
	keys := make([]string, 0, n)
	for pair := s.levels.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, _ := decimal.NewFromString(keys[i])
		pj, _ := decimal.NewFromString(keys[j])
		return pi.LessThan(pj)
	})

	sorted := orderedmap.New[string, OrderPrice](orderedmap.WithCapacity[string, OrderPrice](n))
	for _, k := range keys {
		v, _ := s.levels.Get(k)
		sorted.Set(k, v)
	}
	s.levels = sorted
}
