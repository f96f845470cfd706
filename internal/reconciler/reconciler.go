// Package reconciler turns per-symbol partial/full book increments into a
// single monotonic full-book stream. The algorithm depends on the dialect
// attached to each symbol: FullEachTime replaces state outright,
// SnapshotThenDelta treats the first message as authoritative, and
// DeltaOnly queues deltas behind an in-flight REST snapshot fetch.
//
// Per-symbol state is guarded by its own lock, held only across the apply
// critical section; the emission callback always runs after that lock is
// released so one slow subscriber cannot stall another symbol.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bookhub/pkg/booktypes"
)

// SnapshotFetcher is the REST snapshot collaborator used by the DeltaOnly
// dialect. Implementations must return a book whose sequence_id is
// comparable to the delta sequence IDs observed on the same exchange.
type SnapshotFetcher interface {
	GetOrderBook(ctx context.Context, symbol string, maxCount int) (booktypes.OrderBook, error)
}

// Callback receives a reconciled full book. It runs outside any
// reconciler lock; a panic inside it is recovered at the call site so one
// bad subscriber cannot take down the feed.
type Callback func(booktypes.OrderBook)

// symbolState is the per-symbol bookkeeping described in the data model:
// the current full book (nil until known), a FIFO queue of deltas
// awaiting an in-flight snapshot, and whether a fetch is outstanding.
type symbolState struct {
	mu               sync.Mutex
	fullBook         *booktypes.OrderBook
	pending          []booktypes.OrderBook
	snapshotInFlight bool
	draining         bool
}

// Reconciler is created once per exchange/dialect pairing and holds state
// for every symbol it has seen. It is safe for concurrent use across
// symbols; per-symbol state is lazily created on first message.
type Reconciler struct {
	dialect  booktypes.Dialect
	maxCount int
	fetcher  SnapshotFetcher
	onBook   Callback
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*symbolState
}

// New returns a Reconciler for a single dialect. fetcher may be nil for
// FullEachTime and SnapshotThenDelta, which never need a REST snapshot.
func New(dialect booktypes.Dialect, maxCount int, fetcher SnapshotFetcher, onBook Callback, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		dialect:  dialect,
		maxCount: maxCount,
		fetcher:  fetcher,
		onBook:   onBook,
		logger:   logger,
		states:   make(map[string]*symbolState),
	}
}

// Reset discards in-memory state for symbol, so the next increment is
// treated as if it were the first ever seen. The app wiring calls this
// for every tracked symbol on a hub Disconnected→Connected transition,
// since sequence continuity cannot be verified across a reconnect gap.
func (r *Reconciler) Reset(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, symbol)
}

// ResetAll discards all per-symbol state.
func (r *Reconciler) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = make(map[string]*symbolState)
}

func (r *Reconciler) stateFor(symbol string) *symbolState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[symbol]
	if !ok {
		st = &symbolState{}
		r.states[symbol] = st
	}
	return st
}

// OnIncrement is called once per message from an exchange feed. Any
// failure in parsing upstream of this call, or any panic raised by the
// user callback, must never reach the feed boundary — this method itself
// never returns an error for that reason; logging is the only signal.
func (r *Reconciler) OnIncrement(ctx context.Context, incoming booktypes.OrderBook) {
	switch r.dialect {
	case booktypes.FullEachTime:
		r.onFullEachTime(incoming)
	case booktypes.SnapshotThenDelta:
		r.onSnapshotThenDelta(incoming)
	case booktypes.DeltaOnly:
		r.onDeltaOnly(ctx, incoming)
	default:
		r.logger.Warn("reconciler: unknown dialect, dropping increment", "symbol", incoming.Symbol, "dialect", r.dialect)
	}
}

func (r *Reconciler) onFullEachTime(incoming booktypes.OrderBook) {
	st := r.stateFor(incoming.Symbol)
	st.mu.Lock()
	book := canonicalize(incoming)
	st.fullBook = &book
	emitted := book.Clone()
	st.mu.Unlock()

	r.emit(emitted)
}

func (r *Reconciler) onSnapshotThenDelta(incoming booktypes.OrderBook) {
	st := r.stateFor(incoming.Symbol)
	st.mu.Lock()
	if st.fullBook == nil {
		book := canonicalize(incoming)
		st.fullBook = &book
		emitted := book.Clone()
		st.mu.Unlock()
		r.emit(emitted)
		return
	}

	applied := applyDelta(st.fullBook, incoming)
	emitted := st.fullBook.Clone()
	st.mu.Unlock()

	if !applied {
		r.logger.Warn("reconciler: stale delta dropped", "symbol", incoming.Symbol, "sequence_id", incoming.SequenceID)
		return
	}
	r.emit(emitted)
}

// canonicalize turns a freshly parsed message into resting full-book
// state: any delete-marked level (meaningful only as a delta instruction)
// is dropped, since a full book can never contain one.
func canonicalize(incoming booktypes.OrderBook) booktypes.OrderBook {
	book := booktypes.NewOrderBook(incoming.Symbol, incoming.SequenceID)
	book.Asks.ReplaceAll(incoming.Asks.Levels())
	book.Bids.ReplaceAll(incoming.Bids.Levels())
	return book
}

func (r *Reconciler) onDeltaOnly(ctx context.Context, incoming booktypes.OrderBook) {
	st := r.stateFor(incoming.Symbol)

	st.mu.Lock()
	shouldFetch := st.fullBook == nil && !st.snapshotInFlight
	st.pending = append(st.pending, incoming)
	if shouldFetch {
		st.snapshotInFlight = true
	}
	st.mu.Unlock()

	if !shouldFetch {
		// Either the book already exists (drain below) or a fetch is
		// already in flight for this symbol; either way this message
		// has been queued and will be drained once the book is known.
		if shouldDrain(st) {
			r.drain(st)
		}
		return
	}

	// The REST snapshot fetch happens off the calling goroutine: later
	// deltas for this symbol must keep enqueuing and returning
	// immediately while it is outstanding. The fetch context is detached
	// from ctx's cancellation (but keeps its values) since the fetch
	// outlives the frame that triggered it.
	go r.fetchSnapshot(context.WithoutCancel(ctx), st, incoming.Symbol)
}

func shouldDrain(st *symbolState) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fullBook != nil
}

func (r *Reconciler) fetchSnapshot(ctx context.Context, st *symbolState, symbol string) {
	if r.fetcher == nil {
		r.logger.Error("reconciler: DeltaOnly dialect requires a SnapshotFetcher", "symbol", symbol)
		st.mu.Lock()
		st.snapshotInFlight = false
		st.mu.Unlock()
		return
	}

	book, err := r.fetcher.GetOrderBook(ctx, symbol, r.maxCount)

	st.mu.Lock()
	st.snapshotInFlight = false
	if err != nil {
		// should_fetch_snapshot stays latched: the next enqueued delta
		// will retry the fetch from onDeltaOnly's shouldFetch check.
		st.mu.Unlock()
		r.logger.Warn("reconciler: snapshot fetch failed, will retry on next delta", "symbol", symbol, "error", err)
		return
	}
	canonical := canonicalize(book)
	st.fullBook = &canonical
	st.mu.Unlock()

	r.drain(st)
}

// drain applies every queued delta in FIFO order, emitting a full book
// after each one, until the queue is empty. onDeltaOnly's drain-on-append
// path and fetchSnapshot's drain-on-resolve path can call this for the
// same symbol at nearly the same moment; the draining flag ensures only
// one goroutine is ever popping st.pending, so emissions for a symbol
// can never interleave out of sequence order. The flag is cleared in the
// same critical section that observes the queue empty, so a delta
// enqueued right after that is never stranded — the enqueuing goroutine
// always finds draining already false and starts a fresh drain.
func (r *Reconciler) drain(st *symbolState) {
	st.mu.Lock()
	if st.draining {
		st.mu.Unlock()
		return
	}
	st.draining = true
	st.mu.Unlock()

	for {
		st.mu.Lock()
		if len(st.pending) == 0 || st.fullBook == nil {
			st.draining = false
			st.mu.Unlock()
			return
		}
		next := st.pending[0]
		st.pending = st.pending[1:]
		applied := applyDelta(st.fullBook, next)
		emitted := st.fullBook.Clone()
		st.mu.Unlock()

		if !applied {
			r.logger.Warn("reconciler: stale delta dropped", "symbol", next.Symbol, "sequence_id", next.SequenceID)
			continue
		}
		r.emit(emitted)
	}
}

// applyDelta merges delta into target under the caller's lock: stale
// deltas (lower sequence_id) are dropped entirely; otherwise every level
// is overwritten or, if delete-marked, removed (removing an absent price
// is not an error). Reports whether the delta was applied so callers can
// skip emitting when it was stale.
func applyDelta(target *booktypes.OrderBook, delta booktypes.OrderBook) bool {
	if delta.SequenceID < target.SequenceID {
		return false
	}
	target.Asks.ApplyDelta(delta.Asks.Levels())
	target.Bids.ApplyDelta(delta.Bids.Levels())
	target.SequenceID = delta.SequenceID
	return true
}

func (r *Reconciler) emit(book booktypes.OrderBook) {
	book.LastUpdatedUTC = time.Now().UTC()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reconciler: user callback panicked", "symbol", book.Symbol, "panic", rec)
		}
	}()
	if r.onBook != nil {
		r.onBook(book)
	}
}
