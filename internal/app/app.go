// Package app is the central orchestrator wiring the Wire Decoder, Hub
// Subscription Registry, a caller-supplied Book Parser, the Reconciler,
// and the Hub Connection Manager into one runnable pipeline, the way the
// teacher's engine package wires its own feeds, scanner, and risk
// manager into a single lifecycle.
//
// Lifecycle: New() -> Start(ctx) -> Track(...) per symbol -> Close().
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bookhub/internal/bookparser"
	"bookhub/internal/dispatch"
	"bookhub/internal/hub"
	"bookhub/internal/observe"
	"bookhub/internal/reconciler"
	"bookhub/pkg/booktypes"
)

// ParseFunc turns a decoded hub payload's token tree into an OrderBook.
// Callers supply this per exchange since the positional-vs-keyed shape
// and field-name overrides are exchange-specific (bookparser.ParsePositional
// and bookparser.ParseKeyed satisfy this signature once their FieldNames
// and maxCount are bound via a closure).
type ParseFunc func(token map[string]any, symbol string, maxCount int) (booktypes.OrderBook, error)

// BookCallback receives every reconciled full book, across all tracked
// exchanges and symbols.
type BookCallback func(exchange string, book booktypes.OrderBook)

// App owns one Hub Connection Manager and one Reconciler per exchange
// (each exchange has a single dialect and max_count, per the dispatch
// directory), and keeps the last reconciled book per symbol for the
// observation surface.
type App struct {
	directory *dispatch.Directory
	manager   *hub.Manager
	registry  *hub.Registry
	fetcher   reconciler.SnapshotFetcher
	onBook    BookCallback
	logger    *slog.Logger

	mu          sync.Mutex
	reconcilers map[string]*reconciler.Reconciler // keyed by exchange

	booksMu sync.Mutex
	books   map[string]booktypes.OrderBook // keyed by symbol

	trackedMu sync.Mutex
	tracked   map[string]struct{} // symbols ever passed to Track, for Reset-on-reconnect

	observer *observe.Server
}

// New builds an App. fetcher is used by any exchange registered with the
// DeltaOnly dialect; it may be nil if no tracked exchange uses that
// dialect. onBook may be nil.
func New(directory *dispatch.Directory, registry *hub.Registry, manager *hub.Manager, fetcher reconciler.SnapshotFetcher, onBook BookCallback, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		directory:   directory,
		manager:     manager,
		registry:    registry,
		fetcher:     fetcher,
		onBook:      onBook,
		logger:      logger.With("component", "app"),
		reconcilers: make(map[string]*reconciler.Reconciler),
		books:       make(map[string]booktypes.OrderBook),
		tracked:     make(map[string]struct{}),
	}
}

// WithObserver attaches a status server; its Books/HubState/ListenerCount
// are fed from this App, and reconciled books are broadcast to it as
// they arrive.
func (a *App) WithObserver(observer *observe.Server) *App {
	a.observer = observer
	return a
}

func (a *App) reconcilerFor(exchange string) (*reconciler.Reconciler, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.reconcilers[exchange]; ok {
		return r, nil
	}

	entry, err := a.directory.Lookup(exchange)
	if err != nil {
		return nil, err
	}

	r := reconciler.New(entry.Dialect, entry.MaxCount, a.fetcher, func(book booktypes.OrderBook) {
		a.storeBook(exchange, book)
	}, a.logger)
	a.reconcilers[exchange] = r
	return r, nil
}

func (a *App) storeBook(exchange string, book booktypes.OrderBook) {
	a.booksMu.Lock()
	a.books[book.Symbol] = book
	a.booksMu.Unlock()

	if a.observer != nil {
		a.observer.BroadcastBookUpdated(book)
	}
	if a.onBook != nil {
		a.onBook(exchange, book)
	}
}

// Start connects the Hub Connection Manager and, if attached, starts the
// observation server in the background.
func (a *App) Start(ctx context.Context) error {
	if a.observer != nil {
		go func() {
			if err := a.observer.Start(); err != nil {
				a.logger.Error("app: observe server exited", "error", err)
			}
		}()
	}
	return a.manager.Start(ctx)
}

// Track subscribes to functionName on exchange for symbol, parsing each
// frame with parse and feeding it through that exchange's Reconciler. The
// returned Handle's lifetime is the caller's to manage; closing it stops
// that one subscription without affecting others sharing the exchange's
// Reconciler.
func (a *App) Track(ctx context.Context, exchange, functionName, symbol string, paramSets [][]any, parse ParseFunc, maxCount int, delayBetweenInvokes time.Duration) (*hub.Handle, error) {
	rec, err := a.reconcilerFor(exchange)
	if err != nil {
		return nil, fmt.Errorf("app: track %s/%s: %w", exchange, symbol, err)
	}

	a.trackedMu.Lock()
	a.tracked[symbol] = struct{}{}
	a.trackedMu.Unlock()

	callback := func(payload string) {
		token, err := bookparser.Unmarshal(payload)
		if err != nil {
			a.logger.Debug("app: dropping unparseable frame", "exchange", exchange, "symbol", symbol, "error", err)
			return
		}
		book, err := parse(token, symbol, maxCount)
		if err != nil {
			a.logger.Debug("app: dropping malformed book frame", "exchange", exchange, "symbol", symbol, "error", err)
			return
		}
		rec.OnIncrement(ctx, book)
	}

	h, err := a.manager.Subscribe(ctx, functionName, paramSets, callback, delayBetweenInvokes)
	if err != nil {
		return nil, err
	}

	// On every reconnect, clear every tracked symbol's reconciler state:
	// sequence continuity can't be verified across a gap the caller has
	// no way to measure (resolves the reconnect-invalidation open
	// question the reconciler package documents).
	h.OnConnectionEvent(func(evt hub.ConnectionEvent) {
		if evt != hub.EventConnected {
			if a.observer != nil && evt == hub.EventDisconnected {
				a.observer.BroadcastHubDisconnected()
			}
			return
		}
		if a.observer != nil {
			a.observer.BroadcastHubConnected()
		}
		a.resetAllTracked()
	})

	return h, nil
}

func (a *App) resetAllTracked() {
	a.trackedMu.Lock()
	symbols := make([]string, 0, len(a.tracked))
	for s := range a.tracked {
		symbols = append(symbols, s)
	}
	a.trackedMu.Unlock()

	a.mu.Lock()
	recs := make([]*reconciler.Reconciler, 0, len(a.reconcilers))
	for _, r := range a.reconcilers {
		recs = append(recs, r)
	}
	a.mu.Unlock()

	for _, r := range recs {
		for _, symbol := range symbols {
			r.Reset(symbol)
		}
	}
}

// Close stops the Hub Connection Manager and, if attached, the
// observation server.
func (a *App) Close() error {
	err := a.manager.Close()
	if a.observer != nil {
		if stopErr := a.observer.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return err
}

// Books implements observe.Provider.
func (a *App) Books() map[string]booktypes.OrderBook {
	a.booksMu.Lock()
	defer a.booksMu.Unlock()
	out := make(map[string]booktypes.OrderBook, len(a.books))
	for k, v := range a.books {
		out[k] = v
	}
	return out
}

// HubState implements observe.Provider.
func (a *App) HubState() hub.State {
	return a.manager.State()
}

// ListenerCount implements observe.Provider.
func (a *App) ListenerCount() (listeners int, paramSets int) {
	entries := a.registry.Snapshot()
	listeners = len(entries)
	for _, e := range entries {
		paramSets += len(e.ParamSets)
	}
	return listeners, paramSets
}
