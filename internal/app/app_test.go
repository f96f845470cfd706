package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"bookhub/internal/bookparser"
	"bookhub/internal/dispatch"
	"bookhub/internal/hub"
	"bookhub/pkg/booktypes"
)

// fakeTransport never delivers frames on its own; tests drive payloads
// straight into the shared Registry instead, since Registry.Dispatch is
// exactly what Manager's dispatchFrame calls after wire-decoding a frame.
type fakeTransport struct {
	closed chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) Start(ctx context.Context) error             { return nil }
func (f *fakeTransport) Send(ctx context.Context, text string) error { return nil }
func (f *fakeTransport) Messages() <-chan []byte                     { return make(chan []byte) }
func (f *fakeTransport) Closed() <-chan struct{}                     { return f.closed }
func (f *fakeTransport) Stop() error                                 { return nil }

func noopInvoker(ctx context.Context, functionFullName string, args []any) (bool, error) {
	return true, nil
}

func parseKeyedForTest(token map[string]any, symbol string, maxCount int) (booktypes.OrderBook, error) {
	return bookparser.ParseKeyed(token, symbol, bookparser.FieldNames{}, maxCount)
}

func newTestManager() (*dispatch.Directory, *hub.Registry, *hub.Manager) {
	directory := dispatch.New()
	registry := hub.NewRegistry(nil, nil)
	newTransport := func() hub.RealtimeTransport { return newFakeTransport() }
	manager := hub.NewManager(newTransport, noopInvoker, registry, nil)
	return directory, registry, manager
}

func TestAppTrackDeliversReconciledBook(t *testing.T) {
	t.Parallel()

	directory, registry, manager := newTestManager()
	directory.Register("demo", dispatch.Entry{Dialect: booktypes.FullEachTime, MaxCount: 10})

	a := New(directory, registry, manager, nil, nil, nil)
	defer a.Close()

	received := make(chan booktypes.OrderBook, 1)
	a.onBook = func(exchange string, book booktypes.OrderBook) {
		received <- book
	}

	h, err := a.Track(context.Background(), "demo", "Book", "BTC-USD", [][]any{{"BTC-USD"}}, parseKeyedForTest, 10, 0)
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	defer h.Close()

	if books := a.Books(); len(books) != 0 {
		t.Fatalf("Books() = %v, want empty before any frame arrives", books)
	}

	payload := `{"sequence":1,"asks":[{"price":"101","amount":"1"}],"bids":[{"price":"99","amount":"2"}]}`
	registry.Dispatch(registry.FullName("Book"), payload)

	select {
	case book := <-received:
		if book.Symbol != "BTC-USD" || book.SequenceID != 1 {
			t.Fatalf("book = %+v, want symbol BTC-USD sequence 1", book)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reconciled book")
	}

	books := a.Books()
	if _, ok := books["BTC-USD"]; !ok {
		t.Fatalf("Books() missing BTC-USD after delivery")
	}
}

func TestAppTrackUnknownExchangeErrors(t *testing.T) {
	t.Parallel()

	directory, registry, manager := newTestManager()
	a := New(directory, registry, manager, nil, nil, nil)
	defer a.Close()

	_, err := a.Track(context.Background(), "nope", "Book", "BTC-USD", [][]any{{"BTC-USD"}}, parseKeyedForTest, 10, 0)
	if err == nil {
		t.Fatalf("expected error for unknown exchange")
	}
}

func TestAppListenerCountReflectsRegistry(t *testing.T) {
	t.Parallel()

	directory, registry, manager := newTestManager()
	directory.Register("demo", dispatch.Entry{Dialect: booktypes.FullEachTime, MaxCount: 10})

	a := New(directory, registry, manager, nil, nil, nil)
	defer a.Close()

	h, err := a.Track(context.Background(), "demo", "Book", "BTC-USD", [][]any{{"BTC-USD"}, {"ETH-USD"}}, parseKeyedForTest, 10, 0)
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	defer h.Close()

	listeners, paramSets := a.ListenerCount()
	if listeners != 1 || paramSets != 2 {
		t.Fatalf("ListenerCount() = (%d, %d), want (1, 2)", listeners, paramSets)
	}
}

func TestAppReconnectResetsReconcilerState(t *testing.T) {
	t.Parallel()

	directory, registry, manager := newTestManager()
	directory.Register("demo", dispatch.Entry{Dialect: booktypes.SnapshotThenDelta, MaxCount: 10})

	a := New(directory, registry, manager, nil, nil, nil)
	defer a.Close()

	var mu sync.Mutex
	var books []booktypes.OrderBook
	a.onBook = func(exchange string, book booktypes.OrderBook) {
		mu.Lock()
		books = append(books, book)
		mu.Unlock()
	}

	h, err := a.Track(context.Background(), "demo", "Book", "BTC-USD", [][]any{{"BTC-USD"}}, parseKeyedForTest, 10, 0)
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	defer h.Close()

	first := `{"sequence":5,"asks":[{"price":"101","amount":"1"}],"bids":[{"price":"99","amount":"2"}]}`
	registry.Dispatch(registry.FullName("Book"), first)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(books)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Simulate a reconnect: SnapshotThenDelta treats the next message as
	// authoritative only once its in-memory state has been cleared, so a
	// lower sequence number after reset must still be accepted verbatim
	// rather than rejected as stale.
	a.resetAllTracked()

	stale := `{"sequence":1,"asks":[{"price":"50","amount":"9"}],"bids":[]}`
	registry.Dispatch(registry.FullName("Book"), stale)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(books)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(books) != 2 {
		t.Fatalf("got %d books, want 2", len(books))
	}
	if books[1].SequenceID != 1 {
		t.Fatalf("post-reset book sequence = %d, want 1 (accepted as a fresh snapshot)", books[1].SequenceID)
	}
}
