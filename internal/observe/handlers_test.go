package observe

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"bookhub/internal/hub"
	"bookhub/pkg/booktypes"
)

type fakeProvider struct {
	books     map[string]booktypes.OrderBook
	state     hub.State
	listeners int
	paramSets int
}

func (f *fakeProvider) Books() map[string]booktypes.OrderBook { return f.books }
func (f *fakeProvider) HubState() hub.State                   { return f.state }
func (f *fakeProvider) ListenerCount() (int, int)             { return f.listeners, f.paramSets }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testBook(symbol string) booktypes.OrderBook {
	book := booktypes.NewOrderBook(symbol, 10)
	book.Asks.ReplaceAll([]booktypes.OrderPrice{{Price: dec("101"), Amount: dec("1")}})
	book.Bids.ReplaceAll([]booktypes.OrderPrice{{Price: dec("99"), Amount: dec("2")}})
	return book
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	t.Parallel()

	h := newHandlers(&fakeProvider{}, nil, newWSHub(nil), testLogger())
	rr := httptest.NewRecorder()
	h.handleHealthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestHandleBooksReturnsTrackedSymbols(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{books: map[string]booktypes.OrderBook{
		"BTC-USD": testBook("BTC-USD"),
	}}
	h := newHandlers(provider, nil, newWSHub(nil), testLogger())
	rr := httptest.NewRecorder()
	h.handleBooks(rr, httptest.NewRequest(http.MethodGet, "/api/books", nil))

	var views map[string]BookView
	if err := json.Unmarshal(rr.Body.Bytes(), &views); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	got, ok := views["BTC-USD"]
	if !ok {
		t.Fatalf("missing BTC-USD in response: %s", rr.Body.String())
	}
	if len(got.Asks) != 1 || got.Asks[0].Price != "101" {
		t.Fatalf("Asks = %+v, want one level at 101", got.Asks)
	}
}

func TestHandleHubStateReportsCountsAndState(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{state: hub.Connected, listeners: 2, paramSets: 5}
	h := newHandlers(provider, nil, newWSHub(nil), testLogger())
	rr := httptest.NewRecorder()
	h.handleHubState(rr, httptest.NewRequest(http.MethodGet, "/api/hub", nil))

	var view HubStateView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if view.State != "connected" || view.Listeners != 2 || view.ParamSets != 5 {
		t.Fatalf("view = %+v, want {Connected 2 5}", view)
	}
}

func TestIsOriginAllowedLocalhostAlwaysAllowed(t *testing.T) {
	t.Parallel()

	if !isOriginAllowed("http://localhost:3000", nil, "example.com") {
		t.Fatalf("expected localhost origin to be allowed")
	}
}

func TestIsOriginAllowedRejectsUnlistedOrigin(t *testing.T) {
	t.Parallel()

	if isOriginAllowed("https://evil.example", []string{"https://good.example"}, "good.example") {
		t.Fatalf("expected unlisted origin to be rejected")
	}
}

func TestIsOriginAllowedAcceptsListedOrigin(t *testing.T) {
	t.Parallel()

	if !isOriginAllowed("https://good.example", []string{"https://good.example"}, "good.example") {
		t.Fatalf("expected listed origin to be allowed")
	}
}

func TestIsOriginAllowedEmptyOriginPassesThrough(t *testing.T) {
	t.Parallel()

	if !isOriginAllowed("", []string{"https://good.example"}, "good.example") {
		t.Fatalf("expected empty origin (non-browser client) to pass through")
	}
}
