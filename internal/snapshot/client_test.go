package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetOrderBookParsesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTC-USD" {
			t.Errorf("symbol query param = %q, want BTC-USD", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"sequence": 100,
			"asks": [{"price":"10","amount":"1"},{"price":"11","amount":"1"}],
			"bids": [{"price":"9","amount":"2"}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, WithRateLimit(100, 1000))
	book, err := c.GetOrderBook(context.Background(), "BTC-USD", 50)
	if err != nil {
		t.Fatalf("GetOrderBook() error = %v", err)
	}
	if book.SequenceID != 100 {
		t.Fatalf("SequenceID = %d, want 100", book.SequenceID)
	}
	if book.Asks.Len() != 2 {
		t.Fatalf("Asks.Len() = %d, want 2", book.Asks.Len())
	}
	if book.Bids.Len() != 1 {
		t.Fatalf("Bids.Len() = %d, want 1", book.Bids.Len())
	}
}

func TestGetOrderBookNon200Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, WithRateLimit(100, 1000))
	c.http.SetRetryCount(0)

	_, err := c.GetOrderBook(context.Background(), "BTC-USD", 50)
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestGetOrderBookMalformedBodyErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sequence":1,"asks":[{"price":"oops","amount":"1"}],"bids":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, WithRateLimit(100, 1000))
	_, err := c.GetOrderBook(context.Background(), "BTC-USD", 50)
	if err == nil {
		t.Fatalf("expected parse error for malformed price")
	}
}

func TestGetOrderBookRespectsRateLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sequence":1,"asks":[],"bids":[]}`))
	}))
	defer srv.Close()

	// Capacity 1 forces the second call to wait almost a full second for
	// refill; a short-deadline context should time out waiting for it.
	c := NewClient(srv.URL, nil, WithRateLimit(1, 1))

	if _, err := c.GetOrderBook(context.Background(), "BTC-USD", 10); err != nil {
		t.Fatalf("first GetOrderBook() with available token error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.GetOrderBook(ctx, "BTC-USD", 10); err == nil {
		t.Fatalf("expected rate-limit wait to time out on exhausted bucket")
	}
}
