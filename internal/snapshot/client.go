// Package snapshot implements the REST snapshot collaborator the
// DeltaOnly dialect uses to seed full_book: a single GET endpoint,
// rate-limited and retried the way the teacher's exchange REST client
// rate-limits and retries its own endpoints.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"bookhub/internal/bookparser"
	"bookhub/pkg/booktypes"
)

// response is the wire shape of a snapshot response: a sequence id and
// keyed price/amount objects per side, the same shape bookparser.ParseKeyed
// already knows how to turn into an OrderBook.
type response struct {
	Sequence json.Number `json:"sequence"`
	Asks     []any       `json:"asks"`
	Bids     []any       `json:"bids"`
}

// Client fetches order book snapshots over HTTP. It satisfies
// reconciler.SnapshotFetcher.
type Client struct {
	http   *resty.Client
	rl     *tokenBucket
	fields bookparser.FieldNames
	logger *slog.Logger
}

// Option configures a Client beyond its required baseURL.
type Option func(*Client)

// WithFieldNames overrides the default price/amount/sequence field names
// the snapshot endpoint uses, mirroring the per-exchange overrides the
// Book Parser accepts.
func WithFieldNames(fields bookparser.FieldNames) Option {
	return func(c *Client) { c.fields = fields }
}

// WithRateLimit overrides the default burst capacity and refill rate
// (tokens per second) for the snapshot endpoint.
func WithRateLimit(capacity, ratePerSecond float64) Option {
	return func(c *Client) { c.rl = newTokenBucket(capacity, ratePerSecond) }
}

// NewClient builds a snapshot client against baseURL, which must expose a
// GET endpoint of the form "<baseURL>/book?symbol=...&max_count=...".
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	c := &Client{
		http:   httpClient,
		rl:     newTokenBucket(150, 15),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrderBook fetches the current book for symbol, bounded to maxCount
// levels per side. It blocks on the rate limiter before issuing the
// request.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, maxCount int) (booktypes.OrderBook, error) {
	if err := c.rl.wait(ctx); err != nil {
		return booktypes.OrderBook{}, fmt.Errorf("snapshot: rate limit wait: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("max_count", fmt.Sprintf("%d", maxCount)).
		Get("/book")
	if err != nil {
		return booktypes.OrderBook{}, fmt.Errorf("snapshot: get order book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return booktypes.OrderBook{}, fmt.Errorf("snapshot: get order book: status %d: %s", resp.StatusCode(), resp.String())
	}

	// Decoded by hand with UseNumber rather than resty's SetResult: the
	// stdlib json package otherwise decodes the Asks/Bids price/amount
	// literals as float64, losing precision before bookparser ever sees
	// them.
	var result response
	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return booktypes.OrderBook{}, fmt.Errorf("snapshot: decode response: %w", err)
	}

	token := map[string]any{
		"sequence": result.Sequence,
		"asks":     result.Asks,
		"bids":     result.Bids,
	}
	book, err := bookparser.ParseKeyed(token, symbol, c.fields, maxCount)
	if err != nil {
		return booktypes.OrderBook{}, fmt.Errorf("snapshot: parse response: %w", err)
	}
	return book, nil
}
