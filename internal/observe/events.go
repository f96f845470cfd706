// Package observe implements a read-only HTTP + WebSocket status surface
// over the reconciled books and hub connection state: a diagnostics
// layer, not a control plane. It cannot subscribe, unsubscribe, or
// otherwise mutate hub state.
package observe

import (
	"time"

	"bookhub/pkg/booktypes"
)

// Event is the wrapper for everything broadcast to WebSocket viewers.
type Event struct {
	Type      string    `json:"type"` // "book_updated", "hub_connected", "hub_disconnected"
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// BookUpdatedData carries the symbol whose reconciled book just changed.
// Viewers re-fetch /api/books rather than receive the whole book inline,
// keeping the broadcast payload small under a busy feed.
type BookUpdatedData struct {
	Symbol     string `json:"symbol"`
	SequenceID int64  `json:"sequence_id"`
}

// NewBookUpdatedEvent reports a single symbol's book changing.
func NewBookUpdatedEvent(book booktypes.OrderBook) Event {
	return Event{
		Type:      "book_updated",
		Timestamp: time.Now(),
		Data:      BookUpdatedData{Symbol: book.Symbol, SequenceID: book.SequenceID},
	}
}

// NewHubConnectedEvent reports the hub transitioning to Connected.
func NewHubConnectedEvent() Event {
	return Event{Type: "hub_connected", Timestamp: time.Now()}
}

// NewHubDisconnectedEvent reports the hub transitioning to Disconnected.
func NewHubDisconnectedEvent() Event {
	return Event{Type: "hub_disconnected", Timestamp: time.Now()}
}
