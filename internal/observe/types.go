package observe

import (
	"time"

	"bookhub/internal/hub"
	"bookhub/pkg/booktypes"
)

// Provider is the read-only view into the running app that the status
// server renders. internal/app's orchestrator implements it.
type Provider interface {
	// Books returns the last reconciled book per tracked symbol.
	Books() map[string]booktypes.OrderBook
	// HubState returns the Manager's current connection state.
	HubState() hub.State
	// ListenerCount returns the number of distinct hub listeners and the
	// total number of param sets subscribed across all of them.
	ListenerCount() (listeners int, paramSets int)
}

// BookView is the JSON shape of one symbol's reconciled book.
type BookView struct {
	Symbol         string      `json:"symbol"`
	SequenceID     int64       `json:"sequence_id"`
	Asks           []LevelView `json:"asks"`
	Bids           []LevelView `json:"bids"`
	LastUpdatedUTC time.Time   `json:"last_updated_utc"`
}

// LevelView is the JSON shape of one resting price level.
type LevelView struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// NewBookView converts an internal OrderBook to its JSON view.
func NewBookView(book booktypes.OrderBook) BookView {
	return BookView{
		Symbol:         book.Symbol,
		SequenceID:     book.SequenceID,
		Asks:           levelViews(book.Asks.Levels()),
		Bids:           levelViews(book.Bids.Levels()),
		LastUpdatedUTC: book.LastUpdatedUTC,
	}
}

func levelViews(levels []booktypes.OrderPrice) []LevelView {
	out := make([]LevelView, len(levels))
	for i, l := range levels {
		out[i] = LevelView{Price: l.Price.String(), Amount: l.Amount.String()}
	}
	return out
}

// HubStateView is the JSON shape of /api/hub.
type HubStateView struct {
	State     string `json:"state"`
	Listeners int    `json:"listeners"`
	ParamSets int    `json:"param_sets"`
}
