package hub

import (
	"log/slog"
	"sync"
	"time"
)

// reconnectEvent is submitted by the Manager's connection loop every
// time it leaves the Connected state.
type reconnectEvent struct {
	at time.Time
}

// FlapSignal is emitted once reconnects within Window reach Threshold,
// for operators to watch as a degraded-connection indicator. It does not
// change Manager behavior on its own — reconnect continues regardless.
type FlapSignal struct {
	Count  int
	Window time.Duration
}

// healthTracker aggregates reconnect events on a channel and evaluates
// them against a rolling window/threshold, exposing a signal channel —
// the same "collect on a channel, evaluate against a threshold, signal
// downstream" shape as a risk-limit aggregator, retargeted here from
// PnL/price-shock risk to connection-churn observability.
type healthTracker struct {
	threshold int
	window    time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	events []time.Time

	eventCh  chan reconnectEvent
	signalCh chan FlapSignal
	done     chan struct{}
}

func newHealthTracker(threshold int, window time.Duration, logger *slog.Logger) *healthTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &healthTracker{
		threshold: threshold,
		window:    window,
		logger:    logger.With("component", "hub_health"),
		eventCh:   make(chan reconnectEvent, 32),
		signalCh:  make(chan FlapSignal, 4),
		done:      make(chan struct{}),
	}
}

// run processes reconnect events until stop is called.
func (h *healthTracker) run() {
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.eventCh:
			h.record(ev.at)
		}
	}
}

func (h *healthTracker) record(at time.Time) {
	h.mu.Lock()
	h.events = append(h.events, at)
	cutoff := at.Add(-h.window)
	kept := h.events[:0]
	for _, e := range h.events {
		if e.After(cutoff) {
			kept = append(kept, e)
		}
	}
	h.events = kept
	count := len(h.events)
	h.mu.Unlock()

	if count >= h.threshold {
		select {
		case h.signalCh <- FlapSignal{Count: count, Window: h.window}:
		default:
		}
		h.logger.Warn("hub: reconnect rate exceeds threshold", "count", count, "window", h.window)
	}
}

// reportReconnect submits a reconnect event, non-blocking.
func (h *healthTracker) reportReconnect() {
	select {
	case h.eventCh <- reconnectEvent{at: time.Now()}:
	default:
		h.logger.Warn("hub: health event channel full, dropping reconnect event")
	}
}

// Signals returns the channel of flap signals.
func (h *healthTracker) Signals() <-chan FlapSignal {
	return h.signalCh
}

func (h *healthTracker) stop() {
	close(h.done)
}
