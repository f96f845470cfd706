package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bookhub/internal/wire"
)

// State is one point in the connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionEvent is delivered to every open Handle at least once per
// Connected/Disconnected transition. Ordering between a Connected event
// and the first payload on the same subscription is not guaranteed.
type ConnectionEvent int

const (
	EventConnected ConnectionEvent = iota
	EventDisconnected
)

// TransportFactory builds a fresh RealtimeTransport for each connect
// attempt; Manager never reuses a transport across reconnects.
type TransportFactory func() RealtimeTransport

// Invoker calls a hub method by name with a single argument vector and
// reports whether the hub accepted it. A false return or error is
// treated identically — as an InvokeError.
type Invoker func(ctx context.Context, functionFullName string, args []any) (bool, error)

// Manager owns the single underlying realtime connection: it drives the
// state machine above, fans inbound frames through the Wire Decoder and
// Registry, and transparently recovers from transport loss by
// reconnecting and replaying every registered subscription.
type Manager struct {
	newTransport TransportFactory
	invoke       Invoker
	registry     *Registry
	backoff      Backoff
	logger       *slog.Logger
	health       *healthTracker

	mu        sync.Mutex
	state     State
	transport RealtimeTransport
	handles   map[*Handle]struct{}
	closed    bool

	connectMu    sync.Mutex // serializes connect attempts triggered by Start/Subscribe
	reconnecting sync.Mutex // try-lock: only one reconnect loop in flight
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// ManagerOption customizes a Manager at construction.
type ManagerOption func(*Manager)

// WithBackoff overrides the default fixed 5-second reconnect delay.
func WithBackoff(b Backoff) ManagerOption {
	return func(m *Manager) { m.backoff = b }
}

// WithHealthThreshold enables reconnect-flap tracking: count reconnects
// within window and signal on Manager.HealthSignals() once threshold is
// reached. Disabled (threshold <= 0) by default.
func WithHealthThreshold(threshold int, window time.Duration) ManagerOption {
	return func(m *Manager) {
		if threshold > 0 {
			m.health = newHealthTracker(threshold, window, m.logger)
		}
	}
}

// NewManager constructs a Manager. newTransport builds a fresh transport
// for each connect attempt; invoke performs the hub RPC used both for
// Subscribe and for reconnect replay.
func NewManager(newTransport TransportFactory, invoke Invoker, registry *Registry, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		newTransport: newTransport,
		invoke:       invoke,
		registry:     registry,
		backoff:      DefaultBackoff(),
		logger:       logger.With("component", "hub_manager"),
		handles:      make(map[*Handle]struct{}),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.health != nil {
		go m.health.run()
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HealthSignals returns the reconnect-flap signal channel, or nil if
// health tracking was not enabled via WithHealthThreshold.
func (m *Manager) HealthSignals() <-chan FlapSignal {
	if m.health == nil {
		return nil
	}
	return m.health.Signals()
}

// Start ensures the Manager is connected, blocking until it succeeds or
// ctx is cancelled. It is safe to call repeatedly; once Connected it
// returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	if m.isClosed() {
		return ErrClosed
	}
	if m.State() == Connected {
		return nil
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()
	if m.State() == Connected {
		return nil
	}
	return m.connectOnce(ctx)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) connectOnce(ctx context.Context) error {
	m.setState(Connecting)

	t := m.newTransport()
	if err := t.Start(ctx); err != nil {
		m.setState(Disconnected)
		m.scheduleReconnect()
		return err
	}

	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()

	m.setState(Connected)
	m.replaySubscriptions(ctx)
	m.notifyHandles(EventConnected)

	go m.pump(ctx, t)

	return nil
}

// pump reads frames off the transport until it closes, then transitions
// to Disconnected and schedules a reconnect if the registry is non-empty.
func (m *Manager) pump(ctx context.Context, t RealtimeTransport) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Closed():
			m.onTransportLost()
			return
		case data := <-t.Messages():
			m.dispatchFrame(data)
		}
	}
}

func (m *Manager) dispatchFrame(data []byte) {
	var envelope struct {
		Method string `json:"M"`
		Args   []any  `json:"A"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		m.logger.Debug("hub: ignoring non-hub-frame message", "error", err)
		return
	}
	if len(envelope.Args) == 0 {
		return
	}
	payload, ok := envelope.Args[0].(string)
	if !ok {
		return
	}

	decoded, err := wire.Decode(payload)
	if err != nil {
		m.logger.Debug("hub: dropping undecodable frame", "method", envelope.Method, "error", err)
		return
	}

	m.registry.Dispatch(m.registry.FullName(envelope.Method), decoded)
}

func (m *Manager) onTransportLost() {
	m.mu.Lock()
	m.transport = nil
	m.mu.Unlock()

	m.setState(Disconnected)
	m.notifyHandles(EventDisconnected)

	if m.health != nil {
		m.health.reportReconnect()
	}

	if !m.registry.IsEmpty() && !m.isClosed() {
		m.scheduleReconnect()
	}
}

// scheduleReconnect runs the reconnect loop on its own goroutine, guarded
// by a try-lock so only one attempt is ever in flight process-wide.
func (m *Manager) scheduleReconnect() {
	if !m.reconnecting.TryLock() {
		return
	}
	go func() {
		defer m.reconnecting.Unlock()
		m.reconnectLoop()
	}()
}

func (m *Manager) reconnectLoop() {
	attempt := 0
	for {
		if m.isClosed() {
			return
		}
		state := m.State()
		if state == Connected || state == Connecting {
			return
		}

		select {
		case <-m.stopCh:
			return
		case <-time.After(m.backoff.Delay(attempt)):
		}

		err := func() error {
			m.connectMu.Lock()
			defer m.connectMu.Unlock()
			return m.connectOnce(context.Background())
		}()
		if err != nil {
			m.logger.Warn("hub: reconnect attempt failed", "error", err, "attempt", attempt)
			attempt++
			continue
		}
		return
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// replaySubscriptions re-invokes every registered listener's param sets
// against the hub. InvokeError here is only logged, never propagated —
// this runs on every (re)connect, not just the caller's initial
// Subscribe.
func (m *Manager) replaySubscriptions(ctx context.Context) {
	for _, entry := range m.registry.Snapshot() {
		for _, args := range entry.ParamSets {
			ok, err := m.invoke(ctx, entry.FunctionFullName, args)
			if err != nil || !ok {
				m.logger.Info("hub: replay invoke failed", "function", entry.FunctionFullName, "error", err, "ok", ok)
				continue
			}
		}
	}
}

func (m *Manager) notifyHandles(evt ConnectionEvent) {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.notify(evt)
	}
}

func (m *Manager) addHandle(h *Handle) {
	m.mu.Lock()
	m.handles[h] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) removeHandle(h *Handle) {
	m.mu.Lock()
	delete(m.handles, h)
	m.mu.Unlock()
}

// Subscribe ensures the Manager is connected, registers the listener so
// early frames are not lost, invokes every param set (pacing calls by
// delayBetweenInvokes since some exchanges disconnect clients that
// invoke too fast), and returns a Handle. If any invocation fails, the
// listener is deregistered and the error is propagated.
func (m *Manager) Subscribe(ctx context.Context, functionName string, paramSets [][]any, callback Callback, delayBetweenInvokes time.Duration) (*Handle, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}

	if err := m.Start(ctx); err != nil {
		return nil, err
	}

	sub := m.registry.AddListener(functionName, paramSets, callback)

	for i, args := range paramSets {
		if i > 0 && delayBetweenInvokes > 0 {
			timer := time.NewTimer(delayBetweenInvokes)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				m.registry.RemoveListener(sub)
				return nil, ctx.Err()
			}
		}
		ok, err := m.invoke(ctx, sub.FunctionFullName, args)
		if err != nil {
			m.registry.RemoveListener(sub)
			return nil, &InvokeError{FunctionFullName: sub.FunctionFullName, Err: err}
		}
		if !ok {
			m.registry.RemoveListener(sub)
			return nil, &InvokeError{FunctionFullName: sub.FunctionFullName}
		}
	}

	h := &Handle{manager: m, sub: sub}
	m.addHandle(h)
	return h, nil
}

// Close is idempotent: it tears down the transport, releases the
// reconnect try-lock path, and marks the Manager disposed. Any operation
// attempted afterward fails with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	t := m.transport
	m.transport = nil
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.health != nil {
		m.health.stop()
	}

	if t != nil {
		return t.Stop()
	}
	return nil
}

// Handle is a per-caller subscription resource: cancellable, automatically
// removed from the Registry on close. The zero value is not usable;
// obtain one from Manager.Subscribe.
type Handle struct {
	manager *Manager
	sub     Subscription

	mu        sync.Mutex
	closed    bool
	listeners []func(ConnectionEvent)
}

// OnConnectionEvent registers fn to be called whenever this handle's
// connection state changes. Multiple registrations are additive.
func (h *Handle) OnConnectionEvent(fn func(ConnectionEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Handle) notify(evt ConnectionEvent) {
	h.mu.Lock()
	fns := make([]func(ConnectionEvent), len(h.listeners))
	copy(fns, h.listeners)
	h.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() { recover() }()
			fn(evt)
		}()
	}
}

// Send always fails: this subscription channel is receive-only.
func (h *Handle) Send(ctx context.Context, message string) error {
	return ErrNotSupported
}

// Close deregisters this handle's callback and removes it from the
// Manager's open-handle set. Idempotent; tolerant of being called from a
// finalizer-equivalent path after the listener is already gone.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.manager.registry.RemoveListener(h.sub)
	h.manager.removeHandle(h)
	return nil
}

var errNilInvoker = errors.New("hub: invoker must not be nil")

// NewInvoker builds an Invoker that performs a hub method invocation
// using the provided send function, returning send's ok value and error
// unchanged; Subscribe is what wraps an error or a false result in an
// InvokeError. This
// indirection exists because the wire-level "invoke" RPC framing is hub
// library-specific and out of this package's concern — send constructs
// and transmits that frame.
func NewInvoker(send func(ctx context.Context, functionFullName string, args []any) (bool, error)) (Invoker, error) {
	if send == nil {
		return nil, errNilInvoker
	}
	return func(ctx context.Context, functionFullName string, args []any) (bool, error) {
		return send(ctx, functionFullName, args)
	}, nil
}
