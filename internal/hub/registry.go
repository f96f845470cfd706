// Package hub implements the realtime hub client: a persistent
// connection to a SignalR-style endpoint supporting multiple named
// subscriptions, automatic reconnect with subscription replay, and
// payload decoding through the Wire Decoder.
package hub

import (
	"strings"
	"sync"
)

// Callback receives one decoded payload for a listener.
type Callback func(payload string)

// subscriberID identifies one registered callback so it can be removed
// later without relying on Go function-value comparison, which cannot
// reliably distinguish two closures built from the same literal.
type subscriberID uint64

type subscriber struct {
	id subscriberID
	cb Callback
}

// listener is one hub method's fan-out state: the exact parameter sets
// that must be re-invoked after every (re)connect, and the callbacks
// subscribed to its payloads.
type listener struct {
	functionName     string
	functionFullName string
	paramSets        [][]any
	subscribers      []subscriber
}

// Registry is the in-memory mapping of hub method full name → listener.
// All operations are serialized under a single coarse lock; dispatch
// copies the callback list under the lock and invokes outside it so a
// slow or panicking callback cannot stall registry operations.
type Registry struct {
	resolve func(shortName string) string

	mu        sync.Mutex
	listeners map[string]*listener
	nextID    subscriberID

	onEmpty func() // invoked once the registry becomes empty
}

// NewRegistry returns an empty Registry. names maps a case-insensitive
// short name to its fully-qualified hub method name; unknown short names
// resolve to themselves. onEmpty, if non-nil, is called (outside the
// lock) the moment the last listener is removed. NewManager does not
// install an onEmpty hook, so a Registry becoming empty does not stop its
// Manager; it only keeps the Manager from scheduling a reconnect after
// the next transport loss.
func NewRegistry(names map[string]string, onEmpty func()) *Registry {
	lookup := make(map[string]string, len(names))
	for short, full := range names {
		lookup[strings.ToLower(short)] = full
	}
	return &Registry{
		resolve: func(shortName string) string {
			if full, ok := lookup[strings.ToLower(shortName)]; ok {
				return full
			}
			return shortName
		},
		listeners: make(map[string]*listener),
		onEmpty:   onEmpty,
	}
}

// FullName resolves a short or already-full hub method name.
func (r *Registry) FullName(functionName string) string {
	return r.resolve(functionName)
}

// Subscription identifies one AddListener registration, needed to remove
// exactly that callback later via RemoveListener.
type Subscription struct {
	FunctionFullName string
	id               subscriberID
}

// AddListener resolves functionName to its full name; if no listener
// exists yet for that full name, one is created with paramSets. callback
// is always appended as a new subscriber, even if functionally identical
// to one already registered — each Handle owns one Subscription.
func (r *Registry) AddListener(functionName string, paramSets [][]any, callback Callback) Subscription {
	full := r.resolve(functionName)

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.listeners[full]
	if !ok {
		l = &listener{functionName: functionName, functionFullName: full, paramSets: paramSets}
		r.listeners[full] = l
	}
	r.nextID++
	id := r.nextID
	l.subscribers = append(l.subscribers, subscriber{id: id, cb: callback})
	return Subscription{FunctionFullName: full, id: id}
}

// RemoveListener removes the subscriber identified by sub, always keyed
// by the listener's full function name (never the short name — this
// resolves the ambiguity the owning design notes call out). If the
// listener's subscriber list becomes empty, the listener itself is
// removed; if the registry becomes empty as a result, onEmpty is invoked
// once, outside the lock.
func (r *Registry) RemoveListener(sub Subscription) {
	r.mu.Lock()
	l, ok := r.listeners[sub.FunctionFullName]
	if !ok {
		r.mu.Unlock()
		return
	}

	kept := l.subscribers[:0]
	for _, s := range l.subscribers {
		if s.id != sub.id {
			kept = append(kept, s)
		}
	}
	l.subscribers = kept

	if len(l.subscribers) == 0 {
		delete(r.listeners, sub.FunctionFullName)
	}

	becameEmpty := len(r.listeners) == 0
	r.mu.Unlock()

	if becameEmpty && r.onEmpty != nil {
		r.onEmpty()
	}
}

// Dispatch snapshots the callback list for functionFullName under the
// lock, releases it, then invokes each callback. A panicking callback is
// recovered and does not prevent its peers from running.
func (r *Registry) Dispatch(functionFullName string, payload string) {
	r.mu.Lock()
	l, ok := r.listeners[functionFullName]
	var callbacks []Callback
	if ok {
		callbacks = make([]Callback, len(l.subscribers))
		for i, s := range l.subscribers {
			callbacks[i] = s.cb
		}
	}
	r.mu.Unlock()

	for _, cb := range callbacks {
		invokeCallback(cb, payload)
	}
}

func invokeCallback(cb Callback, payload string) {
	defer func() {
		recover()
	}()
	cb(payload)
}

// IsEmpty reports whether the registry currently has no listeners.
func (r *Registry) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners) == 0
}

// ReplayEntry is one listener's replay requirement: every param set that
// must be re-invoked against the hub after a (re)connect.
type ReplayEntry struct {
	FunctionFullName string
	ParamSets        [][]any
}

// Snapshot returns, for every current listener, its full name and param
// sets — used by the Manager to replay subscriptions after a reconnect.
func (r *Registry) Snapshot() []ReplayEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ReplayEntry, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, ReplayEntry{FunctionFullName: l.functionFullName, ParamSets: l.paramSets})
	}
	return out
}
