// Package session keeps the in-memory job state of every (client, service)
// pair. Records are bounded by an LRU with an idle TTL; a record with a batch
// in flight is never evicted.
package session

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	key        Key
	state      *State
	lastAccess time.Time
}

// Registry is a bounded LRU of client job states.
type Registry struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List // front = most recently used
	items    map[Key]*list.Element
	now      func() time.Time
	onEvict  func(Key)
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEvictHook registers a callback invoked (outside the lock) for every evicted key.
func WithEvictHook(fn func(Key)) Option {
	return func(r *Registry) { r.onEvict = fn }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry holding at most capacity idle records,
// each expiring ttl after its last access.
func NewRegistry(capacity int, ttl time.Duration, opts ...Option) *Registry {
	if capacity <= 0 {
		capacity = 1024
	}
	r := &Registry{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[Key]*list.Element),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the state for (clientID, service), creating it on
// first use. Repeated calls return the same *State while it is resident.
func (r *Registry) GetOrCreate(clientID, service string) *State {
	key := Key{ClientID: clientID, Service: service}
	now := r.now()

	r.mu.Lock()
	if el, ok := r.items[key]; ok {
		e := el.Value.(*entry)
		if r.expiredLocked(e, now) && !e.state.Active() {
			r.removeLocked(el)
		} else {
			e.lastAccess = now
			r.ll.MoveToFront(el)
			r.mu.Unlock()
			return e.state
		}
	}

	e := &entry{key: key, state: newState(key), lastAccess: now}
	r.items[key] = r.ll.PushFront(e)
	evicted := r.trimLocked()
	r.mu.Unlock()

	r.notify(evicted)
	return e.state
}

// Get returns a resident state without creating or touching it.
func (r *Registry) Get(clientID, service string) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.items[Key{ClientID: clientID, Service: service}]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).state, true
}

// Len returns the number of resident records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ll.Len()
}

// EvictExpired drops every idle record whose TTL has elapsed.
func (r *Registry) EvictExpired() []Key {
	now := r.now()

	r.mu.Lock()
	var evicted []Key
	for el := r.ll.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if r.expiredLocked(e, now) && !e.state.Active() {
			r.removeLocked(el)
			evicted = append(evicted, e.key)
		}
		el = prev
	}
	r.mu.Unlock()

	r.notify(evicted)
	return evicted
}

// Each calls fn for every resident state, most recent first.
func (r *Registry) Each(fn func(*State)) {
	r.mu.Lock()
	states := make([]*State, 0, r.ll.Len())
	for el := r.ll.Front(); el != nil; el = el.Next() {
		states = append(states, el.Value.(*entry).state)
	}
	r.mu.Unlock()

	for _, s := range states {
		fn(s)
	}
}

func (r *Registry) expiredLocked(e *entry, now time.Time) bool {
	return r.ttl > 0 && now.Sub(e.lastAccess) >= r.ttl
}

// trimLocked evicts least recently used idle records until the registry is
// within capacity. Active records are skipped, so the registry may run over
// capacity while every resident record has work in flight.
func (r *Registry) trimLocked() []Key {
	var evicted []Key
	for el := r.ll.Back(); el != nil && r.ll.Len() > r.capacity; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if el != r.ll.Front() && !e.state.Active() {
			r.removeLocked(el)
			evicted = append(evicted, e.key)
		}
		el = prev
	}
	if r.ll.Len() > r.capacity {
		r.logger.Warn("session registry over capacity; all resident sessions are active",
			"resident", r.ll.Len(), "capacity", r.capacity)
	}
	return evicted
}

func (r *Registry) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	r.ll.Remove(el)
	delete(r.items, e.key)
}

func (r *Registry) notify(keys []Key) {
	for _, k := range keys {
		r.logger.Debug("session evicted", "client_id", k.ClientID, "service", k.Service)
		if r.onEvict != nil {
			r.onEvict(k)
		}
	}
}
