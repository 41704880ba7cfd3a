// Package statestore keeps per-key detector state with inactivity eviction.
//
// A Store is owned by exactly one worker shard and is not safe for concurrent
// use. Inactivity is measured in event time: every slot remembers the newest
// record timestamp that touched it, and Sweep evicts slots that have been quiet
// for longer than the idle timeout relative to a watermark supplied by the
// caller.
package statestore

// EvictFunc is called with a slot's key and state just before it is evicted
type EvictFunc[K comparable, S any] func(key K, state *S)

type slot[S any] struct {
	state       S
	lastTouched int64
}

// Store maps keys to mutable state values
type Store[K comparable, S any] struct {
	slots       map[K]*slot[S]
	idleTimeout int64
	onEvict     EvictFunc[K, S]
}

// Option configures a Store
type Option[K comparable, S any] func(*Store[K, S])

// WithEvictHook registers a function that sees each slot as it is evicted by Sweep
func WithEvictHook[K comparable, S any](fn EvictFunc[K, S]) Option[K, S] {
	return func(s *Store[K, S]) {
		s.onEvict = fn
	}
}

// New creates a Store. An idleTimeout of zero or less disables eviction.
func New[K comparable, S any](idleTimeout int64, opts ...Option[K, S]) *Store[K, S] {
	s := &Store[K, S]{
		slots:       make(map[K]*slot[S]),
		idleTimeout: idleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the state for key, creating a zero value if none exists,
// and marks the slot as touched at timestamp ts
func (s *Store[K, S]) GetOrCreate(key K, ts int64) *S {
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot[S]{lastTouched: ts}
		s.slots[key] = sl
	}
	// out-of-order records never move a slot back in time
	if ts > sl.lastTouched {
		sl.lastTouched = ts
	}
	return &sl.state
}

// Get returns the state for key without creating or touching it
func (s *Store[K, S]) Get(key K) (*S, bool) {
	sl, ok := s.slots[key]
	if !ok {
		return nil, false
	}
	return &sl.state, true
}

// Remove discards the state for key. The evict hook is not called.
func (s *Store[K, S]) Remove(key K) {
	delete(s.slots, key)
}

// Sweep evicts every slot whose last touch is more than the idle timeout older
// than watermark and returns the number of evicted slots
func (s *Store[K, S]) Sweep(watermark int64) int {
	if s.idleTimeout <= 0 {
		return 0
	}

	evicted := 0
	for key, sl := range s.slots {
		if sl.lastTouched+s.idleTimeout >= watermark {
			continue
		}
		if s.onEvict != nil {
			s.onEvict(key, &sl.state)
		}
		delete(s.slots, key)
		evicted++
	}
	return evicted
}

// Drain evicts every slot, calling the evict hook for each, and returns the
// number of evicted slots. It is used when the input ends.
func (s *Store[K, S]) Drain() int {
	n := len(s.slots)
	for key, sl := range s.slots {
		if s.onEvict != nil {
			s.onEvict(key, &sl.state)
		}
		delete(s.slots, key)
	}
	return n
}

// Len returns the number of live slots
func (s *Store[K, S]) Len() int {
	return len(s.slots)
}
