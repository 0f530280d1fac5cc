package store

import (
	"encoding/json"
	"sync"
)

const watchBuffer = 16

// Watcher receives the value at one path: the current value on registration
// and a fresh snapshot after every committed write that touches the path.
type Watcher struct {
	path string
	ch   chan json.RawMessage
}

// Values returns the channel snapshots are delivered on. The channel is
// closed when the watcher is cancelled.
func (w *Watcher) Values() <-chan json.RawMessage {
	return w.ch
}

type watchRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[*Watcher]struct{}
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{watchers: make(map[string]map[*Watcher]struct{})}
}

// Watch registers a watcher on path. The current value (nil when the path
// is empty) is delivered immediately. A slow watcher that falls more than
// watchBuffer snapshots behind drops intermediate snapshots; each delivered
// snapshot is always the full value, so a dropped one is never missed state.
func (s *Store) Watch(path string) *Watcher {
	w := &Watcher{path: normalize(path), ch: make(chan json.RawMessage, watchBuffer)}
	s.watch.mu.Lock()
	set := s.watch.watchers[w.path]
	if set == nil {
		set = make(map[*Watcher]struct{})
		s.watch.watchers[w.path] = set
	}
	set[w] = struct{}{}
	s.watch.mu.Unlock()

	w.trySend(s.valueAt(w.path))
	return w
}

// Unwatch cancels the watcher and closes its channel.
func (s *Store) Unwatch(w *Watcher) {
	s.watch.mu.Lock()
	defer s.watch.mu.Unlock()
	set := s.watch.watchers[w.path]
	if set == nil {
		return
	}
	if _, ok := set[w]; !ok {
		return
	}
	delete(set, w)
	if len(set) == 0 {
		delete(s.watch.watchers, w.path)
	}
	close(w.ch)
}

func (s *Store) notify(path string) {
	s.watch.mu.RLock()
	set := s.watch.watchers[path]
	if len(set) == 0 {
		s.watch.mu.RUnlock()
		return
	}
	targets := make([]*Watcher, 0, len(set))
	for w := range set {
		targets = append(targets, w)
	}
	s.watch.mu.RUnlock()

	value := s.valueAt(path)
	for _, w := range targets {
		w.trySend(value)
	}
}

func (w *Watcher) trySend(value json.RawMessage) {
	select {
	case w.ch <- value:
	default:
	}
}
