package session

import (
	"sync"

	"github.com/DoyleJ11/statboard/internal/engine"
)

// Store maps viewer ids to their navigation state. A viewer at the root menu
// has no entry. Updates to one viewer never wait on another.
type Store struct {
	m sync.Map // viewer id -> engine.State
}

func NewStore() *Store {
	return &Store{}
}

// Get returns the viewer's state, or the root state if none is stored.
func (s *Store) Get(viewerID string) (engine.State, bool) {
	v, ok := s.m.Load(viewerID)
	if !ok {
		return engine.State{Screen: engine.ScreenRoot}, false
	}
	return v.(engine.State), true
}

func (s *Store) Delete(viewerID string) {
	s.m.Delete(viewerID)
}

// UpdateFunc computes a viewer's next state from the current one. Returning
// keep=false removes the viewer's entry; a non-nil error leaves it untouched.
type UpdateFunc func(cur engine.State) (next engine.State, keep bool, err error)

// Update applies fn atomically with respect to other updates of the same
// viewer, retrying if the entry changed underneath it. fn may run more than
// once and must not have side effects.
func (s *Store) Update(viewerID string, fn UpdateFunc) (engine.State, error) {
	for {
		cur, exists := s.Get(viewerID)
		next, keep, err := fn(cur)
		if err != nil {
			return cur, err
		}

		switch {
		case keep && exists:
			if s.m.CompareAndSwap(viewerID, cur, next) {
				return next, nil
			}
		case keep:
			if _, loaded := s.m.LoadOrStore(viewerID, next); !loaded {
				return next, nil
			}
		case exists:
			if s.m.CompareAndDelete(viewerID, cur) {
				return next, nil
			}
		default:
			return next, nil
		}
	}
}

func (s *Store) Len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
