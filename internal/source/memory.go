package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/DoyleJ11/statboard/internal/stats"
)

var ErrUnknownEntity = errors.New("unknown entity")

// Memory is an in-process Source. Entities are listed in the order they were
// first added.
type Memory struct {
	mu       sync.RWMutex
	order    []string
	names    map[string]string
	active   map[string]bool
	counters map[string]map[string]int64
	broken   map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		names:    map[string]string{},
		active:   map[string]bool{},
		counters: map[string]map[string]int64{},
		broken:   map[string]error{},
	}
}

// Set records a counter value, adding the entity as active if it is new.
func (m *Memory) Set(id, name, counter string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.names[id]; !ok {
		m.order = append(m.order, id)
		m.active[id] = true
		m.counters[id] = map[string]int64{}
	}
	m.names[id] = name
	m.counters[id][counter] = value
}

// SetActive marks whether the entity has ever played.
func (m *Memory) SetActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = active
}

// Break makes every read of counter for id fail with err; a nil err heals it.
func (m *Memory) Break(id, counter string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := id + "/" + counter
	if err == nil {
		delete(m.broken, key)
		return
	}
	m.broken[key] = err
}

func (m *Memory) ListKnownEntities(_ context.Context) ([]stats.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]stats.Entity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, stats.Entity{ID: id, Name: m.names[id]})
	}
	return out, nil
}

func (m *Memory) HasActivity(_ context.Context, e stats.Entity) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[e.ID]
}

func (m *Memory) Counter(_ context.Context, e stats.Entity, counter string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.broken[e.ID+"/"+counter]; err != nil {
		return 0, err
	}
	counters, ok := m.counters[e.ID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEntity, e.ID)
	}
	return counters[counter], nil
}
