package avatar

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/statboard/internal/stats"
)

const DefaultCacheDuration = time.Hour

// Handle is a renderable avatar for one entity. The cache only ever hands out
// copies, so callers may change a Handle freely.
type Handle struct {
	EntityID    string    `json:"entity_id"`
	Owner       string    `json:"owner"`
	URL         string    `json:"url,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Texture     []byte    `json:"texture,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

func (h *Handle) Clone() *Handle {
	if h == nil {
		return nil
	}
	cp := *h
	cp.Texture = slices.Clone(h.Texture)
	return &cp
}

// Resolver performs the expensive lookup behind a cache miss.
type Resolver interface {
	Lookup(ctx context.Context, e stats.Entity) (*Handle, error)
}

type Option func(*Cache)

func WithDuration(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.duration = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l.Named("avatar") }
}

// entry is a cached handle tagged with the clear generation its lookup
// started in.
type entry struct {
	handle *Handle
	gen    uint64
}

// Cache memoizes avatar lookups by entity id. Entries are never expired one
// by one: ClearIfExpired drops the whole map once per duration. A lookup that
// was in flight across a clear is handed to its caller but not kept.
type Cache struct {
	resolver Resolver
	duration time.Duration
	now      func() time.Time
	logger   *zap.Logger

	entries   sync.Map // entity id -> entry
	gen       atomic.Uint64
	lastClear atomic.Int64
	lookups   singleflight.Group
	misses    atomic.Uint64
}

func NewCache(resolver Resolver, opts ...Option) *Cache {
	c := &Cache{
		resolver: resolver,
		duration: DefaultCacheDuration,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastClear.Store(c.now().UnixNano())
	return c
}

// Resolve returns a copy of e's avatar, looking it up on a miss. A failed
// lookup yields a bare handle without texture, which is cached like any
// other so a broken lookup is not retried on every render.
func (c *Cache) Resolve(ctx context.Context, e stats.Entity) *Handle {
	if h, ok := c.load(e.ID); ok {
		return h.Clone()
	}

	v, _, _ := c.lookups.Do(e.ID, func() (any, error) {
		if h, ok := c.load(e.ID); ok {
			return h, nil
		}
		gen := c.gen.Load()
		c.misses.Add(1)
		h, err := c.resolver.Lookup(ctx, e)
		if err != nil || h == nil {
			c.logger.Debug("avatar lookup failed", zap.String("entity", e.ID), zap.Error(err))
			h = &Handle{EntityID: e.ID, Owner: e.Name, FetchedAt: c.now()}
			if ctx.Err() != nil {
				// Abandoned, not broken: let the next render try again.
				return h, nil
			}
		}
		c.store(e.ID, entry{handle: h, gen: gen})
		return h, nil
	})
	return v.(*Handle).Clone()
}

// load returns the handle for id if it was looked up since the last clear.
func (c *Cache) load(id string) (*Handle, bool) {
	v, ok := c.entries.Load(id)
	if !ok {
		return nil, false
	}
	en := v.(entry)
	if en.gen != c.gen.Load() {
		return nil, false
	}
	return en.handle, true
}

// store keeps en unless a clear happened after its lookup started.
func (c *Cache) store(id string, en entry) {
	if en.gen != c.gen.Load() {
		return
	}
	c.entries.Store(id, en)
	// A clear may have slipped in between the check and the store.
	if en.gen != c.gen.Load() {
		c.entries.CompareAndDelete(id, en)
	}
}

// ClearIfExpired empties the cache if the duration has passed since the last
// clear and reports whether it did.
func (c *Cache) ClearIfExpired() bool {
	last := c.lastClear.Load()
	now := c.now()
	if now.Sub(time.Unix(0, last)) < c.duration {
		return false
	}
	if !c.lastClear.CompareAndSwap(last, now.UnixNano()) {
		return false
	}
	c.gen.Add(1)
	c.entries.Clear()
	c.logger.Info("cleared avatar cache", zap.Duration("after", c.duration))
	return true
}

// Clear drops every entry immediately.
func (c *Cache) Clear() {
	c.gen.Add(1)
	c.entries.Clear()
	c.lastClear.Store(c.now().UnixNano())
}

func (c *Cache) Len() int {
	n := 0
	gen := c.gen.Load()
	c.entries.Range(func(_, v any) bool {
		if v.(entry).gen == gen {
			n++
		}
		return true
	})
	return n
}

// Misses counts resolver lookups.
func (c *Cache) Misses() uint64 { return c.misses.Load() }
