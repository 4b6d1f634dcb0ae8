package stats

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	DefaultWorkers         = 8

	refreshKey     = "refresh"
	publishTimeout = 5 * time.Second
)

// Sweeper is checked on every refresh attempt, whether or not the
// leaderboard itself is stale.
type Sweeper interface {
	ClearIfExpired() bool
}

// Publisher is told about every snapshot the cache publishes.
type Publisher interface {
	PublishRefresh(ctx context.Context, snap *Snapshot) error
}

type Option func(*Cache)

func WithInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithWorkers bounds how many entities have their counters read at once.
func WithWorkers(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l.Named("cache") }
}

func WithSweeper(s Sweeper) Option {
	return func(c *Cache) { c.sweeper = s }
}

func WithPublisher(p Publisher) Option {
	return func(c *Cache) { c.publisher = p }
}

// Cache holds the current leaderboard snapshot and rebuilds it from a Source
// at most once per interval. Readers never wait on a rebuild and at most one
// rebuild runs at a time.
type Cache struct {
	source     Source
	categories []Category
	interval   time.Duration
	workers    int
	now        func() time.Time
	logger     *zap.Logger
	sweeper    Sweeper
	publisher  Publisher

	snap        atomic.Pointer[Snapshot]
	lastRefresh atomic.Int64 // unix nanos, 0 until the first publish
	refreshes   atomic.Uint64
	group       singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewCache(parent context.Context, source Source, categories []Category, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(parent)
	c := &Cache{
		source:     source,
		categories: slices.Clone(categories),
		interval:   DefaultRefreshInterval,
		workers:    DefaultWorkers,
		now:        time.Now,
		logger:     zap.NewNop(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(EmptySnapshot())
	return c
}

// Start schedules the first rebuild in the background.
func (c *Cache) Start() {
	c.TriggerRefresh()
}

// Close cancels any rebuild in progress and waits for background work.
// TriggerRefresh is a no-op afterwards.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) Categories() []Category { return slices.Clone(c.categories) }

// Snapshot returns the last published snapshot. It never blocks.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Refreshes counts completed rebuilds.
func (c *Cache) Refreshes() uint64 { return c.refreshes.Load() }

func (c *Cache) Stale() bool {
	last := c.lastRefresh.Load()
	if last == 0 {
		return true
	}
	return c.now().Sub(time.Unix(0, last)) >= c.interval
}

// RefreshIfStale rebuilds the snapshot if the interval has elapsed and
// reports whether this call observed a rebuild. A call that arrives while a
// rebuild is running waits for that rebuild instead of starting another.
// ctx only bounds the wait; the rebuild itself runs until done.
func (c *Cache) RefreshIfStale(ctx context.Context) bool {
	if c.sweeper != nil {
		c.sweeper.ClearIfExpired()
	}
	if !c.Stale() {
		return false
	}
	return c.refresh(ctx, false)
}

// ForceRefresh rebuilds regardless of age, joining a rebuild already in
// flight, and returns the snapshot current afterwards.
func (c *Cache) ForceRefresh(ctx context.Context) *Snapshot {
	c.refresh(ctx, true)
	return c.Snapshot()
}

// TriggerRefresh runs RefreshIfStale in the background.
func (c *Cache) TriggerRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.RefreshIfStale(c.ctx)
	}()
}

func (c *Cache) refresh(ctx context.Context, force bool) bool {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		// Whoever lost the race to a rebuild that just finished finds the
		// snapshot fresh again.
		if !force && !c.Stale() {
			return false, nil
		}
		return c.rebuild(), nil
	})
	select {
	case res := <-ch:
		rebuilt, _ := res.Val.(bool)
		return rebuilt
	case <-ctx.Done():
		return false
	}
}

type counterRow struct {
	values []int64 // scaled, per category; 0 means omitted
	err    error
}

func (c *Cache) rebuild() bool {
	ctx := c.ctx
	start := c.now()

	entities, err := c.source.ListKnownEntities(ctx)
	if err != nil {
		// Publish an empty snapshot rather than keep serving one whose age
		// can no longer be vouched for.
		c.logger.Warn("listing entities failed", zap.Error(err))
		entities = nil
	}

	rows := make([]counterRow, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, e := range entities {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			rows[i] = c.readCounters(gctx, e)
			return nil
		})
	}
	if err := g.Wait(); err != nil || ctx.Err() != nil {
		c.logger.Info("refresh cancelled")
		return false
	}

	rankings := make(map[string][]Entry, len(c.categories))
	var readErr error
	failed := 0
	for j, cat := range c.categories {
		list := make([]Entry, 0)
		for i, e := range entities {
			if v := rows[i].values; v != nil && v[j] > 0 {
				list = append(list, Entry{EntityID: e.ID, DisplayName: e.Name, Value: v[j]})
			}
		}
		// Stable: equal values keep the source's enumeration order.
		slices.SortStableFunc(list, func(a, b Entry) int {
			switch {
			case a.Value > b.Value:
				return -1
			case a.Value < b.Value:
				return 1
			}
			return 0
		})
		rankings[cat.Name] = list
	}
	for _, r := range rows {
		if r.err != nil {
			failed++
			readErr = multierr.Append(readErr, r.err)
		}
	}

	now := c.now()
	snap := newSnapshot(now, rankings)
	c.snap.Store(snap)
	c.lastRefresh.Store(now.UnixNano())
	c.refreshes.Add(1)

	fields := []zap.Field{
		zap.Int("entities", len(entities)),
		zap.Duration("took", now.Sub(start)),
	}
	for _, cat := range c.categories {
		fields = append(fields, zap.Int(cat.Name, len(rankings[cat.Name])))
	}
	c.logger.Info("leaderboard refreshed", fields...)
	if failed > 0 {
		c.logger.Warn("skipped unreadable counters", zap.Int("entities", failed))
		c.logger.Debug("counter read errors", zap.Error(readErr))
	}

	if c.publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := c.publisher.PublishRefresh(pctx, snap); err != nil {
			c.logger.Warn("publishing refresh failed", zap.Error(err))
		}
		cancel()
	}
	return true
}

// readCounters reads every category's counter for one entity. A failed read
// drops only that entity/category pair.
func (c *Cache) readCounters(ctx context.Context, e Entity) counterRow {
	if !c.source.HasActivity(ctx, e) {
		return counterRow{}
	}
	row := counterRow{values: make([]int64, len(c.categories))}
	for j, cat := range c.categories {
		raw, err := c.source.Counter(ctx, e, cat.Counter)
		if err != nil {
			row.err = multierr.Append(row.err, fmt.Errorf("%s/%s: %w", e.ID, cat.Counter, err))
			continue
		}
		row.values[j] = max(0, cat.Scale(raw))
	}
	return row
}
