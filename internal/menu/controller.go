package menu

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/DoyleJ11/statboard/internal/avatar"
	"github.com/DoyleJ11/statboard/internal/engine"
	"github.com/DoyleJ11/statboard/internal/session"
	"github.com/DoyleJ11/statboard/internal/stats"
	"github.com/DoyleJ11/statboard/internal/types"
)

type Leaderboard interface {
	Snapshot() *stats.Snapshot
	RefreshIfStale(ctx context.Context) bool
}

type AvatarResolver interface {
	Resolve(ctx context.Context, e stats.Entity) *avatar.Handle
}

// Presenter delivers render requests to viewers.
type Presenter interface {
	Present(r types.Render)
}

const DefaultAvatarWorkers = 16

type Option func(*Controller)

// WithPageSize sets how many ranking rows one page shows, capped by the
// rows the page grid has room for.
func WithPageSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = min(n, MaxRowsPerPage)
		}
	}
}

// WithAvatarWorkers bounds how many avatars of one page are resolved at once.
func WithAvatarWorkers(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.avatarJobs = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l.Named("menu") }
}

// Controller turns viewers' navigation actions into render requests. Handle
// may be called concurrently for different viewers.
type Controller struct {
	board      Leaderboard
	avatars    AvatarResolver
	sessions   *session.Store
	presenter  Presenter
	categories []stats.Category
	pageSize   int
	avatarJobs int
	logger     *zap.Logger

	loads atomic.Uint64
	// locks holds one *sync.Mutex per connected viewer. A session change and
	// the render it produces are made under it, so renders reach a viewer in
	// the order their sessions changed.
	locks sync.Map

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewController(parent context.Context, board Leaderboard, avatars AvatarResolver, sessions *session.Store, presenter Presenter, categories []stats.Category, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		board:      board,
		avatars:    avatars,
		sessions:   sessions,
		presenter:  presenter,
		categories: slices.Clone(categories),
		pageSize:   MaxRowsPerPage,
		avatarJobs: DefaultAvatarWorkers,
		logger:     zap.NewNop(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close abandons pending category loads and waits for them to return.
// Handle is a no-op afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// spawn runs fn in the background unless the controller is closed.
func (c *Controller) spawn(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// lock serializes session changes and renders for one viewer.
func (c *Controller) lock(viewerID string) func() {
	v, _ := c.locks.LoadOrStore(viewerID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Controller) Handle(ctx context.Context, viewerID string, cmd engine.Command) {
	if c.ctx.Err() != nil {
		return
	}
	switch cmd.Type {
	case engine.CmdOpenRoot, engine.CmdBack:
		c.toRoot(viewerID, cmd)
	case engine.CmdSelectCategory:
		c.selectCategory(viewerID, cmd.Category)
	case engine.CmdNextPage, engine.CmdPreviousPage:
		c.turnPage(ctx, viewerID, cmd.Type)
	case engine.CmdDisconnect:
		c.Disconnect(viewerID)
	default:
		// Load completions only ever come from the controller itself.
		c.ignore(viewerID, cmd.Type, engine.ErrUnsupportedCommand)
	}
}

// Disconnect forgets the viewer. A load still running for them is dropped
// when it lands.
func (c *Controller) Disconnect(viewerID string) {
	unlock := c.lock(viewerID)
	defer unlock()
	defer c.locks.Delete(viewerID)

	var events []engine.Event
	_, err := c.sessions.Update(viewerID, func(cur engine.State) (engine.State, bool, error) {
		evts, next, err := engine.Apply(cur, engine.Command{Type: engine.CmdDisconnect})
		events = evts
		return next, false, err
	})
	if err != nil {
		c.ignore(viewerID, engine.CmdDisconnect, err)
		return
	}
	c.logger.Debug("viewer disconnected", zap.String("viewer", viewerID), zap.Int("events", len(events)))
}

func (c *Controller) toRoot(viewerID string, cmd engine.Command) {
	unlock := c.lock(viewerID)
	defer unlock()

	var events []engine.Event
	_, err := c.sessions.Update(viewerID, func(cur engine.State) (engine.State, bool, error) {
		evts, next, err := engine.Apply(cur, engine.Command{Type: cmd.Type})
		events = evts
		return next, false, err
	})
	if err != nil {
		c.ignore(viewerID, cmd.Type, err)
		return
	}
	c.presenter.Present(c.rootView(viewerID, events))
}

func (c *Controller) selectCategory(viewerID, name string) {
	cat, ok := c.category(name)
	if !ok {
		c.ignore(viewerID, engine.CmdSelectCategory, engine.ErrUnknownCategory)
		return
	}

	unlock := c.lock(viewerID)
	defer unlock()

	load := c.loads.Add(1)
	var events []engine.Event
	_, err := c.sessions.Update(viewerID, func(cur engine.State) (engine.State, bool, error) {
		evts, next, err := engine.Apply(cur, engine.Command{Type: engine.CmdSelectCategory, Category: cat.Name, Load: load})
		events = evts
		return next, true, err
	})
	if err != nil {
		c.ignore(viewerID, engine.CmdSelectCategory, err)
		return
	}

	c.presenter.Present(loadingView(viewerID, cat.Name, events))

	c.spawn(func() { c.load(viewerID, cat, load) })
}

// load refreshes the leaderboard if needed and then shows page 0, unless the
// viewer has moved on while it ran. The page is rendered before the session
// is committed so nothing slow sits between the commit and the render.
func (c *Controller) load(viewerID string, cat stats.Category, load uint64) {
	c.board.RefreshIfStale(c.ctx)
	if c.ctx.Err() != nil {
		return
	}

	snap := c.board.Snapshot()
	pages := engine.TotalPages(snap.Len(cat.Name), c.pageSize)
	completed := engine.Command{Type: engine.CmdLoadCompleted, Category: cat.Name, Load: load, Pages: pages}

	// Cheap early out before any avatar is resolved.
	cur, _ := c.sessions.Get(viewerID)
	events, next, err := engine.Apply(cur, completed)
	if err != nil {
		c.discard(viewerID, cat.Name, load, err)
		return
	}
	page := engine.Paginate(snap.Ranking(cat.Name), c.pageSize, next.Page)
	render := c.pageView(c.ctx, viewerID, cat, page, events)

	v, ok := c.locks.Load(viewerID)
	if !ok {
		c.discard(viewerID, cat.Name, load, engine.ErrStaleLoad)
		return
	}
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	_, err = c.sessions.Update(viewerID, func(cur engine.State) (engine.State, bool, error) {
		_, next, err := engine.Apply(cur, completed)
		return next, true, err
	})
	if err != nil {
		c.discard(viewerID, cat.Name, load, err)
		return
	}
	c.presenter.Present(render)
}

func (c *Controller) discard(viewerID, category string, load uint64, err error) {
	if errors.Is(err, engine.ErrStaleLoad) {
		c.logger.Debug("discarding stale load",
			zap.String("viewer", viewerID), zap.String("category", category), zap.Uint64("load", load))
		return
	}
	c.ignore(viewerID, engine.CmdLoadCompleted, err)
}

func (c *Controller) turnPage(ctx context.Context, viewerID string, cmdType engine.CommandType) {
	// Cheap when the snapshot is fresh, which it is right after a load.
	c.board.RefreshIfStale(ctx)
	snap := c.board.Snapshot()

	unlock := c.lock(viewerID)
	defer unlock()

	var events []engine.Event
	next, err := c.sessions.Update(viewerID, func(cur engine.State) (engine.State, bool, error) {
		pages := engine.TotalPages(snap.Len(cur.Category), c.pageSize)
		evts, next, err := engine.Apply(cur, engine.Command{Type: cmdType, Pages: pages})
		events = evts
		return next, true, err
	})
	if err != nil {
		c.ignore(viewerID, cmdType, err)
		return
	}

	cat, ok := c.category(next.Category)
	if !ok {
		c.ignore(viewerID, cmdType, engine.ErrUnknownCategory)
		return
	}
	page := engine.Paginate(snap.Ranking(cat.Name), c.pageSize, next.Page)
	c.presenter.Present(c.pageView(ctx, viewerID, cat, page, events))
}

func (c *Controller) category(name string) (stats.Category, bool) {
	for _, cat := range c.categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return stats.Category{}, false
}

// ignore drops an action that does not apply in the viewer's current state.
// Viewers never see an error page.
func (c *Controller) ignore(viewerID string, cmd engine.CommandType, err error) {
	c.logger.Debug("ignoring navigation",
		zap.String("viewer", viewerID), zap.String("command", string(cmd)), zap.Error(err))
}
