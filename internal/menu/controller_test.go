package menu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/statboard/internal/avatar"
	"github.com/DoyleJ11/statboard/internal/engine"
	"github.com/DoyleJ11/statboard/internal/session"
	"github.com/DoyleJ11/statboard/internal/source"
	"github.com/DoyleJ11/statboard/internal/stats"
	"github.com/DoyleJ11/statboard/internal/types"
)

type chanPresenter chan types.Render

func (p chanPresenter) Present(r types.Render) { p <- r }

type stubAvatars struct{}

func (stubAvatars) Resolve(_ context.Context, e stats.Entity) *avatar.Handle {
	return &avatar.Handle{EntityID: e.ID, Owner: e.Name}
}

// gatedAvatars reports each lookup on started and holds it until gate is
// closed.
type gatedAvatars struct {
	started chan struct{}
	gate    chan struct{}
}

func (g gatedAvatars) Resolve(ctx context.Context, e stats.Entity) *avatar.Handle {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
	}
	return &avatar.Handle{EntityID: e.ID, Owner: e.Name}
}

// slowAvatars takes delay per lookup and records the most lookups seen in
// flight at once.
type slowAvatars struct {
	delay    time.Duration
	mu       sync.Mutex
	inflight int
	peak     int
	calls    atomic.Int32
}

func (s *slowAvatars) Resolve(_ context.Context, e stats.Entity) *avatar.Handle {
	s.calls.Add(1)
	s.mu.Lock()
	s.inflight++
	s.peak = max(s.peak, s.inflight)
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()
	return &avatar.Handle{EntityID: e.ID, Owner: e.Name}
}

// gatedBoard holds every refresh until gate is closed.
type gatedBoard struct {
	*stats.Cache
	gate chan struct{}
}

func (g gatedBoard) RefreshIfStale(ctx context.Context) bool {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return false
	}
	return g.Cache.RefreshIfStale(ctx)
}

type fixture struct {
	ctrl     *Controller
	sessions *session.Store
	out      chanPresenter
	gate     chan struct{}
}

func newFixture(t *testing.T, src *source.Memory, gated bool, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithAvatars(t, src, gated, stubAvatars{}, opts...)
}

func newFixtureWithAvatars(t *testing.T, src *source.Memory, gated bool, avatars AvatarResolver, opts ...Option) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	log := zaptest.NewLogger(t)

	cache := stats.NewCache(ctx, src, stats.DefaultCategories, stats.WithInterval(time.Hour), stats.WithLogger(log))
	var board Leaderboard = cache
	gate := make(chan struct{})
	if gated {
		board = gatedBoard{Cache: cache, gate: gate}
	} else {
		close(gate)
	}

	f := &fixture{
		sessions: session.NewStore(),
		out:      make(chanPresenter, 64),
		gate:     gate,
	}
	opts = append([]Option{WithLogger(log)}, opts...)
	f.ctrl = NewController(ctx, board, avatars, f.sessions, f.out, stats.DefaultCategories, opts...)
	t.Cleanup(func() {
		cancel()
		f.ctrl.Close()
		cache.Close()
	})
	return f
}

// helper: receive one render with a timeout so tests never hang
func recvRender(t *testing.T, ch <-chan types.Render, within time.Duration) types.Render {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(within):
		t.Fatalf("timed out waiting for render")
		return types.Render{} // unreachable
	}
}

func recvNoRender(t *testing.T, ch <-chan types.Render, within time.Duration) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("expected no render within %v, but got: %+v", within, r)
	case <-time.After(within):
	}
}

func slotAt(r types.Render, index int) (types.Slot, bool) {
	for _, s := range r.Slots {
		if s.Index == index {
			return s, true
		}
	}
	return types.Slot{}, false
}

func killsSource() *source.Memory {
	src := source.NewMemory()
	src.Set("a", "A", stats.CounterPlayerKills, 10)
	src.Set("b", "B", stats.CounterPlayerKills, 7)
	src.Set("c", "C", stats.CounterPlayerKills, 0)
	return src
}

func rankedSource(n int) *source.Memory {
	src := source.NewMemory()
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("p%03d", i)
		src.Set(id, id, stats.CounterPlayerKills, int64(i))
	}
	return src
}

func TestController_OpenRootRendersCategories(t *testing.T) {
	f := newFixture(t, killsSource(), false)

	f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdOpenRoot})
	r := recvRender(t, f.out, time.Second)

	assert.Equal(t, "v1", r.ViewerID)
	assert.Equal(t, RootTitle, r.Title)
	assert.Equal(t, RootSize, r.Size)
	assert.Equal(t, []engine.EventType{engine.EvtMenuOpened}, r.Feedback)
	require.Len(t, r.Slots, 3)
	for i, want := range []struct {
		index int
		name  string
	}{{11, "Kills"}, {13, "Deaths"}, {15, "Playtime"}} {
		s := r.Slots[i]
		assert.Equal(t, want.index, s.Index)
		assert.Equal(t, want.name, s.Text)
		require.NotNil(t, s.Action)
		assert.Equal(t, engine.CmdSelectCategory, s.Action.Type)
		assert.Equal(t, want.name, s.Action.Category)
	}
	assert.Zero(t, f.sessions.Len(), "root viewers hold no session")
}

func TestController_SelectShowsLoadingThenFirstPage(t *testing.T) {
	f := newFixture(t, killsSource(), false)

	f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})

	loading := recvRender(t, f.out, time.Second)
	assert.Equal(t, "Kills Leaderboard", loading.Title)
	assert.Equal(t, PageSize, loading.Size)
	assert.Equal(t, []engine.EventType{engine.EvtSelectionConfirmed}, loading.Feedback)
	_, ok := slotAt(loading, SlotLoading)
	assert.True(t, ok)

	page := recvRender(t, f.out, time.Second)
	assert.Empty(t, page.Feedback)

	first, ok := slotAt(page, 0)
	require.True(t, ok)
	assert.Equal(t, "#1 A", first.Text)
	assert.Equal(t, []string{"Kills: 10"}, first.Lore)
	require.NotNil(t, first.Avatar)
	assert.Equal(t, "a", first.Avatar.EntityID)

	second, ok := slotAt(page, 1)
	require.True(t, ok)
	assert.Equal(t, "#2 B", second.Text)

	_, ok = slotAt(page, 2)
	assert.False(t, ok, "zero values are omitted")
	_, ok = slotAt(page, SlotPrevious)
	assert.False(t, ok)
	_, ok = slotAt(page, SlotNext)
	assert.False(t, ok)
	back, ok := slotAt(page, SlotBack)
	require.True(t, ok)
	assert.Equal(t, engine.CmdBack, back.Action.Type)

	ind, ok := slotAt(page, SlotIndicator)
	require.True(t, ok)
	assert.Equal(t, "Page 1/1", ind.Text)
	assert.Equal(t, []string{"Showing 2 of 2 players"}, ind.Lore)

	st, ok := f.sessions.Get("v1")
	require.True(t, ok)
	assert.Equal(t, engine.ScreenCategory, st.Screen)
	assert.Equal(t, "Kills", st.Category)
	assert.Zero(t, st.Page)
}

func TestController_PageNavigation(t *testing.T) {
	f := newFixture(t, rankedSource(100), false)
	ctx := context.Background()

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
	recvRender(t, f.out, time.Second) // loading
	p1 := recvRender(t, f.out, time.Second)
	top, _ := slotAt(p1, 0)
	assert.Equal(t, "#1 p100", top.Text)
	next, ok := slotAt(p1, SlotNext)
	require.True(t, ok)
	assert.Equal(t, []string{"Page 2 of 3"}, next.Lore)

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdNextPage})
	p2 := recvRender(t, f.out, time.Second)
	assert.Equal(t, []engine.EventType{engine.EvtPageTurned}, p2.Feedback)
	row, _ := slotAt(p2, 0)
	assert.Equal(t, "#46 p055", row.Text)
	prev, ok := slotAt(p2, SlotPrevious)
	require.True(t, ok)
	assert.Equal(t, []string{"Page 1 of 3"}, prev.Lore)

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdNextPage})
	p3 := recvRender(t, f.out, time.Second)
	ind, _ := slotAt(p3, SlotIndicator)
	assert.Equal(t, "Page 3/3", ind.Text)
	assert.Equal(t, []string{"Showing 10 of 100 players"}, ind.Lore)
	_, ok = slotAt(p3, SlotNext)
	assert.False(t, ok)

	// Past the last page nothing is shown.
	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdNextPage})
	recvNoRender(t, f.out, 50*time.Millisecond)

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdPreviousPage})
	back := recvRender(t, f.out, time.Second)
	ind, _ = slotAt(back, SlotIndicator)
	assert.Equal(t, "Page 2/3", ind.Text)
}

func TestController_PageSizeOption(t *testing.T) {
	f := newFixture(t, rankedSource(25), false, WithPageSize(10))

	f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
	recvRender(t, f.out, time.Second)
	page := recvRender(t, f.out, time.Second)
	ind, _ := slotAt(page, SlotIndicator)
	assert.Equal(t, "Page 1/3", ind.Text)
	assert.Equal(t, []string{"Showing 10 of 25 players"}, ind.Lore)
}

func TestController_BackReturnsToRoot(t *testing.T) {
	f := newFixture(t, killsSource(), false)
	ctx := context.Background()

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
	recvRender(t, f.out, time.Second)
	recvRender(t, f.out, time.Second)

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdBack})
	root := recvRender(t, f.out, time.Second)
	assert.Equal(t, RootTitle, root.Title)
	assert.Equal(t, []engine.EventType{engine.EvtSelectionConfirmed, engine.EvtMenuOpened}, root.Feedback)
	assert.Zero(t, f.sessions.Len())

	// Back from the root has nothing to go back to.
	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdBack})
	recvNoRender(t, f.out, 50*time.Millisecond)
}

func TestController_StaleLoadsAreDiscarded(t *testing.T) {
	tests := []struct {
		name  string
		leave func(f *fixture)
		// renders expected from leave before the gate opens
		renders int
		// title of the page expected once the gate opens, if any
		want string
	}{
		{
			name: "back to root",
			leave: func(f *fixture) {
				f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdBack})
			},
			renders: 1,
		},
		{
			name: "disconnect",
			leave: func(f *fixture) {
				f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdDisconnect})
			},
		},
		{
			name: "another category",
			leave: func(f *fixture) {
				f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Deaths"})
			},
			renders: 1,
			want:    "Deaths Leaderboard",
		},
		{
			name: "same category again",
			leave: func(f *fixture) {
				f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
			},
			renders: 1,
			want:    "Kills Leaderboard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, killsSource(), true)

			f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
			recvRender(t, f.out, time.Second) // loading

			tt.leave(f)
			for range tt.renders {
				recvRender(t, f.out, time.Second)
			}
			close(f.gate)

			if tt.want != "" {
				page := recvRender(t, f.out, time.Second)
				assert.Equal(t, tt.want, page.Title)
				_, ok := slotAt(page, SlotIndicator)
				assert.True(t, ok)
			}
			recvNoRender(t, f.out, 100*time.Millisecond)
		})
	}
}

func TestController_BackWhileAvatarsResolveWins(t *testing.T) {
	heads := gatedAvatars{started: make(chan struct{}, 1), gate: make(chan struct{})}
	f := newFixtureWithAvatars(t, killsSource(), false, heads)
	ctx := context.Background()

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
	recvRender(t, f.out, time.Second) // loading

	select {
	case <-heads.started:
	case <-time.After(time.Second):
		t.Fatal("load never reached avatar lookup")
	}

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdBack})
	root := recvRender(t, f.out, time.Second)
	assert.Equal(t, RootTitle, root.Title)

	close(heads.gate)
	recvNoRender(t, f.out, 100*time.Millisecond)

	st, ok := f.sessions.Get("v1")
	assert.False(t, ok)
	assert.Equal(t, engine.ScreenRoot, st.Screen)
}

func TestController_ResolvesAvatarsInParallel(t *testing.T) {
	const delay = 50 * time.Millisecond
	heads := &slowAvatars{delay: delay}
	f := newFixtureWithAvatars(t, rankedSource(20), false, heads, WithPageSize(20), WithAvatarWorkers(10))

	start := time.Now()
	f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
	recvRender(t, f.out, time.Second) // loading
	page := recvRender(t, f.out, 2*time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, int32(20), heads.calls.Load())
	heads.mu.Lock()
	peak := heads.peak
	heads.mu.Unlock()
	assert.Greater(t, peak, 1)
	assert.LessOrEqual(t, peak, 10)
	assert.Less(t, elapsed, 20*delay/2, "lookups ran one after another")

	// Avatars stay with their rows.
	first, ok := slotAt(page, 0)
	require.True(t, ok)
	require.NotNil(t, first.Avatar)
	assert.Equal(t, "p020", first.Avatar.EntityID)
	last, ok := slotAt(page, 19)
	require.True(t, ok)
	require.NotNil(t, last.Avatar)
	assert.Equal(t, "p001", last.Avatar.EntityID)
}

func TestController_DisconnectForgetsViewer(t *testing.T) {
	f := newFixture(t, killsSource(), false)
	ctx := context.Background()

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
	recvRender(t, f.out, time.Second)
	recvRender(t, f.out, time.Second)
	require.Equal(t, 1, f.sessions.Len())

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdDisconnect})
	recvNoRender(t, f.out, 50*time.Millisecond)
	assert.Zero(t, f.sessions.Len())

	// Disconnecting twice is harmless.
	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdDisconnect})
	assert.Zero(t, f.sessions.Len())
}

func TestController_CloseRacesSelections(t *testing.T) {
	f := newFixture(t, killsSource(), false)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctrl.Handle(context.Background(), fmt.Sprintf("v%d", i), engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
		}()
	}
	f.ctrl.Close()
	wg.Wait()

	for len(f.out) > 0 {
		<-f.out
	}
	f.ctrl.Handle(context.Background(), "late", engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
	recvNoRender(t, f.out, 100*time.Millisecond)
}

func TestController_ClampsPageAfterCategoryShrinks(t *testing.T) {
	f := newFixture(t, killsSource(), false)

	_, err := f.sessions.Update("v1", func(engine.State) (engine.State, bool, error) {
		return engine.State{Screen: engine.ScreenCategory, Category: "Kills", Page: 4}, true, nil
	})
	require.NoError(t, err)

	f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdNextPage})
	r := recvRender(t, f.out, time.Second)
	assert.Empty(t, r.Feedback, "no page turn happened")
	ind, _ := slotAt(r, SlotIndicator)
	assert.Equal(t, "Page 1/1", ind.Text)

	st, _ := f.sessions.Get("v1")
	assert.Zero(t, st.Page)
}

func TestController_EmptyCategoryHasOnePage(t *testing.T) {
	f := newFixture(t, killsSource(), false)

	f.ctrl.Handle(context.Background(), "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Deaths"})
	recvRender(t, f.out, time.Second)
	page := recvRender(t, f.out, time.Second)

	ind, ok := slotAt(page, SlotIndicator)
	require.True(t, ok)
	assert.Equal(t, "Page 1/1", ind.Text)
	assert.Equal(t, []string{"Showing 0 of 0 players"}, ind.Lore)
	_, ok = slotAt(page, 0)
	assert.False(t, ok)
}

func TestController_IgnoresInapplicableActions(t *testing.T) {
	f := newFixture(t, killsSource(), false)
	ctx := context.Background()

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdSelectCategory, Category: "Mining"})
	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdNextPage})
	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdPreviousPage})
	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdLoadCompleted, Category: "Kills", Load: 1})

	recvNoRender(t, f.out, 50*time.Millisecond)
	assert.Zero(t, f.sessions.Len())
}

func TestController_ViewersAreIndependent(t *testing.T) {
	f := newFixture(t, rankedSource(50), false)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2"} {
		f.ctrl.Handle(ctx, v, engine.Command{Type: engine.CmdSelectCategory, Category: "Kills"})
		recvRender(t, f.out, time.Second)
		recvRender(t, f.out, time.Second)
	}

	f.ctrl.Handle(ctx, "v1", engine.Command{Type: engine.CmdNextPage})
	r := recvRender(t, f.out, time.Second)
	assert.Equal(t, "v1", r.ViewerID)

	s1, _ := f.sessions.Get("v1")
	s2, _ := f.sessions.Get("v2")
	assert.Equal(t, 1, s1.Page)
	assert.Equal(t, 0, s2.Page)
}

func TestRootSlots(t *testing.T) {
	assert.Equal(t, []int{13}, rootSlots(1))
	assert.Equal(t, []int{11, 13, 15}, rootSlots(3))
	assert.Equal(t, []int{9, 11, 13, 15, 17}, rootSlots(5))
	assert.Equal(t, []int{9, 10, 11, 12, 13, 14}, rootSlots(6))
}
