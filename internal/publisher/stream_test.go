package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/statboard/internal/source"
	"github.com/DoyleJ11/statboard/internal/stats"
)

type fakeRedis struct {
	redis.Cmdable
	adds []*redis.XAddArgs
}

func (f *fakeRedis) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.adds = append(f.adds, a)
	return redis.NewStringResult("1-0", nil)
}

func builtSnapshot(t *testing.T, at time.Time) *stats.Snapshot {
	t.Helper()
	src := source.NewMemory()
	src.Set("a", "Alice", stats.CounterPlayerKills, 10)
	src.Set("b", "Bob", stats.CounterPlayerKills, 7)
	src.Set("b", "Bob", stats.CounterDeaths, 3)

	c := stats.NewCache(context.Background(), src, stats.DefaultCategories, stats.WithClock(func() time.Time { return at }))
	t.Cleanup(c.Close)
	return c.ForceRefresh(context.Background())
}

func TestNewRefreshEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewRefreshEvent(builtSnapshot(t, at), stats.DefaultCategories)

	assert.Equal(t, at, ev.BuiltAt)
	assert.Equal(t, map[string]int{"Kills": 2, "Deaths": 1, "Playtime": 0}, ev.Sizes)
	assert.Equal(t, stats.Entry{EntityID: "a", DisplayName: "Alice", Value: 10}, ev.Leaders["Kills"])
	assert.Equal(t, "b", ev.Leaders["Deaths"].EntityID)
	assert.NotContains(t, ev.Leaders, "Playtime")
}

func TestStreamPublisher_PublishRefresh(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rdb := &fakeRedis{}
	p := NewStreamPublisher(rdb, "", stats.DefaultCategories)

	require.NoError(t, p.PublishRefresh(context.Background(), builtSnapshot(t, at)))
	require.Len(t, rdb.adds, 1)

	args := rdb.adds[0]
	assert.Equal(t, DefaultStream, args.Stream)
	values, ok := args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, at.UnixMilli(), values["built_at"])

	var ev RefreshEvent
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &ev))
	assert.Equal(t, 2, ev.Sizes["Kills"])
	assert.Equal(t, "Alice", ev.Leaders["Kills"].DisplayName)
}
