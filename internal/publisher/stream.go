package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DoyleJ11/statboard/internal/stats"
)

const DefaultStream = "leaderboard.refreshed"

// RefreshEvent announces a newly published leaderboard snapshot.
type RefreshEvent struct {
	BuiltAt time.Time      `json:"built_at"`
	Sizes   map[string]int `json:"sizes"`
	// Leaders holds the top entity per non-empty category.
	Leaders map[string]stats.Entry `json:"leaders,omitempty"`
}

// StreamPublisher appends a RefreshEvent to a Redis stream after every
// refresh.
type StreamPublisher struct {
	client     redis.Cmdable
	stream     string
	categories []stats.Category
}

func NewStreamPublisher(client redis.Cmdable, stream string, categories []stats.Category) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{client: client, stream: stream, categories: categories}
}

func (p *StreamPublisher) PublishRefresh(ctx context.Context, snap *stats.Snapshot) error {
	values, err := p.values(snap)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Err()
}

func (p *StreamPublisher) values(snap *stats.Snapshot) (map[string]any, error) {
	ev := NewRefreshEvent(snap, p.categories)
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshaling refresh event: %w", err)
	}
	return map[string]any{
		"data":     string(data),
		"built_at": ev.BuiltAt.UnixMilli(),
	}, nil
}

func NewRefreshEvent(snap *stats.Snapshot, categories []stats.Category) RefreshEvent {
	ev := RefreshEvent{
		BuiltAt: snap.BuiltAt(),
		Sizes:   make(map[string]int, len(categories)),
		Leaders: make(map[string]stats.Entry),
	}
	for _, cat := range categories {
		ranking := snap.Ranking(cat.Name)
		ev.Sizes[cat.Name] = len(ranking)
		if len(ranking) > 0 {
			ev.Leaders[cat.Name] = ranking[0]
		}
	}
	return ev
}
