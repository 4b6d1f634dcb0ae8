package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownCategory = errors.New("unknown category")

// Raw counter names understood by the entity sources.
const (
	CounterPlayerKills   = "player_kills"
	CounterDeaths        = "deaths"
	CounterPlayOneMinute = "play_one_minute"
)

// ticksPerMinute converts the play-time counter, which advances 20 times a
// second, into minutes.
const ticksPerMinute = 20 * 60

// Entity is one account known to the host.
type Entity struct {
	ID   string
	Name string
}

// Source is the host environment that owns entity records and their raw
// counters.
type Source interface {
	ListKnownEntities(ctx context.Context) ([]Entity, error)
	HasActivity(ctx context.Context, e Entity) bool
	Counter(ctx context.Context, e Entity, counter string) (int64, error)
}

// Entry is one row of a ranking. Entries are never modified once they are
// part of a published Snapshot.
type Entry struct {
	EntityID    string `json:"entity_id"`
	DisplayName string `json:"name"`
	Value       int64  `json:"value"`
}

type Unit string

const (
	UnitCount   Unit = "count"
	UnitMinutes Unit = "minutes"
)

// Category is a named ranking built from one raw counter.
type Category struct {
	Name    string
	Counter string
	// Divisor scales the raw counter before ranking; 0 and 1 leave it as is.
	Divisor int64
	Unit    Unit
	Icon    string
	Lore    string
}

var DefaultCategories = []Category{
	{Name: "Kills", Counter: CounterPlayerKills, Unit: UnitCount, Icon: "DIAMOND_SWORD", Lore: "Click to view top killers"},
	{Name: "Deaths", Counter: CounterDeaths, Unit: UnitCount, Icon: "SKELETON_SKULL", Lore: "Click to view most deaths"},
	{Name: "Playtime", Counter: CounterPlayOneMinute, Divisor: ticksPerMinute, Unit: UnitMinutes, Icon: "CLOCK", Lore: "Click to view top playtime"},
}

// LookupCategories returns the default categories named in names, in the
// order given. Matching ignores case.
func LookupCategories(names []string) ([]Category, error) {
	out := make([]Category, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		found := false
		for _, c := range DefaultCategories {
			if strings.EqualFold(c.Name, name) {
				out = append(out, c)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no categories configured", ErrUnknownCategory)
	}
	return out, nil
}

// Scale turns a raw counter reading into the value that is ranked.
func (c Category) Scale(raw int64) int64 {
	if c.Divisor > 1 {
		return raw / c.Divisor
	}
	return raw
}

// Format renders a ranked value for display.
func (c Category) Format(v int64) string {
	if c.Unit == UnitMinutes {
		return FormatMinutes(v)
	}
	return fmt.Sprintf("%d", v)
}

// FormatMinutes renders a duration in minutes as "1d 2h 3m". Days are left
// out when zero, hours when both hours and days are zero.
func FormatMinutes(total int64) string {
	days := total / 1440
	hours := (total % 1440) / 60
	minutes := total % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	if hours > 0 || days > 0 {
		fmt.Fprintf(&b, "%dh ", hours)
	}
	fmt.Fprintf(&b, "%dm", minutes)
	return b.String()
}

// Snapshot is an immutable set of rankings as of one refresh.
type Snapshot struct {
	builtAt  time.Time
	rankings map[string][]Entry
}

// EmptySnapshot is what readers see before the first refresh finishes.
func EmptySnapshot() *Snapshot {
	return &Snapshot{rankings: map[string][]Entry{}}
}

func newSnapshot(builtAt time.Time, rankings map[string][]Entry) *Snapshot {
	return &Snapshot{builtAt: builtAt, rankings: rankings}
}

// BuiltAt is zero for the empty snapshot.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Ranking returns a copy of the category's entries, best first. Unknown
// categories yield an empty ranking.
func (s *Snapshot) Ranking(category string) []Entry {
	src := s.rankings[category]
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// Len is the number of ranked entities in category.
func (s *Snapshot) Len(category string) int {
	return len(s.rankings[category])
}
