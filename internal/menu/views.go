package menu

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/statboard/internal/avatar"
	"github.com/DoyleJ11/statboard/internal/engine"
	"github.com/DoyleJ11/statboard/internal/stats"
	"github.com/DoyleJ11/statboard/internal/types"
)

// feedback keeps the events the presentation layer turns into cues.
func feedback(events []engine.Event) []engine.EventType {
	var out []engine.EventType
	for _, e := range events {
		switch e.Type {
		case engine.EvtMenuOpened, engine.EvtSelectionConfirmed, engine.EvtPageTurned:
			out = append(out, e.Type)
		}
	}
	return out
}

func (c *Controller) rootView(viewerID string, events []engine.Event) types.Render {
	positions := rootSlots(len(c.categories))
	slots := make([]types.Slot, 0, len(c.categories))
	for i, cat := range c.categories {
		slots = append(slots, types.Slot{
			Index:  positions[i],
			Icon:   cat.Icon,
			Text:   cat.Name,
			Lore:   []string{cat.Lore},
			Action: &types.Action{Type: engine.CmdSelectCategory, Category: cat.Name},
		})
	}
	return types.Render{
		ViewerID: viewerID,
		Title:    RootTitle,
		Size:     RootSize,
		Slots:    slots,
		Feedback: feedback(events),
	}
}

func loadingView(viewerID, category string, events []engine.Event) types.Render {
	return types.Render{
		ViewerID: viewerID,
		Title:    pageTitle(category),
		Size:     PageSize,
		Slots: []types.Slot{{
			Index: SlotLoading,
			Icon:  IconLoading,
			Text:  "Loading...",
			Lore:  []string{"Please wait"},
		}},
		Feedback: feedback(events),
	}
}

func (c *Controller) pageView(ctx context.Context, viewerID string, cat stats.Category, page engine.Page[stats.Entry], events []engine.Event) types.Render {
	heads := c.resolveAvatars(ctx, page.Entries)

	slots := make([]types.Slot, 0, len(page.Entries)+4)
	for i, entry := range page.Entries {
		slots = append(slots, types.Slot{
			Index:  i,
			Icon:   IconHead,
			Text:   fmt.Sprintf("#%d %s", page.Offset+i+1, entry.DisplayName),
			Lore:   []string{fmt.Sprintf("%s: %s", cat.Name, cat.Format(entry.Value))},
			Avatar: heads[i],
		})
	}

	if page.Index > 0 {
		slots = append(slots, types.Slot{
			Index:  SlotPrevious,
			Icon:   IconArrow,
			Text:   "← Previous Page",
			Lore:   []string{fmt.Sprintf("Page %d of %d", page.Index, page.TotalPages)},
			Action: &types.Action{Type: engine.CmdPreviousPage},
		})
	}
	slots = append(slots, types.Slot{
		Index:  SlotBack,
		Icon:   IconBack,
		Text:   "Back to Menu",
		Action: &types.Action{Type: engine.CmdBack},
	})
	if page.Index < page.TotalPages-1 {
		slots = append(slots, types.Slot{
			Index:  SlotNext,
			Icon:   IconArrow,
			Text:   "Next Page →",
			Lore:   []string{fmt.Sprintf("Page %d of %d", page.Index+2, page.TotalPages)},
			Action: &types.Action{Type: engine.CmdNextPage},
		})
	}
	slots = append(slots, types.Slot{
		Index: SlotIndicator,
		Icon:  IconPage,
		Text:  fmt.Sprintf("Page %d/%d", page.Index+1, page.TotalPages),
		Lore:  []string{fmt.Sprintf("Showing %d of %d players", len(page.Entries), page.Total)},
	})

	return types.Render{
		ViewerID: viewerID,
		Title:    pageTitle(cat.Name),
		Size:     PageSize,
		Slots:    slots,
		Feedback: feedback(events),
	}
}

// resolveAvatars looks up one avatar per entry, at most avatarJobs at a time.
// heads[i] belongs to entries[i].
func (c *Controller) resolveAvatars(ctx context.Context, entries []stats.Entry) []*avatar.Handle {
	heads := make([]*avatar.Handle, len(entries))
	var g errgroup.Group
	g.SetLimit(c.avatarJobs)
	for i, entry := range entries {
		g.Go(func() error {
			heads[i] = c.avatars.Resolve(ctx, stats.Entity{ID: entry.EntityID, Name: entry.DisplayName})
			return nil
		})
	}
	_ = g.Wait() // Resolve never fails
	return heads
}
