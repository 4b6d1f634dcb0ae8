package engine

import (
	"errors"
)

var ErrUnknownCategory = errors.New("unknown category")
var ErrNotInCategory = errors.New("not viewing a category")
var ErrNoNextPage = errors.New("already on last page")
var ErrNoPreviousPage = errors.New("already on first page")
var ErrStaleLoad = errors.New("load result no longer current")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Screen string

const (
	ScreenRoot     Screen = "root"
	ScreenLoading  Screen = "loading"
	ScreenCategory Screen = "category"
)

// State is one viewer's position in the menu. It is a plain value so the
// session store can compare-and-swap it.
type State struct {
	Screen   Screen
	Category string
	Page     int
	// Load identifies the most recent category load; a completion carrying
	// any other value is stale.
	Load uint64
}

type CommandType string

const (
	CmdOpenRoot       CommandType = "OpenRoot"
	CmdSelectCategory CommandType = "SelectCategory"
	CmdNextPage       CommandType = "NextPage"
	CmdPreviousPage   CommandType = "PreviousPage"
	CmdBack           CommandType = "Back"
	CmdLoadCompleted  CommandType = "LoadCompleted"
	CmdDisconnect     CommandType = "Disconnect"
)

/*
	CmdOpenRoot       -> EvtMenuOpened
	CmdSelectCategory -> EvtSelectionConfirmed -> EvtLoadStarted
	CmdLoadCompleted  -> EvtPageShown
	CmdNextPage       -> EvtPageTurned -> EvtPageShown
	CmdPreviousPage   -> EvtPageTurned -> EvtPageShown
	CmdBack           -> EvtSelectionConfirmed -> EvtMenuOpened
	CmdDisconnect     -> EvtSessionEnded
*/

type Command struct {
	Type     CommandType
	Category string
	// Load is the id of a new load for CmdSelectCategory and the id of the
	// finished load for CmdLoadCompleted.
	Load uint64
	// Pages is the page count of Category in the snapshot the caller is
	// about to render. Only page navigation and load completion read it.
	Pages int
}

type EventType string

const (
	EvtMenuOpened         EventType = "MenuOpened"
	EvtSelectionConfirmed EventType = "SelectionConfirmed"
	EvtLoadStarted        EventType = "LoadStarted"
	EvtPageTurned         EventType = "PageTurned"
	EvtPageShown          EventType = "PageShown"
	EvtSessionEnded       EventType = "SessionEnded"
)

type Event struct {
	Type     EventType
	Category string
	Page     int
}

// Apply runs one navigation command against s. It never mutates s; on error
// the returned state is s unchanged.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s

	switch cmd.Type {
	case CmdOpenRoot:
		newState = State{Screen: ScreenRoot, Load: s.Load}
		return []Event{{Type: EvtMenuOpened}}, newState, nil

	case CmdSelectCategory:
		if cmd.Category == "" {
			return nil, s, ErrUnknownCategory
		}
		// The caller hands out a fresh load id per selection so an earlier,
		// slower load for the same category is also recognised as stale.
		newState = State{Screen: ScreenLoading, Category: cmd.Category, Load: cmd.Load}
		events := []Event{
			{Type: EvtSelectionConfirmed, Category: cmd.Category},
			{Type: EvtLoadStarted, Category: cmd.Category},
		}
		return events, newState, nil

	case CmdLoadCompleted:
		if s.Screen != ScreenLoading || s.Category != cmd.Category || s.Load != cmd.Load {
			return nil, s, ErrStaleLoad
		}
		newState.Screen = ScreenCategory
		newState.Page = ClampPage(0, cmd.Pages)
		return []Event{{Type: EvtPageShown, Category: s.Category, Page: newState.Page}}, newState, nil

	case CmdNextPage, CmdPreviousPage:
		if s.Screen != ScreenCategory {
			return nil, s, ErrNotInCategory
		}
		// The stored page may point past a category that shrank since it
		// was rendered.
		page := ClampPage(s.Page, cmd.Pages)
		var err error
		if cmd.Type == CmdNextPage && page+1 >= max(1, cmd.Pages) {
			err = ErrNoNextPage
		} else if cmd.Type == CmdPreviousPage && page == 0 {
			err = ErrNoPreviousPage
		}
		if err != nil {
			if page == s.Page {
				return nil, s, err
			}
			// Can't move, but the viewer is still shown the clamped page.
			newState.Page = page
			return []Event{{Type: EvtPageShown, Category: s.Category, Page: page}}, newState, nil
		}
		if cmd.Type == CmdNextPage {
			page++
		} else {
			page--
		}
		newState.Page = page
		events := []Event{
			{Type: EvtPageTurned, Category: s.Category, Page: page},
			{Type: EvtPageShown, Category: s.Category, Page: page},
		}
		return events, newState, nil

	case CmdBack:
		if s.Screen != ScreenCategory && s.Screen != ScreenLoading {
			return nil, s, ErrNotInCategory
		}
		newState = State{Screen: ScreenRoot, Load: s.Load}
		events := []Event{
			{Type: EvtSelectionConfirmed},
			{Type: EvtMenuOpened},
		}
		return events, newState, nil

	case CmdDisconnect:
		// The session ends; the caller drops whatever it stored for it.
		return []Event{{Type: EvtSessionEnded}}, State{Screen: ScreenRoot, Load: s.Load}, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}
