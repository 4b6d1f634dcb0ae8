package types

import (
	"time"

	"github.com/DoyleJ11/statboard/internal/avatar"
	"github.com/DoyleJ11/statboard/internal/engine"
)

// ClientMessage is a navigation action as sent by the presentation layer.
type ClientMessage struct {
	Type     string `json:"type"` // "OpenRoot" | "SelectCategory" | "NextPage" | "PreviousPage" | "Back"
	Category string `json:"category,omitempty"`
}

type ServerMessage struct {
	Type   string  `json:"type"` // "Render" | "Error"
	Render *Render `json:"render,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Action is what clicking a slot asks for. Slots carry it so the
// presentation layer never has to work intent out from display text.
type Action struct {
	Type     engine.CommandType `json:"type"`
	Category string             `json:"category,omitempty"`
}

type Slot struct {
	Index  int            `json:"index"`
	Icon   string         `json:"icon"`
	Text   string         `json:"text"`
	Lore   []string       `json:"lore,omitempty"`
	Avatar *avatar.Handle `json:"avatar,omitempty"`
	Action *Action        `json:"action,omitempty"`
}

// Render asks the presentation layer to show one grid to one viewer.
type Render struct {
	ViewerID string             `json:"viewer_id"`
	Title    string             `json:"title"`
	Size     int                `json:"size"`
	Slots    []Slot             `json:"slots"`
	Feedback []engine.EventType `json:"feedback,omitempty"`
}

// LeaderboardSummary describes one category in the read API.
type LeaderboardSummary struct {
	Category string `json:"category"`
	Entries  int    `json:"entries"`
}

type LeaderboardIndex struct {
	BuiltAt    time.Time            `json:"built_at"`
	Categories []LeaderboardSummary `json:"categories"`
}

type RankedEntry struct {
	Rank     int    `json:"rank"`
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Value    int64  `json:"value"`
	Display  string `json:"display"`
}

type LeaderboardPage struct {
	Category   string        `json:"category"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
	Total      int           `json:"total"`
	BuiltAt    time.Time     `json:"built_at"`
	Entries    []RankedEntry `json:"entries"`
}
