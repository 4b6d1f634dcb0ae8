package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/statboard/internal/engine"
	"github.com/DoyleJ11/statboard/internal/stats"
	"github.com/DoyleJ11/statboard/internal/types"
)

const (
	defaultPageSize = 45
	maxPageSize     = 100
)

// Board is the read side of the leaderboard cache.
type Board interface {
	Snapshot() *stats.Snapshot
	Stale() bool
	TriggerRefresh()
	ForceRefresh(ctx context.Context) *stats.Snapshot
	Categories() []stats.Category
}

type leaderboards struct {
	board    Board
	pageSize int
	logger   *zap.Logger
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *leaderboards) list(w http.ResponseWriter, r *http.Request) {
	h.refreshInBackground()
	snap := h.board.Snapshot()

	cats := h.board.Categories()
	idx := types.LeaderboardIndex{
		BuiltAt:    snap.BuiltAt(),
		Categories: make([]types.LeaderboardSummary, 0, len(cats)),
	}
	for _, cat := range cats {
		idx.Categories = append(idx.Categories, types.LeaderboardSummary{Category: cat.Name, Entries: snap.Len(cat.Name)})
	}
	writeJSON(w, http.StatusOK, idx)
}

func (h *leaderboards) page(w http.ResponseWriter, r *http.Request) {
	cat, ok := h.category(chi.URLParam(r, "category"))
	if !ok {
		writeError(w, http.StatusNotFound, engine.ErrUnknownCategory.Error())
		return
	}

	index, err := queryInt(r, "page", 0)
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	size, err := queryInt(r, "size", h.pageSize)
	if err != nil || size < 1 || size > maxPageSize {
		writeError(w, http.StatusBadRequest, "size must be between 1 and "+strconv.Itoa(maxPageSize))
		return
	}

	// Never wait for a rebuild; this request is served from what is there.
	h.refreshInBackground()
	snap := h.board.Snapshot()
	page := engine.Paginate(snap.Ranking(cat.Name), size, index)

	out := types.LeaderboardPage{
		Category:   cat.Name,
		Page:       page.Index,
		TotalPages: page.TotalPages,
		Total:      page.Total,
		BuiltAt:    snap.BuiltAt(),
		Entries:    make([]types.RankedEntry, 0, len(page.Entries)),
	}
	for i, e := range page.Entries {
		out.Entries = append(out.Entries, types.RankedEntry{
			Rank:     page.Offset + i + 1,
			EntityID: e.EntityID,
			Name:     e.DisplayName,
			Value:    e.Value,
			Display:  cat.Format(e.Value),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *leaderboards) refresh(w http.ResponseWriter, r *http.Request) {
	snap := h.board.ForceRefresh(r.Context())
	if r.Context().Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "refresh still running")
		return
	}
	h.logger.Info("forced refresh", zap.Time("built_at", snap.BuiltAt()))
	writeJSON(w, http.StatusOK, struct {
		BuiltAt time.Time `json:"built_at"`
	}{BuiltAt: snap.BuiltAt()})
}

func (h *leaderboards) refreshInBackground() {
	if h.board.Stale() {
		h.board.TriggerRefresh()
	}
}

// category matches a URL segment against the configured categories,
// ignoring case.
func (h *leaderboards) category(name string) (stats.Category, bool) {
	for _, cat := range h.board.Categories() {
		if strings.EqualFold(cat.Name, name) {
			return cat, true
		}
	}
	return stats.Category{}, false
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
