package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/statboard/internal/hub"
	"github.com/DoyleJ11/statboard/internal/ws"
)

// apiTimeout bounds the JSON endpoints; a forced refresh is the slowest.
const apiTimeout = 30 * time.Second

type Deps struct {
	Hub         *hub.Hub
	Board       Board
	Navigator   ws.Navigator
	Logger      *zap.Logger
	CORSOrigins []string
	// PageSize is the default page size of the read API.
	PageSize int
}

func SetupRoutes(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(AccessLog(logger.Named("http")))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Hub, d.Navigator, d.CORSOrigins, logger))

	pageSize := d.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	api := &leaderboards{board: d.Board, pageSize: pageSize, logger: logger.Named("api")}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(apiTimeout))
		r.Get("/leaderboards", api.list)
		r.Get("/leaderboards/{category}", api.page)
		r.Post("/leaderboards/refresh", api.refresh)
	})
	return r
}
