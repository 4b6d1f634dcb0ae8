package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DoyleJ11/statboard/internal/avatar"
	"github.com/DoyleJ11/statboard/internal/config"
	"github.com/DoyleJ11/statboard/internal/httpapi"
	"github.com/DoyleJ11/statboard/internal/hub"
	"github.com/DoyleJ11/statboard/internal/logging"
	"github.com/DoyleJ11/statboard/internal/menu"
	"github.com/DoyleJ11/statboard/internal/publisher"
	"github.com/DoyleJ11/statboard/internal/session"
	"github.com/DoyleJ11/statboard/internal/source"
	"github.com/DoyleJ11/statboard/internal/stats"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closeSource, err := openSource(ctx, cfg.Store.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	avatars := avatar.NewCache(
		avatar.NewHTTPResolver(cfg.Avatar.URLTemplate, cfg.Avatar.Timeout),
		avatar.WithDuration(cfg.Avatar.CacheDuration),
		avatar.WithLogger(logger),
	)

	cacheOpts := []stats.Option{
		stats.WithInterval(cfg.Leaderboard.RefreshInterval),
		stats.WithWorkers(cfg.Leaderboard.Workers),
		stats.WithLogger(logger),
		stats.WithSweeper(avatars),
	}
	if cfg.Store.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.Store.RedisURL, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cacheOpts = append(cacheOpts, stats.WithPublisher(
			publisher.NewStreamPublisher(rdb, cfg.Store.RedisStream, cfg.Leaderboard.Categories)))
	}

	// Background work gets its own context so shutdown can stop it in order
	// after the listener has drained.
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	board := stats.NewCache(appCtx, src, cfg.Leaderboard.Categories, cacheOpts...)
	board.Start()

	h := hub.NewHub(appCtx, logger)
	ctrl := menu.NewController(appCtx, board, avatars, session.NewStore(), h, cfg.Leaderboard.Categories,
		menu.WithPageSize(cfg.Leaderboard.PageSize),
		menu.WithLogger(logger),
	)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:         h,
			Board:       board,
			Navigator:   ctrl,
			Logger:      logger,
			CORSOrigins: cfg.Server.CORSOrigins,
			PageSize:    cfg.Leaderboard.PageSize,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	// Closing the hub ends every websocket, which lets Shutdown finish.
	h.Inbox() <- hub.Shutdown{}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	ctrl.Close()
	board.Close()
	avatars.Clear()
	return nil
}

// openSource connects to Postgres when a DSN is configured and falls back to
// an empty in-memory source otherwise.
func openSource(ctx context.Context, dsn string, logger *zap.Logger) (stats.Source, func(), error) {
	if dsn == "" {
		logger.Warn("DATABASE_URL not set, serving an empty in-memory source")
		return source.NewMemory(), func() {}, nil
	}
	pg, err := source.Connect(ctx, dsn, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("migrating: %w", err)
	}
	return pg, pg.Close, nil
}

func openRedis(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Refresh events are best effort; the leaderboard works without them.
		logger.Warn("redis unreachable, refresh events will fail until it is back", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}
	return rdb, nil
}
