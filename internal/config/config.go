package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/statboard/internal/avatar"
	"github.com/DoyleJ11/statboard/internal/menu"
	"github.com/DoyleJ11/statboard/internal/publisher"
	"github.com/DoyleJ11/statboard/internal/stats"
)

var ErrInvalid = errors.New("invalid configuration")

type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

type LeaderboardConfig struct {
	RefreshInterval time.Duration
	Workers         int
	PageSize        int
	Categories      []stats.Category
}

type AvatarConfig struct {
	CacheDuration time.Duration
	URLTemplate   string
	Timeout       time.Duration
}

// StoreConfig names the external stores. Empty values mean the store is not
// used.
type StoreConfig struct {
	DatabaseURL string
	RedisURL    string
	RedisStream string
}

type LogConfig struct {
	Level       string
	Development bool
}

type Config struct {
	Server      ServerConfig
	Leaderboard LeaderboardConfig
	Avatar      AvatarConfig
	Store       StoreConfig
	Log         LogConfig
}

// Load reads an optional .env file and then the environment. Every invalid
// value is reported, not just the first.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var errs error
	cfg := &Config{
		Server: ServerConfig{
			Addr:        getEnv("SERVER_ADDR", ":8080"),
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		},
		Leaderboard: LeaderboardConfig{
			RefreshInterval: getDuration("REFRESH_INTERVAL", stats.DefaultRefreshInterval, &errs),
			Workers:         getInt("REFRESH_WORKERS", stats.DefaultWorkers, &errs),
			PageSize:        getInt("PAGE_SIZE", menu.MaxRowsPerPage, &errs),
		},
		Avatar: AvatarConfig{
			CacheDuration: getDuration("AVATAR_CACHE_DURATION", avatar.DefaultCacheDuration, &errs),
			URLTemplate:   getEnv("AVATAR_URL_TEMPLATE", avatar.DefaultURLTemplate),
			Timeout:       getDuration("AVATAR_TIMEOUT", 3*time.Second, &errs),
		},
		Store: StoreConfig{
			DatabaseURL: getEnv("DATABASE_URL", ""),
			RedisURL:    getEnv("REDIS_URL", ""),
			RedisStream: getEnv("REDIS_STREAM", publisher.DefaultStream),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getBool("LOG_DEVELOPMENT", false, &errs),
		},
	}

	cats, err := stats.LookupCategories(splitList(getEnv("CATEGORIES", "Kills,Deaths,Playtime")))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("CATEGORIES: %w", err))
	}
	cfg.Leaderboard.Categories = cats

	if cfg.Leaderboard.PageSize < 1 || cfg.Leaderboard.PageSize > menu.MaxRowsPerPage {
		errs = multierr.Append(errs, fmt.Errorf("PAGE_SIZE must be between 1 and %d", menu.MaxRowsPerPage))
	}
	if cfg.Leaderboard.RefreshInterval <= 0 {
		errs = multierr.Append(errs, errors.New("REFRESH_INTERVAL must be positive"))
	}
	if cfg.Leaderboard.Workers < 1 {
		errs = multierr.Append(errs, errors.New("REFRESH_WORKERS must be positive"))
	}
	if cfg.Avatar.CacheDuration <= 0 {
		errs = multierr.Append(errs, errors.New("AVATAR_CACHE_DURATION must be positive"))
	}
	if strings.Count(cfg.Avatar.URLTemplate, "%s") != 1 {
		errs = multierr.Append(errs, errors.New("AVATAR_URL_TEMPLATE must contain exactly one %s"))
	}

	if errs != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errs)
	}
	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration, errs *error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func getInt(key string, defaultValue int, errs *error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool, errs *error) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
