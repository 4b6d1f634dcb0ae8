package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/statboard/internal/stats"
)

const connectTimeout = 5 * time.Second

// Player is a row of the host's players table.
type Player struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	FirstPlayed *time.Time
}

// PlayerStatistic is one raw counter for one player.
type PlayerStatistic struct {
	PlayerID  string `gorm:"primaryKey"`
	Statistic string `gorm:"primaryKey"`
	Value     int64
}

// Postgres reads entities and counters written by the host into Postgres.
type Postgres struct {
	db     *gorm.DB
	pool   *pgxpool.Pool
	logger *zap.Logger

	// firstPlayed caches the activity flag from the last enumeration so
	// HasActivity does not need a query of its own.
	mu          sync.RWMutex
	firstPlayed map[string]bool
}

// Connect opens a pgx pool for dsn and layers gorm on top of it.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("opening gorm: %w", err)
	}

	log.Named("source").Info("connected to postgres")
	return &Postgres{db: db, pool: pool, logger: log.Named("source"), firstPlayed: map[string]bool{}}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&Player{}, &PlayerStatistic{})
}

func (p *Postgres) ListKnownEntities(ctx context.Context) ([]stats.Entity, error) {
	var players []Player
	if err := p.db.WithContext(ctx).Order("id").Find(&players).Error; err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}

	played := make(map[string]bool, len(players))
	out := make([]stats.Entity, 0, len(players))
	for _, pl := range players {
		played[pl.ID] = pl.FirstPlayed != nil
		out = append(out, stats.Entity{ID: pl.ID, Name: pl.Name})
	}
	p.mu.Lock()
	p.firstPlayed = played
	p.mu.Unlock()
	p.logger.Debug("listed players", zap.Int("players", len(out)))
	return out, nil
}

func (p *Postgres) HasActivity(_ context.Context, e stats.Entity) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.firstPlayed[e.ID]
}

// Counter returns 0 for a statistic the player has never recorded.
func (p *Postgres) Counter(ctx context.Context, e stats.Entity, counter string) (int64, error) {
	var stat PlayerStatistic
	err := p.db.WithContext(ctx).
		Where("player_id = ? AND statistic = ?", e.ID, counter).
		Take(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s for %s: %w", counter, e.ID, err)
	}
	return stat.Value, nil
}
