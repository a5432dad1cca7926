package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/owo-counter/internal/db"
	"github.com/mathieu-neron/owo-counter/internal/model"
)

// Repo is the full surface every backend adapter implements.
type Repo interface {
	LoadChannels(ctx context.Context) ([]model.ChannelRecord, error)
	LoadLeaderboard(ctx context.Context) ([]model.LeaderboardRecord, error)
	GetChannel(ctx context.Context, channelID string) (model.ChannelRecord, error)
	UpsertChannel(ctx context.Context, rec model.ChannelRecord) error
	UpsertLeaderboardEntry(ctx context.Context, rec model.LeaderboardRecord) error
	DeleteChannel(ctx context.Context, channelID string) error
	// Reset deletes every channel and leaderboard record.
	Reset(ctx context.Context) (channels, entries int64, err error)
}

// Connection is an opened backend. Pool and Redis are set only for the
// backend that uses them.
type Connection struct {
	Repo  Repo
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Close releases the backend's connections.
func (c *Connection) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
}

// Open connects the named backend: "postgres" (schema is created when
// missing), "redis" or "memory".
func Open(ctx context.Context, backend, databaseURL, redisURL string, log zerolog.Logger) (*Connection, error) {
	switch backend {
	case "postgres":
		pool, err := db.NewPool(ctx, databaseURL, log)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Connection{Repo: NewPostgresRepo(pool), Pool: pool}, nil
	case "redis":
		rdb, err := db.NewRedis(ctx, redisURL, log)
		if err != nil {
			return nil, err
		}
		return &Connection{Repo: NewRedisRepo(rdb), Redis: rdb}, nil
	case "memory":
		log.Warn().Msg("memory backend selected, counting state is not durable")
		return &Connection{Repo: NewMemoryRepo()}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
