package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema creates the counting tables. Leaderboard rows are removed together
// with their channel.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS counting_channels (
		channel_id      TEXT PRIMARY KEY,
		last_number     BIGINT NOT NULL DEFAULT 0 CHECK (last_number >= 0),
		topic_page      BIGINT NOT NULL DEFAULT 0 CHECK (topic_page >= 0),
		goal            BIGINT,
		goal_source     TEXT NOT NULL DEFAULT 'auto' CHECK (goal_source IN ('auto', 'manual')),
		manual_baseline BIGINT,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS counting_channels_updated_at_idx ON counting_channels (updated_at)`,
	`CREATE TABLE IF NOT EXISTS counting_leaderboard (
		channel_id   TEXT NOT NULL REFERENCES counting_channels (channel_id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL,
		display_name TEXT NOT NULL,
		count        BIGINT NOT NULL DEFAULT 0 CHECK (count >= 0),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (channel_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS counting_leaderboard_channel_idx ON counting_leaderboard (channel_id)`,
}

// EnsureSchema creates the counting tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
