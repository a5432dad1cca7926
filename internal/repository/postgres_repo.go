package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/owo-counter/internal/model"
)

// PostgresRepo stores counting state in two relational tables:
// counting_channels and counting_leaderboard, the latter foreign-keyed to the
// former with ON DELETE CASCADE (see db.EnsureSchema).
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// LoadChannels returns every channel row.
func (r *PostgresRepo) LoadChannels(ctx context.Context) ([]model.ChannelRecord, error) {
	query := `
		SELECT channel_id, last_number, topic_page, goal, goal_source, manual_baseline, updated_at
		FROM counting_channels`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ChannelRecord
	for rows.Next() {
		rec, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadLeaderboard returns every leaderboard row across all channels.
func (r *PostgresRepo) LoadLeaderboard(ctx context.Context) ([]model.LeaderboardRecord, error) {
	query := `
		SELECT channel_id, user_id, display_name, count, updated_at
		FROM counting_leaderboard`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.LeaderboardRecord
	for rows.Next() {
		var rec model.LeaderboardRecord
		if err := rows.Scan(&rec.ChannelID, &rec.UserID, &rec.DisplayName, &rec.Count, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetChannel returns a single channel row, or ErrNotFound.
func (r *PostgresRepo) GetChannel(ctx context.Context, channelID string) (model.ChannelRecord, error) {
	query := `
		SELECT channel_id, last_number, topic_page, goal, goal_source, manual_baseline, updated_at
		FROM counting_channels
		WHERE channel_id = $1`

	rec, err := scanChannel(r.pool.QueryRow(ctx, query, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ChannelRecord{}, ErrNotFound
	}
	return rec, err
}

// UpsertChannel inserts or overwrites a channel row.
func (r *PostgresRepo) UpsertChannel(ctx context.Context, rec model.ChannelRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO counting_channels
			(channel_id, last_number, topic_page, goal, goal_source, manual_baseline, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (channel_id) DO UPDATE
		SET last_number = EXCLUDED.last_number,
		    topic_page = EXCLUDED.topic_page,
		    goal = EXCLUDED.goal,
		    goal_source = EXCLUDED.goal_source,
		    manual_baseline = EXCLUDED.manual_baseline,
		    updated_at = EXCLUDED.updated_at`,
		rec.ChannelID, rec.LastNumber, rec.TopicPage, rec.Goal, rec.GoalSource, rec.ManualBaseline, rec.UpdatedAt)
	return err
}

// UpsertLeaderboardEntry inserts or overwrites a single (channel, user) row.
func (r *PostgresRepo) UpsertLeaderboardEntry(ctx context.Context, rec model.LeaderboardRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO counting_leaderboard (channel_id, user_id, display_name, count, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id, user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    count = EXCLUDED.count,
		    updated_at = EXCLUDED.updated_at`,
		rec.ChannelID, rec.UserID, rec.DisplayName, rec.Count, rec.UpdatedAt)
	return err
}

// DeleteChannel removes the channel row. Leaderboard rows go with it through
// the cascade; they are also deleted explicitly so a schema without the
// constraint still ends up clean.
func (r *PostgresRepo) DeleteChannel(ctx context.Context, channelID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM counting_leaderboard WHERE channel_id = $1`, channelID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM counting_channels WHERE channel_id = $1`, channelID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Reset deletes every counting row and reports how many were removed.
func (r *PostgresRepo) Reset(ctx context.Context) (channels, entries int64, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM counting_leaderboard`)
	if err != nil {
		return 0, 0, err
	}
	entries = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM counting_channels`)
	if err != nil {
		return 0, 0, err
	}
	channels = tag.RowsAffected()

	return channels, entries, tx.Commit(ctx)
}

func scanChannel(row pgx.Row) (model.ChannelRecord, error) {
	var rec model.ChannelRecord
	err := row.Scan(
		&rec.ChannelID, &rec.LastNumber, &rec.TopicPage, &rec.Goal,
		&rec.GoalSource, &rec.ManualBaseline, &rec.UpdatedAt,
	)
	return rec, err
}
