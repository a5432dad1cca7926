package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mathieu-neron/owo-counter/internal/model"
)

const channelIndexKey = "counting:channels"

// RedisRepo stores counting state as documents: one hash per channel and one
// hash per channel leaderboard (user id → JSON document). A set indexes the
// known channel ids.
type RedisRepo struct {
	rdb *redis.Client
}

func NewRedisRepo(rdb *redis.Client) *RedisRepo {
	return &RedisRepo{rdb: rdb}
}

// leaderboardDoc is the JSON value stored per user in a leaderboard hash.
type leaderboardDoc struct {
	DisplayName string    `json:"displayName"`
	Count       int64     `json:"count"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LoadChannels returns every indexed channel document.
func (r *RedisRepo) LoadChannels(ctx context.Context) ([]model.ChannelRecord, error) {
	ids, err := r.rdb.SMembers(ctx, channelIndexKey).Result()
	if err != nil {
		return nil, err
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, channelKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]model.ChannelRecord, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		records = append(records, decodeChannel(id, fields))
	}
	return records, nil
}

// LoadLeaderboard returns the leaderboard documents of every indexed channel.
func (r *RedisRepo) LoadLeaderboard(ctx context.Context) ([]model.LeaderboardRecord, error) {
	ids, err := r.rdb.SMembers(ctx, channelIndexKey).Result()
	if err != nil {
		return nil, err
	}

	var records []model.LeaderboardRecord
	for _, id := range ids {
		entries, err := r.rdb.HGetAll(ctx, leaderboardKey(id)).Result()
		if err != nil {
			return nil, err
		}
		for userID, raw := range entries {
			var doc leaderboardDoc
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				// Unreadable documents load as an empty entry and get
				// normalized by the store.
				doc = leaderboardDoc{}
			}
			records = append(records, model.LeaderboardRecord{
				ChannelID:   id,
				UserID:      userID,
				DisplayName: doc.DisplayName,
				Count:       doc.Count,
				UpdatedAt:   doc.UpdatedAt,
			})
		}
	}
	return records, nil
}

// GetChannel returns one channel document, or ErrNotFound.
func (r *RedisRepo) GetChannel(ctx context.Context, channelID string) (model.ChannelRecord, error) {
	fields, err := r.rdb.HGetAll(ctx, channelKey(channelID)).Result()
	if err != nil {
		return model.ChannelRecord{}, err
	}
	if len(fields) == 0 {
		return model.ChannelRecord{}, ErrNotFound
	}
	return decodeChannel(channelID, fields), nil
}

// UpsertChannel writes the channel document and indexes it.
func (r *RedisRepo) UpsertChannel(ctx context.Context, rec model.ChannelRecord) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, channelKey(rec.ChannelID), map[string]any{
			"channel_id":      rec.ChannelID,
			"last_number":     formatNullable(rec.LastNumber),
			"topic_page":      formatNullable(rec.TopicPage),
			"goal":            formatNullable(rec.Goal),
			"goal_source":     rec.GoalSource,
			"manual_baseline": formatNullable(rec.ManualBaseline),
			"updated_at":      rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
		p.SAdd(ctx, channelIndexKey, rec.ChannelID)
		return nil
	})
	return err
}

// UpsertLeaderboardEntry writes one user's document in the channel's
// leaderboard hash.
func (r *RedisRepo) UpsertLeaderboardEntry(ctx context.Context, rec model.LeaderboardRecord) error {
	b, err := json.Marshal(leaderboardDoc{
		DisplayName: rec.DisplayName,
		Count:       rec.Count,
		UpdatedAt:   rec.UpdatedAt.UTC(),
	})
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, leaderboardKey(rec.ChannelID), rec.UserID, b).Err()
}

// DeleteChannel removes the channel document, its leaderboard and its index
// entry in one transaction.
func (r *RedisRepo) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, leaderboardKey(channelID), channelKey(channelID))
		p.SRem(ctx, channelIndexKey, channelID)
		return nil
	})
	return err
}

// Reset deletes every indexed channel and leaderboard and reports how many
// documents were removed.
func (r *RedisRepo) Reset(ctx context.Context) (channels, entries int64, err error) {
	ids, err := r.rdb.SMembers(ctx, channelIndexKey).Result()
	if err != nil {
		return 0, 0, err
	}
	for _, id := range ids {
		n, err := r.rdb.HLen(ctx, leaderboardKey(id)).Result()
		if err != nil {
			return channels, entries, err
		}
		if err := r.DeleteChannel(ctx, id); err != nil {
			return channels, entries, err
		}
		channels++
		entries += n
	}
	return channels, entries, nil
}

func decodeChannel(channelID string, fields map[string]string) model.ChannelRecord {
	rec := model.ChannelRecord{
		ChannelID:      channelID,
		LastNumber:     parseNullable(fields["last_number"]),
		TopicPage:      parseNullable(fields["topic_page"]),
		Goal:           parseNullable(fields["goal"]),
		GoalSource:     fields["goal_source"],
		ManualBaseline: parseNullable(fields["manual_baseline"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}
	return rec
}

// parseNullable treats empty and unparseable values as null.
func parseNullable(raw string) *int64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func formatNullable(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func channelKey(channelID string) string {
	return fmt.Sprintf("counting:channel:%s", channelID)
}

func leaderboardKey(channelID string) string {
	return fmt.Sprintf("counting:leaderboard:%s", channelID)
}
