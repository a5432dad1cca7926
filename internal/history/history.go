// Package history rebuilds a channel's count from its message history.
package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/owo-counter/internal/metrics"
	"github.com/mathieu-neron/owo-counter/internal/model"
	"github.com/mathieu-neron/owo-counter/internal/submission"
)

const (
	// DefaultFetchLimit is how many messages are scanned when no limit is
	// configured.
	DefaultFetchLimit = 1000
	// BatchSize is the most messages requested per fetch.
	BatchSize = 100
)

// Fetcher pages backwards through a channel's messages. It returns up to
// limit messages older than beforeID (newest first when beforeID is empty),
// ordered newest to oldest.
type Fetcher interface {
	MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]model.Message, error)
}

// Recorder accepts replayed counts.
type Recorder interface {
	RecordCount(ctx context.Context, channelID, userID, displayName string, nextNumber int64) (model.ChannelState, error)
}

// Collect fetches the newest limit messages of a channel in batches and
// returns them oldest first.
func Collect(ctx context.Context, f Fetcher, channelID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	collected := make([]model.Message, 0, limit)
	before := ""
	for len(collected) < limit {
		batch, err := f.MessagesBefore(ctx, channelID, before, min(BatchSize, limit-len(collected)))
		if err != nil {
			return nil, fmt.Errorf("fetch messages before %q: %w", before, err)
		}
		if len(batch) == 0 {
			break
		}
		collected = append(collected, batch...)

		before = batch[len(batch)-1].ID
		if before == "" {
			break
		}
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].CreatedAt.Before(collected[j].CreatedAt)
	})
	if len(collected) > limit {
		collected = collected[len(collected)-limit:]
	}
	return collected, nil
}

// Replay walks the channel history in order and records every count that
// extends state.LastNumber by one. Bot messages, non-counting messages and
// values already reached are skipped; the first gap ends the replay. It
// returns the resulting state and the number of replayed counts.
func Replay(ctx context.Context, rec Recorder, f Fetcher, state model.ChannelState, log zerolog.Logger, limit int) (model.ChannelState, int, error) {
	messages, err := Collect(ctx, f, state.ChannelID, limit)
	if err != nil {
		return state, 0, err
	}

	current := state.LastNumber
	replayed := 0
	for _, msg := range messages {
		if msg.Bot {
			continue
		}
		sub, ok := submission.Parse(msg.Content)
		if !ok {
			continue
		}
		if !sub.InRange {
			log.Info().
				Str("channel_id", state.ChannelID).
				Int64("expected", current+1).
				Str("found", sub.String()).
				Msg("history gap, replay stopped")
			break
		}
		if sub.Value <= current {
			continue
		}
		if sub.Value != current+1 {
			log.Info().
				Str("channel_id", state.ChannelID).
				Int64("expected", current+1).
				Int64("found", sub.Value).
				Msg("history gap, replay stopped")
			break
		}

		next, err := rec.RecordCount(ctx, state.ChannelID, msg.AuthorID, submission.DisplayName(msg.AuthorName), sub.Value)
		state = next
		if err != nil {
			// the cache already holds the count; keep replaying from memory
			log.Error().Err(err).Str("channel_id", state.ChannelID).Msg("failed to persist replayed count")
		}
		current = sub.Value
		replayed++
	}

	metrics.HistoryReplayedTotal.Add(float64(replayed))
	log.Info().Str("channel_id", state.ChannelID).Int("replayed", replayed).Int64("last_number", current).Msg("history replayed")
	return state, replayed, nil
}
