// Package store owns the canonical counting state for every channel.
//
// The Store keeps an in-memory cache in front of a durable Backend. Every read
// returns a deep copy and every mutation is a read-modify-write cycle: clone
// the cached state, apply a mutation, replace the cache, write through to the
// backend. Mutations of one channel are serialized; different channels never
// wait on each other.
//
// When a write-through fails the cache keeps the new value and the error is
// returned alongside the updated snapshot, so callers keep serving from memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/owo-counter/internal/goal"
	"github.com/mathieu-neron/owo-counter/internal/metrics"
	"github.com/mathieu-neron/owo-counter/internal/model"
	"github.com/mathieu-neron/owo-counter/internal/repository"
)

// ErrInvalidGoal is returned by SetGoal for non-positive goals.
var ErrInvalidGoal = errors.New("counting goal must be a positive number")

// Backend is durable storage for channel and leaderboard records.
//
// GetChannel returns repository.ErrNotFound for unknown channels.
// DeleteChannel removes the channel record and all of its leaderboard records.
type Backend interface {
	LoadChannels(ctx context.Context) ([]model.ChannelRecord, error)
	LoadLeaderboard(ctx context.Context) ([]model.LeaderboardRecord, error)
	GetChannel(ctx context.Context, channelID string) (model.ChannelRecord, error)
	UpsertChannel(ctx context.Context, rec model.ChannelRecord) error
	UpsertLeaderboardEntry(ctx context.Context, rec model.LeaderboardRecord) error
	DeleteChannel(ctx context.Context, channelID string) error
}

// Store is the single owner of counting state.
type Store struct {
	backend Backend
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	channels map[string]model.ChannelState
	locks    map[string]*sync.Mutex
}

// New creates a Store over backend. The cache is empty until Load is called.
func New(backend Backend, log zerolog.Logger) *Store {
	return &Store{
		backend:  backend,
		log:      log.With().Str("component", "store").Logger(),
		now:      time.Now,
		channels: make(map[string]model.ChannelState),
		locks:    make(map[string]*sync.Mutex),
	}
}

// channelLock returns the mutex serializing read-modify-write cycles for a
// channel.
func (s *Store) channelLock(channelID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[channelID] = l
	}
	return l
}

func (s *Store) cached(channelID string) (model.ChannelState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.channels[channelID]
	return st, ok
}

func (s *Store) put(st model.ChannelState) {
	s.mu.Lock()
	s.channels[st.ChannelID] = st
	s.mu.Unlock()
}

// Load reads every persisted channel and leaderboard record, normalizes them
// and replaces the cache. Expected channels missing from storage are created
// with defaults and persisted. It returns a snapshot of the whole cache.
func (s *Store) Load(ctx context.Context, expectedChannelIDs []string) (map[string]model.ChannelState, error) {
	records, err := s.backend.LoadChannels(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("load channels: %w", err)
	}
	rows, err := s.backend.LoadLeaderboard(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}

	boards := make(map[string][]model.LeaderboardRecord)
	for _, row := range rows {
		boards[row.ChannelID] = append(boards[row.ChannelID], row)
	}

	next := make(map[string]model.ChannelState, len(records))
	for _, rec := range records {
		st := normalizeRecord(rec, model.NewChannelState(rec.ChannelID))
		st.Leaderboard = normalizeLeaderboard(boards[rec.ChannelID])
		next[rec.ChannelID] = st
	}

	for _, id := range expectedChannelIDs {
		if _, ok := next[id]; ok {
			continue
		}
		st := model.NewChannelState(id)
		if err := s.backend.UpsertChannel(ctx, model.RecordFromState(st, s.now())); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("load").Inc()
			return nil, fmt.Errorf("create channel %s: %w", id, err)
		}
		next[id] = st
	}

	s.mu.Lock()
	s.channels = next
	out := make(map[string]model.ChannelState, len(next))
	for id, st := range next {
		out[id] = st.Clone()
	}
	s.mu.Unlock()

	s.log.Info().Int("channels", len(out)).Int("leaderboard_rows", len(rows)).Msg("state loaded")
	return out, nil
}

// Snapshot returns a copy of the cached state, or a fresh default for an
// unknown channel. It never touches the backend.
func (s *Store) Snapshot(channelID string) model.ChannelState {
	if st, ok := s.cached(channelID); ok {
		return st.Clone()
	}
	return model.NewChannelState(channelID)
}

// Channels returns the ids of all cached channels, sorted.
func (s *Store) Channels() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// EnsureChannel creates and persists a default state if the channel is
// unknown, and returns its snapshot.
func (s *Store) EnsureChannel(ctx context.Context, channelID string) (model.ChannelState, error) {
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	if st, ok := s.cached(channelID); ok {
		return st.Clone(), nil
	}
	st := model.NewChannelState(channelID)
	s.put(st)
	return st.Clone(), s.persistChannel(ctx, "ensure", st)
}

// ResetChannel deletes the channel and its leaderboard from the backend and
// recreates it at zero with initialGoal as an auto goal. A non-positive
// initialGoal falls back to goal.DefaultStartingGoal.
func (s *Store) ResetChannel(ctx context.Context, channelID string, initialGoal int64) (model.ChannelState, error) {
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	if initialGoal <= 0 {
		initialGoal = goal.DefaultStartingGoal
	}

	if err := s.backend.DeleteChannel(ctx, channelID); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("reset").Inc()
		return s.Snapshot(channelID), fmt.Errorf("delete channel %s: %w", channelID, err)
	}

	st := model.NewChannelState(channelID)
	st.Goal = initialGoal
	st.GoalSource = model.GoalSourceAuto
	s.put(st)
	return st.Clone(), s.persistChannel(ctx, "reset", st)
}

// RefreshChannel re-reads the channel record and merges its numeric fields
// into the cache. The cached leaderboard is kept. A missing record is
// recreated from the cached copy.
func (s *Store) RefreshChannel(ctx context.Context, channelID string) (model.ChannelState, error) {
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	current, ok := s.cached(channelID)
	if !ok {
		current = model.NewChannelState(channelID)
	}

	rec, err := s.backend.GetChannel(ctx, channelID)
	if errors.Is(err, repository.ErrNotFound) {
		s.put(current)
		return current.Clone(), s.persistChannel(ctx, "refresh", current)
	}
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("refresh").Inc()
		return current.Clone(), fmt.Errorf("refresh channel %s: %w", channelID, err)
	}

	updated := normalizeRecord(rec, current)
	updated.Leaderboard = current.Leaderboard
	s.put(updated)
	return updated.Clone(), nil
}

// RecordCount accepts nextNumber from userID: it sets the last number and
// increments the user's leaderboard entry. Other entries are untouched.
func (s *Store) RecordCount(ctx context.Context, channelID, userID, displayName string, nextNumber int64) (model.ChannelState, error) {
	var entry model.LeaderboardEntry
	st, err := s.update(ctx, "record_count", channelID, func(st *model.ChannelState) {
		st.LastNumber = nextNumber
		entry = st.Leaderboard[userID]
		entry.UserID = userID
		entry.DisplayName = displayName
		entry.Count++
		st.Leaderboard[userID] = entry
	})

	// the leaderboard row is written even when the channel row failed
	rec := model.LeaderboardRecord{
		ChannelID:   channelID,
		UserID:      entry.UserID,
		DisplayName: entry.DisplayName,
		Count:       entry.Count,
		UpdatedAt:   s.now(),
	}
	if lbErr := s.backend.UpsertLeaderboardEntry(ctx, rec); lbErr != nil {
		metrics.StoreErrorsTotal.WithLabelValues("record_count").Inc()
		err = errors.Join(err, fmt.Errorf("persist leaderboard %s/%s: %w", channelID, userID, lbErr))
	}
	return st, err
}

// SetTopicPage stores the leaderboard page shown on the next refresh.
// Negative pages are clamped to zero.
func (s *Store) SetTopicPage(ctx context.Context, channelID string, page int64) (model.ChannelState, error) {
	return s.update(ctx, "set_topic_page", channelID, func(st *model.ChannelState) {
		st.TopicPage = max(0, page)
	})
}

// SetGoal assigns a goal. Manual goals also become the manual baseline.
// Non-positive goals are rejected with ErrInvalidGoal.
func (s *Store) SetGoal(ctx context.Context, channelID string, g int64, source model.GoalSource) (model.ChannelState, error) {
	if g <= 0 {
		return model.ChannelState{}, fmt.Errorf("%w: got %d", ErrInvalidGoal, g)
	}
	return s.update(ctx, "set_goal", channelID, func(st *model.ChannelState) {
		st.Goal = g
		st.GoalSource = source
		if source == model.GoalSourceManual {
			st.ManualBaseline = g
		}
	})
}

func (s *Store) update(ctx context.Context, op, channelID string, mutate func(*model.ChannelState)) (model.ChannelState, error) {
	l := s.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	current, ok := s.cached(channelID)
	if !ok {
		current = model.NewChannelState(channelID)
	}
	draft := current.Clone()
	mutate(&draft)

	s.put(draft)
	return draft.Clone(), s.persistChannel(ctx, op, draft)
}

func (s *Store) persistChannel(ctx context.Context, op string, st model.ChannelState) error {
	if err := s.backend.UpsertChannel(ctx, model.RecordFromState(st, s.now())); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
		return fmt.Errorf("persist channel %s: %w", st.ChannelID, err)
	}
	return nil
}

// normalizeRecord builds a state from rec. Null counters fall back to the
// values in base; null goals stay unset. Negative values clamp to safe
// defaults.
func normalizeRecord(rec model.ChannelRecord, base model.ChannelState) model.ChannelState {
	st := model.NewChannelState(base.ChannelID)
	st.LastNumber = base.LastNumber
	st.TopicPage = base.TopicPage
	if rec.LastNumber != nil {
		st.LastNumber = *rec.LastNumber
	}
	if rec.TopicPage != nil {
		st.TopicPage = *rec.TopicPage
	}
	st.LastNumber = max(0, st.LastNumber)
	st.TopicPage = max(0, st.TopicPage)

	if rec.Goal != nil && *rec.Goal > 0 {
		st.Goal = *rec.Goal
	}
	st.GoalSource = model.ParseGoalSource(rec.GoalSource)
	if rec.ManualBaseline != nil && *rec.ManualBaseline > 0 {
		st.ManualBaseline = *rec.ManualBaseline
	}
	return st
}

func normalizeLeaderboard(rows []model.LeaderboardRecord) map[string]model.LeaderboardEntry {
	out := make(map[string]model.LeaderboardEntry, len(rows))
	for _, row := range rows {
		if row.UserID == "" {
			continue
		}
		name := strings.TrimSpace(row.DisplayName)
		if name == "" {
			name = model.DefaultDisplayName
		}
		out[row.UserID] = model.LeaderboardEntry{
			UserID:      row.UserID,
			DisplayName: name,
			Count:       max(0, row.Count),
		}
	}
	return out
}
