package repository

import (
	"context"
	"sync"

	"github.com/mathieu-neron/owo-counter/internal/model"
)

// MemoryRepo is a process-local backend. It is used by tests and by
// STORAGE_BACKEND=memory for running the bot without a database.
type MemoryRepo struct {
	mu          sync.Mutex
	channels    map[string]model.ChannelRecord
	leaderboard map[string]map[string]model.LeaderboardRecord

	// Fail, when set, is consulted before every operation; a non-nil result
	// is returned as the operation's error.
	Fail func(op string) error
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		channels:    make(map[string]model.ChannelRecord),
		leaderboard: make(map[string]map[string]model.LeaderboardRecord),
	}
}

func (r *MemoryRepo) fail(op string) error {
	if r.Fail == nil {
		return nil
	}
	return r.Fail(op)
}

func (r *MemoryRepo) LoadChannels(_ context.Context) ([]model.ChannelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("load_channels"); err != nil {
		return nil, err
	}
	out := make([]model.ChannelRecord, 0, len(r.channels))
	for _, rec := range r.channels {
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

func (r *MemoryRepo) LoadLeaderboard(_ context.Context) ([]model.LeaderboardRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("load_leaderboard"); err != nil {
		return nil, err
	}
	var out []model.LeaderboardRecord
	for _, entries := range r.leaderboard {
		for _, rec := range entries {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *MemoryRepo) GetChannel(_ context.Context, channelID string) (model.ChannelRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("get_channel"); err != nil {
		return model.ChannelRecord{}, err
	}
	rec, ok := r.channels[channelID]
	if !ok {
		return model.ChannelRecord{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (r *MemoryRepo) UpsertChannel(_ context.Context, rec model.ChannelRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("upsert_channel"); err != nil {
		return err
	}
	r.channels[rec.ChannelID] = copyRecord(rec)
	return nil
}

func (r *MemoryRepo) UpsertLeaderboardEntry(_ context.Context, rec model.LeaderboardRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("upsert_leaderboard"); err != nil {
		return err
	}
	entries, ok := r.leaderboard[rec.ChannelID]
	if !ok {
		entries = make(map[string]model.LeaderboardRecord)
		r.leaderboard[rec.ChannelID] = entries
	}
	entries[rec.UserID] = rec
	return nil
}

func (r *MemoryRepo) DeleteChannel(_ context.Context, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("delete_channel"); err != nil {
		return err
	}
	delete(r.channels, channelID)
	delete(r.leaderboard, channelID)
	return nil
}

// Reset deletes everything and reports how many records were removed.
func (r *MemoryRepo) Reset(_ context.Context) (channels, entries int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("reset"); err != nil {
		return 0, 0, err
	}
	channels = int64(len(r.channels))
	for _, e := range r.leaderboard {
		entries += int64(len(e))
	}
	r.channels = make(map[string]model.ChannelRecord)
	r.leaderboard = make(map[string]map[string]model.LeaderboardRecord)
	return channels, entries, nil
}

// PutChannel stores rec verbatim. Tests use it to seed malformed rows or to
// simulate writes by another process.
func (r *MemoryRepo) PutChannel(rec model.ChannelRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[rec.ChannelID] = copyRecord(rec)
}

// PutLeaderboard stores rec verbatim.
func (r *MemoryRepo) PutLeaderboard(rec model.LeaderboardRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, ok := r.leaderboard[rec.ChannelID]
	if !ok {
		entries = make(map[string]model.LeaderboardRecord)
		r.leaderboard[rec.ChannelID] = entries
	}
	entries[rec.UserID] = rec
}

// Leaderboard returns the persisted rows of one channel keyed by user id.
func (r *MemoryRepo) Leaderboard(channelID string) map[string]model.LeaderboardRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]model.LeaderboardRecord, len(r.leaderboard[channelID]))
	for id, rec := range r.leaderboard[channelID] {
		out[id] = rec
	}
	return out
}

func copyRecord(rec model.ChannelRecord) model.ChannelRecord {
	out := rec
	out.LastNumber = copyInt(rec.LastNumber)
	out.TopicPage = copyInt(rec.TopicPage)
	out.Goal = copyInt(rec.Goal)
	out.ManualBaseline = copyInt(rec.ManualBaseline)
	return out
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
