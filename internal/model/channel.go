package model

import "time"

// DefaultDisplayName is used when a persisted leaderboard row carries an
// empty or whitespace-only display name.
const DefaultDisplayName = "Anonymous"

// GoalSource records where the current goal came from.
type GoalSource string

const (
	GoalSourceAuto   GoalSource = "auto"
	GoalSourceManual GoalSource = "manual"
)

// ParseGoalSource maps anything other than "manual" to GoalSourceAuto.
func ParseGoalSource(raw string) GoalSource {
	if raw == string(GoalSourceManual) {
		return GoalSourceManual
	}
	return GoalSourceAuto
}

// ChannelConfig is the per-channel configuration supplied at startup.
type ChannelConfig struct {
	ChannelID   string `json:"channelId"`
	WebhookURL  string `json:"webhookUrl"`
	InitialGoal int64  `json:"initialGoal,omitempty"` // 0 means not configured
}

// LeaderboardEntry is one participant's accepted-submission tally.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Count       int64  `json:"count"`
}

// ChannelState is the aggregate root for a counting channel.
//
// Values handed out by the store are deep copies; mutating one never affects
// the store's cached copy.
type ChannelState struct {
	ChannelID      string                      `json:"channelId"`
	LastNumber     int64                       `json:"lastNumber"`
	TopicPage      int64                       `json:"topicPage"`
	Leaderboard    map[string]LeaderboardEntry `json:"leaderboard"`
	Goal           int64                       `json:"goal,omitempty"` // 0 means unset
	GoalSource     GoalSource                  `json:"goalSource"`
	ManualBaseline int64                       `json:"manualBaseline,omitempty"`
}

// NewChannelState returns the all-zero default state for a channel.
func NewChannelState(channelID string) ChannelState {
	return ChannelState{
		ChannelID:   channelID,
		Leaderboard: make(map[string]LeaderboardEntry),
		GoalSource:  GoalSourceAuto,
	}
}

// Clone returns a deep copy of the state.
func (s ChannelState) Clone() ChannelState {
	out := s
	out.Leaderboard = make(map[string]LeaderboardEntry, len(s.Leaderboard))
	for id, entry := range s.Leaderboard {
		out.Leaderboard[id] = entry
	}
	return out
}

// ChannelRecord is the persisted shape of a channel row or document. Nil
// pointers are null or unparseable columns.
type ChannelRecord struct {
	ChannelID      string
	LastNumber     *int64
	TopicPage      *int64
	Goal           *int64
	GoalSource     string
	ManualBaseline *int64
	UpdatedAt      time.Time
}

// LeaderboardRecord is the persisted shape of a leaderboard row, keyed by
// (ChannelID, UserID).
type LeaderboardRecord struct {
	ChannelID   string
	UserID      string
	DisplayName string
	Count       int64
	UpdatedAt   time.Time
}

// RecordFromState converts a state into its persisted channel shape.
func RecordFromState(s ChannelState, now time.Time) ChannelRecord {
	last, page := s.LastNumber, s.TopicPage
	rec := ChannelRecord{
		ChannelID:  s.ChannelID,
		LastNumber: &last,
		TopicPage:  &page,
		GoalSource: string(s.GoalSource),
		UpdatedAt:  now,
	}
	if s.Goal > 0 {
		goal := s.Goal
		rec.Goal = &goal
	}
	if s.ManualBaseline > 0 {
		baseline := s.ManualBaseline
		rec.ManualBaseline = &baseline
	}
	return rec
}
