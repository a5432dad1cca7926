// Package topic renders a counting channel's display name and topic.
package topic

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mathieu-neron/owo-counter/internal/goal"
	"github.com/mathieu-neron/owo-counter/internal/model"
)

const (
	// MaxNameLength is the platform's channel name limit, in characters.
	MaxNameLength = 100
	// MaxTopicLength is the platform's channel topic limit, in characters.
	MaxTopicLength = 1024
	// PageSize is the number of leaderboard entries per topic page.
	PageSize = 10
)

var (
	nonDigitRe = regexp.MustCompile(`[^0-9]`)
	markdownRe = regexp.MustCompile("[\\\\*_`~|]")
)

// Topic is a rendered topic plus the page to show on the next refresh.
type Topic struct {
	Text     string
	NextPage int64
}

// ChannelName renders the channel name, embedding the last number and the
// effective goal (never below the last number).
func ChannelName(state model.ChannelState) string {
	last := max(0, state.LastNumber)
	effective := max(resolveGoal(state), last)
	return truncate(fmt.Sprintf("˳໑◼️꒱﹕「%d┃%d」﹕loner-counts⁵", last, effective), MaxNameLength)
}

// ChannelTopic renders progress and one page of the leaderboard. nextReloadAt
// is shown as a relative timestamp.
func ChannelTopic(state model.ChannelState, nextReloadAt time.Time) Topic {
	g := resolveGoal(state)
	var progress float64
	if g > 0 {
		progress = min(100, float64(state.LastNumber)/float64(g)*100)
	}
	remaining := max(g-state.LastNumber, 0)

	entries := SortLeaderboard(state.Leaderboard)
	totalPages := max(1, int64((len(entries)+PageSize-1)/PageSize))
	page := min(max(0, state.TopicPage), totalPages-1)

	lines := []string{
		fmt.Sprintf("Current count: %d", state.LastNumber),
		fmt.Sprintf("Next target: %d", state.LastNumber+1),
		fmt.Sprintf("Goal: %d (%.1f%% complete, %d to go)", g, progress, remaining),
		fmt.Sprintf("**Leaderboard (page %d/%d)**", page+1, totalPages),
		"",
	}

	if len(entries) == 0 {
		lines = append(lines, "No counters yet. Be the first!")
	} else {
		start := int(page) * PageSize
		end := min(start+PageSize, len(entries))
		for i, entry := range entries[start:end] {
			position := start + i + 1
			lines = append(lines, fmt.Sprintf("%s %d. %s - %d", place(position), position, nameSegment(entry), entry.Count))
		}
	}

	lines = append(lines, "", fmt.Sprintf("Refresh <t:%d:R>", nextReloadAt.Unix()))

	var next int64
	if totalPages > 1 {
		next = (page + 1) % totalPages
	}
	return Topic{
		Text:     truncate(strings.Join(lines, "\n"), MaxTopicLength),
		NextPage: next,
	}
}

// SortLeaderboard orders entries by count descending, then display name,
// then user id.
func SortLeaderboard(board map[string]model.LeaderboardEntry) []model.LeaderboardEntry {
	entries := make([]model.LeaderboardEntry, 0, len(board))
	for _, e := range board {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.UserID < b.UserID
	})
	return entries
}

func resolveGoal(state model.ChannelState) int64 {
	if state.Goal > 0 {
		return state.Goal
	}
	return goal.ComputeInitial(state, 0)
}

func place(position int) string {
	switch position {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return "🏅"
	}
}

func nameSegment(entry model.LeaderboardEntry) string {
	if id := nonDigitRe.ReplaceAllString(entry.UserID, ""); id != "" {
		return "<@" + id + ">"
	}
	name := strings.TrimSpace(entry.DisplayName)
	if name == "" {
		name = model.DefaultDisplayName
	}
	return "*" + markdownRe.ReplaceAllString(name, `\$0`) + "*"
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
