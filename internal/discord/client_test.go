package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/mathieu-neron/owo-counter/internal/model"
)

func TestToMessage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "10",
		ChannelID: "20",
		GuildID:   "30",
		Content:   "owo 5",
		Timestamp: ts,
		WebhookID: "",
		Author:    &discordgo.User{ID: "40", Username: "alice", GlobalName: "Alice A", Bot: false},
		Member:    &discordgo.Member{Nick: "Ally"},
	}

	assert.Equal(t, model.Message{
		ID:         "10",
		ChannelID:  "20",
		GuildID:    "30",
		AuthorID:   "40",
		AuthorName: "Ally",
		Content:    "owo 5",
		CreatedAt:  ts,
	}, ToMessage(m))
}

func TestDisplayNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		msg  *discordgo.Message
		want string
	}{
		{
			"nickname wins",
			&discordgo.Message{Author: &discordgo.User{Username: "u", GlobalName: "g"}, Member: &discordgo.Member{Nick: "n"}},
			"n",
		},
		{
			"empty nickname falls back",
			&discordgo.Message{Author: &discordgo.User{Username: "u", GlobalName: "g"}, Member: &discordgo.Member{}},
			"g",
		},
		{
			"no member uses global name",
			&discordgo.Message{Author: &discordgo.User{Username: "u", GlobalName: "g"}},
			"g",
		},
		{
			"username last",
			&discordgo.Message{Author: &discordgo.User{Username: "u"}},
			"u",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, displayName(tt.msg))
		})
	}
}

func TestToMessage_BotAndWebhook(t *testing.T) {
	got := ToMessage(&discordgo.Message{
		ID:        "1",
		WebhookID: "77",
		Author:    &discordgo.User{ID: "2", Username: "hook", Bot: true},
	})
	assert.True(t, got.Bot)
	assert.Equal(t, "77", got.WebhookID)
	assert.Empty(t, got.GuildID)
}

func TestIntentsIncludeMessageContent(t *testing.T) {
	assert.NotZero(t, Intents&discordgo.IntentMessageContent)
	assert.NotZero(t, Intents&discordgo.IntentGuildMessages)
}
