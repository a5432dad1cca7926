package model

import "time"

// Message is a chat message as seen by the counting feature.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string // empty for direct messages
	AuthorID  string
	// AuthorName is the member display name when available, else the
	// account username.
	AuthorName string
	Bot        bool
	WebhookID  string
	Content    string
	CreatedAt  time.Time
}

// TextChannel is the externally visible presentation of a channel.
type TextChannel struct {
	ID    string
	Name  string
	Topic string
}
