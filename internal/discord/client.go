// Package discord adapts a discordgo session to the counting collaborators.
package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/owo-counter/internal/model"
)

// ErrNotTextChannel is returned by Channel for ids that are not guild text
// channels.
var ErrNotTextChannel = errors.New("not a guild text channel")

// Intents are the gateway intents the bot needs to see counting messages.
const Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent

// Client wraps a bot session.
type Client struct {
	session *discordgo.Session
	log     zerolog.Logger
}

// New creates a bot session for token. The gateway is not opened until Open.
func New(token string, log zerolog.Logger) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.StateEnabled = true

	c := &Client{session: s, log: log.With().Str("component", "discord").Logger()}
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.log.Info().Str("user", r.User.String()).Int("guilds", len(r.Guilds)).Msg("gateway ready")
	})
	return c, nil
}

// Open connects to the gateway.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	return c.session.Close()
}

// OnMessage registers fn for every new message, including the bot's own. It
// returns a function that removes the handler.
func (c *Client) OnMessage(fn func(model.Message)) func() {
	return c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil {
			c.log.Warn().Msg("message event without author ignored")
			return
		}
		fn(ToMessage(m.Message))
	})
}

// Channel returns the channel, from the session state when cached.
func (c *Client) Channel(ctx context.Context, channelID string) (model.TextChannel, error) {
	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		if ch, err = c.session.Channel(channelID, discordgo.WithContext(ctx)); err != nil {
			return model.TextChannel{}, fmt.Errorf("fetch channel %s: %w", channelID, err)
		}
	}
	if ch.Type != discordgo.ChannelTypeGuildText {
		return model.TextChannel{}, fmt.Errorf("channel %s: %w", channelID, ErrNotTextChannel)
	}
	return model.TextChannel{ID: ch.ID, Name: ch.Name, Topic: ch.Topic}, nil
}

// SetChannelName renames the channel.
func (c *Client) SetChannelName(ctx context.Context, channelID, name string) error {
	if _, err := c.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("rename channel %s: %w", channelID, err)
	}
	return nil
}

// SetChannelTopic replaces the channel topic.
func (c *Client) SetChannelTopic(ctx context.Context, channelID, topic string) error {
	if _, err := c.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Topic: topic}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("set topic of channel %s: %w", channelID, err)
	}
	return nil
}

// MessagesBefore returns up to limit messages older than beforeID, newest
// first. An empty beforeID starts from the latest message.
func (c *Client) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]model.Message, error) {
	msgs, err := c.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch messages of channel %s: %w", channelID, err)
	}
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Author == nil {
			continue
		}
		msg := ToMessage(m)
		if msg.ChannelID == "" {
			msg.ChannelID = channelID
		}
		out = append(out, msg)
	}
	return out, nil
}

// DeleteMessage deletes one message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// SendMessage posts content and returns the new message id. Only user
// mentions in content are allowed to ping.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	m, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message to channel %s: %w", channelID, err)
	}
	return m.ID, nil
}

// ToMessage converts a discordgo message. Author must be non-nil.
func ToMessage(m *discordgo.Message) model.Message {
	return model.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m),
		Bot:        m.Author.Bot,
		WebhookID:  m.WebhookID,
		Content:    m.Content,
		CreatedAt:  m.Timestamp,
	}
}

// displayName prefers the guild nickname, then the global display name, then
// the username.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
