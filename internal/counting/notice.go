package counting

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultNoticeTTL is how long a correction notice stays in the channel.
const DefaultNoticeTTL = 7 * time.Second

type pendingNotice struct {
	key       string
	channelID string
	messageID string
	timer     clockwork.Timer
}

// NoticeText renders the correction shown to userID after a rejected
// submission. expireAt is displayed as a relative countdown.
func NoticeText(userID string, expected int64, reason string, expireAt time.Time) string {
	return fmt.Sprintf(
		"> ⚠️ <@%s>\n"+
			"-# Your counting entry was removed.\n"+
			"-# Next valid submission → **owo %d**\n"+
			"-# ***Reason:*** %s\n\n"+
			"-# *(This notice disappears <t:%d:R>)*",
		userID, expected, reason, expireAt.Unix(),
	)
}

func (c *Controller) postNotice(ctx context.Context, l zerolog.Logger, channelID, userID string, expected int64, reason string) {
	expireAt := c.clock.Now().Add(c.noticeTTL)
	messageID, err := c.platform.SendMessage(ctx, channelID, NoticeText(userID, expected, reason, expireAt))
	if err != nil {
		l.Error().Err(err).Msg("failed to send correction notice")
		return
	}

	n := &pendingNotice{
		key:       channelID + "/" + messageID,
		channelID: channelID,
		messageID: messageID,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.deleteNotice(n)
		return
	}
	c.notices[n.key] = n
	n.timer = c.clock.AfterFunc(c.noticeTTL, func() { c.expireNotice(n.key) })
	c.mu.Unlock()
}

func (c *Controller) expireNotice(key string) {
	c.mu.Lock()
	n, ok := c.notices[key]
	delete(c.notices, key)
	c.mu.Unlock()

	if ok {
		c.deleteNotice(n)
	}
}

func (c *Controller) deleteNotice(n *pendingNotice) {
	// the queue context may already be cancelled at shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
	defer cancel()
	if err := c.platform.DeleteMessage(ctx, n.channelID, n.messageID); err != nil {
		c.log.Warn().Err(err).Str("channel_id", n.channelID).Str("message_id", n.messageID).Msg("failed to delete correction notice")
	}
}
