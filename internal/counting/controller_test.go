package counting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathieu-neron/owo-counter/internal/model"
	"github.com/mathieu-neron/owo-counter/internal/repository"
	"github.com/mathieu-neron/owo-counter/internal/store"
)

const (
	chanA   = "111"
	chanB   = "222"
	guildID = "999"
)

type sentMessage struct {
	channelID string
	id        string
	content   string
}

type fakePlatform struct {
	mu       sync.Mutex
	channels map[string]model.TextChannel
	history  map[string][]model.Message // oldest first
	deleted  []string
	sent     []sentMessage
	fetches  map[string]int
	sendErr  error
	nextID   int
}

func newFakePlatform(ids ...string) *fakePlatform {
	p := &fakePlatform{
		channels: make(map[string]model.TextChannel),
		history:  make(map[string][]model.Message),
		fetches:  make(map[string]int),
	}
	for _, id := range ids {
		p.channels[id] = model.TextChannel{ID: id, Name: "counting"}
	}
	return p
}

func (p *fakePlatform) addHistory(channelID, author, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.history[channelID])
	p.history[channelID] = append(p.history[channelID], model.Message{
		ID:         fmt.Sprintf("%s-h%03d", channelID, n),
		ChannelID:  channelID,
		GuildID:    guildID,
		AuthorID:   author,
		AuthorName: "hist-" + author,
		Content:    content,
		CreatedAt:  time.Unix(int64(1_700_000_000+n), 0),
	})
}

func (p *fakePlatform) Channel(_ context.Context, channelID string) (model.TextChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches[channelID]++
	ch, ok := p.channels[channelID]
	if !ok {
		return model.TextChannel{}, errors.New("unknown channel")
	}
	return ch, nil
}

func (p *fakePlatform) SetChannelName(_ context.Context, channelID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.channels[channelID]
	ch.Name = name
	p.channels[channelID] = ch
	return nil
}

func (p *fakePlatform) SetChannelTopic(_ context.Context, channelID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.channels[channelID]
	ch.Topic = text
	p.channels[channelID] = ch
	return nil
}

func (p *fakePlatform) MessagesBefore(_ context.Context, channelID, beforeID string, limit int) ([]model.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.history[channelID]
	end := len(msgs)
	if beforeID != "" {
		for i, m := range msgs {
			if m.ID == beforeID {
				end = i
				break
			}
		}
	}
	var out []model.Message
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (p *fakePlatform) DeleteMessage(_ context.Context, _ string, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, messageID)
	return nil
}

func (p *fakePlatform) SendMessage(_ context.Context, channelID, content string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.nextID++
	id := fmt.Sprintf("notice-%d", p.nextID)
	p.sent = append(p.sent, sentMessage{channelID: channelID, id: id, content: content})
	return id, nil
}

func (p *fakePlatform) deletedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *fakePlatform) sentMessages() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

type harness struct {
	ctrl     *Controller
	store    *store.Store
	platform *fakePlatform
	clock    *clockwork.FakeClock
}

func newHarness(t *testing.T, p *fakePlatform, configs ...model.ChannelConfig) *harness {
	t.Helper()
	st := store.New(repository.NewMemoryRepo(), zerolog.Nop())
	clock := clockwork.NewFakeClock()
	ctrl := New(context.Background(), p, st, configs, zerolog.Nop(), Options{Clock: clock})
	t.Cleanup(ctrl.Close)
	return &harness{ctrl: ctrl, store: st, platform: p, clock: clock}
}

var msgSeq int

func (h *harness) send(t *testing.T, channelID, author, content string) model.Message {
	t.Helper()
	msgSeq++
	msg := model.Message{
		ID:         fmt.Sprintf("live-%d", msgSeq),
		ChannelID:  channelID,
		GuildID:    guildID,
		AuthorID:   author,
		AuthorName: "  live   " + author + " ",
		Content:    content,
		CreatedAt:  h.clock.Now(),
	}
	h.deliver(t, msg)
	return msg
}

func (h *harness) deliver(t *testing.T, msg model.Message) {
	t.Helper()
	require.True(t, h.ctrl.HandleMessage(msg))
	h.ctrl.queues[msg.ChannelID].Wait()
}

func TestController_StartReplaysHistoryAndSeedsGoal(t *testing.T) {
	p := newFakePlatform(chanA)
	for i := 1; i <= 3; i++ {
		p.addHistory(chanA, "7", fmt.Sprintf("owo %d", i))
	}
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, []string{chanA}, h.ctrl.ReadyChannels())

	state := h.store.Snapshot(chanA)
	assert.Equal(t, int64(3), state.LastNumber)
	assert.Equal(t, int64(1000), state.Goal)
	assert.Equal(t, model.GoalSourceAuto, state.GoalSource)
	assert.Equal(t, int64(3), state.Leaderboard["7"].Count)
}

func TestController_StartAppliesConfiguredGoal(t *testing.T) {
	h := newHarness(t, newFakePlatform(chanA), model.ChannelConfig{ChannelID: chanA, InitialGoal: 500})

	require.NoError(t, h.ctrl.Start(context.Background()))

	state := h.store.Snapshot(chanA)
	assert.Equal(t, int64(500), state.Goal)
	assert.Equal(t, model.GoalSourceManual, state.GoalSource)
	assert.Equal(t, int64(500), state.ManualBaseline)
}

func TestController_StartSkipsUnavailableChannel(t *testing.T) {
	h := newHarness(t, newFakePlatform(chanA),
		model.ChannelConfig{ChannelID: chanA},
		model.ChannelConfig{ChannelID: chanB},
	)

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, []string{chanA}, h.ctrl.ReadyChannels())

	// an unavailable channel never accepts counts
	h.send(t, chanB, "1", "owo 1")
	assert.Equal(t, int64(0), h.store.Snapshot(chanB).LastNumber)
	assert.Empty(t, h.platform.deletedIDs())
}

func TestController_AcceptsExpectedNumber(t *testing.T) {
	p := newFakePlatform(chanA)
	for i := 1; i <= 4; i++ {
		p.addHistory(chanA, "7", fmt.Sprintf("owo %d", i))
	}
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.send(t, chanA, "8", "owo 5")

	state := h.store.Snapshot(chanA)
	assert.Equal(t, int64(5), state.LastNumber)
	assert.Equal(t, int64(1), state.Leaderboard["8"].Count)
	assert.Equal(t, "live 8", state.Leaderboard["8"].DisplayName)
	assert.Empty(t, p.deletedIDs())
	assert.Empty(t, p.sentMessages())
}

func TestController_RejectsWrongNumber(t *testing.T) {
	p := newFakePlatform(chanA)
	for i := 1; i <= 4; i++ {
		p.addHistory(chanA, "7", fmt.Sprintf("owo %d", i))
	}
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})
	require.NoError(t, h.ctrl.Start(context.Background()))

	msg := h.send(t, chanA, "8", "owo 7")

	assert.Equal(t, int64(4), h.store.Snapshot(chanA).LastNumber)
	assert.Equal(t, []string{msg.ID}, p.deletedIDs())

	sent := p.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, chanA, sent[0].channelID)
	assert.Contains(t, sent[0].content, "<@8>")
	assert.Contains(t, sent[0].content, "Next valid submission → **owo 5**")
	assert.Contains(t, sent[0].content, "Expected 5, got 7")
}

func TestController_RejectsWrongFormat(t *testing.T) {
	p := newFakePlatform(chanA)
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})
	require.NoError(t, h.ctrl.Start(context.Background()))

	msg := h.send(t, chanA, "8", "owo five")

	assert.Equal(t, []string{msg.ID}, p.deletedIDs())
	sent := p.sentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].content, ReasonWrongFormat)
	assert.Contains(t, sent[0].content, "**owo 1**")
}

func TestController_NoticeExpires(t *testing.T) {
	p := newFakePlatform(chanA)
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})
	require.NoError(t, h.ctrl.Start(context.Background()))

	msg := h.send(t, chanA, "8", "nope")
	require.Len(t, p.sentMessages(), 1)
	noticeID := p.sentMessages()[0].id
	assert.Equal(t, []string{msg.ID}, p.deletedIDs())

	h.clock.Advance(DefaultNoticeTTL)
	require.Eventually(t, func() bool {
		return len(p.deletedIDs()) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, noticeID, p.deletedIDs()[1])
}

func TestController_CloseRemovesPendingNotices(t *testing.T) {
	p := newFakePlatform(chanA)
	st := store.New(repository.NewMemoryRepo(), zerolog.Nop())
	ctrl := New(context.Background(), p, st, []model.ChannelConfig{{ChannelID: chanA}}, zerolog.Nop(), Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, ctrl.Start(context.Background()))

	require.True(t, ctrl.HandleMessage(model.Message{ID: "bad", ChannelID: chanA, GuildID: guildID, AuthorID: "8", Content: "x"}))
	ctrl.queues[chanA].Wait()
	require.Len(t, p.sentMessages(), 1)

	ctrl.Close()
	assert.Equal(t, []string{"bad", p.sentMessages()[0].id}, p.deletedIDs())
	assert.Empty(t, ctrl.ReadyChannels())
	assert.False(t, ctrl.HandleMessage(model.Message{ID: "late", ChannelID: chanA}))
}

func TestController_CloseDeletesNoticeWhoseTimerAlreadyFired(t *testing.T) {
	p := newFakePlatform(chanA)
	st := store.New(repository.NewMemoryRepo(), zerolog.Nop())
	ctrl := New(context.Background(), p, st, []model.ChannelConfig{{ChannelID: chanA}}, zerolog.Nop(), Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, ctrl.Start(context.Background()))

	require.True(t, ctrl.HandleMessage(model.Message{ID: "bad", ChannelID: chanA, GuildID: guildID, AuthorID: "8", Content: "x"}))
	ctrl.queues[chanA].Wait()
	require.Len(t, p.sentMessages(), 1)

	ctrl.mu.Lock()
	for _, n := range ctrl.notices {
		require.True(t, n.timer.Stop())
	}
	ctrl.mu.Unlock()

	ctrl.Close()
	assert.Equal(t, []string{"bad", p.sentMessages()[0].id}, p.deletedIDs())
}

func TestController_NoticeFailureIsNotFatal(t *testing.T) {
	p := newFakePlatform(chanA)
	p.sendErr = errors.New("missing permissions")
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.send(t, chanA, "8", "owo 3")
	h.send(t, chanA, "8", "owo 1")
	assert.Equal(t, int64(1), h.store.Snapshot(chanA).LastNumber)
}

func TestController_IgnoresAutomatedAndDirectMessages(t *testing.T) {
	p := newFakePlatform(chanA)
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})
	require.NoError(t, h.ctrl.Start(context.Background()))

	base := model.Message{ChannelID: chanA, GuildID: guildID, AuthorID: "8", Content: "owo 1"}

	bot := base
	bot.ID, bot.Bot = "bot", true
	hook := base
	hook.ID, hook.WebhookID = "hook", "555"
	dm := base
	dm.ID, dm.GuildID = "dm", ""
	junk := base
	junk.ID, junk.Bot, junk.Content = "junk", true, "not a count"

	for _, msg := range []model.Message{bot, hook, dm, junk} {
		h.deliver(t, msg)
	}

	assert.Equal(t, int64(0), h.store.Snapshot(chanA).LastNumber)
	assert.Empty(t, p.deletedIDs())
	assert.Empty(t, p.sentMessages())
}

func TestController_IgnoresMessagesBeforeReady(t *testing.T) {
	p := newFakePlatform(chanA)
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})

	h.send(t, chanA, "8", "owo 1")
	h.send(t, chanA, "8", "garbage")
	assert.Empty(t, p.deletedIDs())

	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Equal(t, int64(0), h.store.Snapshot(chanA).LastNumber)
}

func TestController_UnconfiguredChannel(t *testing.T) {
	h := newHarness(t, newFakePlatform(chanA), model.ChannelConfig{ChannelID: chanA})
	assert.False(t, h.ctrl.HandleMessage(model.Message{ChannelID: "404", Content: "owo 1"}))
}

func TestController_SequentialCountsAndPromotion(t *testing.T) {
	p := newFakePlatform(chanA)
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA, InitialGoal: 3})
	require.NoError(t, h.ctrl.Start(context.Background()))

	for i := 1; i <= 3; i++ {
		h.send(t, chanA, fmt.Sprintf("%d", i%2), fmt.Sprintf("owo %d", i))
	}

	state := h.store.Snapshot(chanA)
	assert.Equal(t, int64(3), state.LastNumber)
	assert.Greater(t, state.Goal, state.LastNumber)
	assert.Equal(t, model.GoalSourceAuto, state.GoalSource)
	assert.Equal(t, int64(2), state.Leaderboard["1"].Count)
	assert.Equal(t, int64(1), state.Leaderboard["0"].Count)
}

func TestController_ChannelResolutionCached(t *testing.T) {
	p := newFakePlatform(chanA)
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA})
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.ctrl.mu.RLock()
	_, cached := h.ctrl.channels[chanA]
	h.ctrl.mu.RUnlock()
	assert.True(t, cached)

	_, ok := h.ctrl.resolve(context.Background(), chanA)
	assert.True(t, ok)
}

func TestController_ChannelsIndependent(t *testing.T) {
	p := newFakePlatform(chanA, chanB)
	h := newHarness(t, p, model.ChannelConfig{ChannelID: chanA}, model.ChannelConfig{ChannelID: chanB})
	require.NoError(t, h.ctrl.Start(context.Background()))

	var wg sync.WaitGroup
	for _, id := range []string{chanA, chanB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 20; i++ {
				assert.True(t, h.ctrl.HandleMessage(model.Message{
					ID: fmt.Sprintf("%s-%d", id, i), ChannelID: id, GuildID: guildID,
					AuthorID: "1", AuthorName: "one", Content: fmt.Sprintf("owo %d", i),
				}))
			}
		}()
	}
	wg.Wait()
	h.ctrl.queues[chanA].Wait()
	h.ctrl.queues[chanB].Wait()

	assert.Equal(t, int64(20), h.store.Snapshot(chanA).LastNumber)
	assert.Equal(t, int64(20), h.store.Snapshot(chanB).LastNumber)
	assert.Empty(t, p.deletedIDs())
}

func TestNoticeText(t *testing.T) {
	got := NoticeText("42", 10, "Expected 10, got 12", time.Unix(1_700_000_007, 0))
	lines := strings.Split(got, "\n")
	assert.Equal(t, "> ⚠️ <@42>", lines[0])
	assert.Contains(t, got, "-# Next valid submission → **owo 10**")
	assert.Contains(t, got, "-# ***Reason:*** Expected 10, got 12")
	assert.True(t, strings.HasSuffix(got, "<t:1700000007:R>)*"))
}
