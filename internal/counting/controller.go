// Package counting runs the counting game for the configured channels.
//
// The Controller initializes every channel from storage and chat history,
// then validates incoming messages. Messages of one channel are validated
// strictly in arrival order on that channel's queue; channels never wait on
// each other. Presentation refreshes run on a separate per-channel scheduler,
// so slow channel edits never hold up validation.
package counting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mathieu-neron/owo-counter/internal/goal"
	"github.com/mathieu-neron/owo-counter/internal/history"
	"github.com/mathieu-neron/owo-counter/internal/metrics"
	"github.com/mathieu-neron/owo-counter/internal/model"
	"github.com/mathieu-neron/owo-counter/internal/scheduler"
	"github.com/mathieu-neron/owo-counter/internal/serial"
	"github.com/mathieu-neron/owo-counter/internal/submission"
	"github.com/mathieu-neron/owo-counter/pkg/hash"
)

// ReasonWrongFormat is shown when a message is not a counting submission.
const ReasonWrongFormat = "Format must be `owo <number>`."

const (
	reasonAccepted = "count-accepted"
	reasonRejected = "message-rejected"
)

// Platform is the chat platform as seen by the controller.
//
// Channel must fail for ids that are not guild text channels.
type Platform interface {
	scheduler.ChannelEditor
	history.Fetcher
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendMessage(ctx context.Context, channelID, content string) (string, error)
}

// Store is the counting state the controller reads and mutates.
type Store interface {
	Load(ctx context.Context, expectedChannelIDs []string) (map[string]model.ChannelState, error)
	ResetChannel(ctx context.Context, channelID string, initialGoal int64) (model.ChannelState, error)
	RefreshChannel(ctx context.Context, channelID string) (model.ChannelState, error)
	RecordCount(ctx context.Context, channelID, userID, displayName string, nextNumber int64) (model.ChannelState, error)
	SetTopicPage(ctx context.Context, channelID string, page int64) (model.ChannelState, error)
	SetGoal(ctx context.Context, channelID string, g int64, source model.GoalSource) (model.ChannelState, error)
}

// Options tunes a Controller. Zero values use the defaults.
type Options struct {
	Clock        clockwork.Clock
	HistoryLimit int
	NoticeTTL    time.Duration
	// MinDelay and Cooldown are passed to every channel scheduler.
	MinDelay time.Duration
	Cooldown time.Duration
}

// Controller owns the per-channel counting sessions.
type Controller struct {
	ctx          context.Context
	platform     Platform
	store        Store
	log          zerolog.Logger
	clock        clockwork.Clock
	historyLimit int
	noticeTTL    time.Duration
	schedOpts    scheduler.Options

	ids     []string
	configs map[string]model.ChannelConfig
	queues  map[string]*serial.Queue

	mu         sync.RWMutex
	closed     bool
	ready      map[string]bool
	channels   map[string]model.TextChannel
	schedulers map[string]*scheduler.Scheduler
	notices    map[string]*pendingNotice
}

// New creates a controller for configs. ctx scopes every queued task and
// scheduled refresh; nothing runs until Start.
func New(ctx context.Context, platform Platform, store Store, configs []model.ChannelConfig, log zerolog.Logger, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = history.DefaultFetchLimit
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}

	c := &Controller{
		ctx:          ctx,
		platform:     platform,
		store:        store,
		log:          log.With().Str("component", "counting").Logger(),
		clock:        opts.Clock,
		historyLimit: opts.HistoryLimit,
		noticeTTL:    opts.NoticeTTL,
		schedOpts: scheduler.Options{
			Clock:    opts.Clock,
			MinDelay: opts.MinDelay,
			Cooldown: opts.Cooldown,
		},
		configs:    make(map[string]model.ChannelConfig, len(configs)),
		queues:     make(map[string]*serial.Queue, len(configs)),
		ready:      make(map[string]bool),
		channels:   make(map[string]model.TextChannel),
		schedulers: make(map[string]*scheduler.Scheduler),
		notices:    make(map[string]*pendingNotice),
	}
	for _, cfg := range configs {
		if _, dup := c.configs[cfg.ChannelID]; dup {
			continue
		}
		c.ids = append(c.ids, cfg.ChannelID)
		c.configs[cfg.ChannelID] = cfg
		c.queues[cfg.ChannelID] = serial.New(ctx, "counting", c.log.With().Str("channel_id", cfg.ChannelID).Logger())
	}
	return c
}

// Start loads state for every configured channel, then initializes the
// channels in parallel: resolve, reset, replay history, ensure a goal, start
// the presentation scheduler. Channels that cannot be resolved are skipped.
// A channel whose initialization fails stays not ready; the first such error
// is returned once every channel has been attempted.
func (c *Controller) Start(ctx context.Context) error {
	if _, err := c.store.Load(ctx, c.ids); err != nil {
		return fmt.Errorf("load counting state: %w", err)
	}

	var g errgroup.Group
	for _, id := range c.ids {
		g.Go(func() error {
			return c.initChannel(ctx, id)
		})
	}
	err := g.Wait()

	c.log.Info().
		Int("configured", len(c.ids)).
		Int("ready", len(c.ReadyChannels())).
		Msg("counting ready")
	return err
}

func (c *Controller) initChannel(ctx context.Context, channelID string) error {
	cfg := c.configs[channelID]
	l := c.log.With().Str("channel_id", channelID).Logger()

	if _, ok := c.resolve(ctx, channelID); !ok {
		l.Warn().Msg("counting channel unavailable, skipped")
		return nil
	}

	initialGoal := cfg.InitialGoal
	if initialGoal <= 0 {
		initialGoal = goal.DefaultStartingGoal
	}
	state, err := c.store.ResetChannel(ctx, channelID, initialGoal)
	if err != nil {
		return fmt.Errorf("reset channel %s: %w", channelID, err)
	}

	state, replayed, err := history.Replay(ctx, c.store, c.platform, state, l, c.historyLimit)
	if err != nil {
		l.Error().Err(err).Msg("history replay failed, starting from reset state")
	}

	state, err = goal.EnsureActive(ctx, c.store, cfg, state)
	if err != nil {
		l.Error().Err(err).Msg("failed to ensure active goal")
	}

	sched := scheduler.New(c.ctx, channelID, c.store, c.platform, c.log, c.schedOpts)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sched.Dispose()
		return nil
	}
	c.schedulers[channelID] = sched
	c.ready[channelID] = true
	c.mu.Unlock()

	l.Info().
		Int64("last_number", state.LastNumber).
		Int64("goal", state.Goal).
		Int("replayed", replayed).
		Msg("counting channel initialized")
	return nil
}

// HandleMessage queues msg for validation on its channel's queue. It returns
// false when the channel is not configured or the controller is closed.
func (c *Controller) HandleMessage(msg model.Message) bool {
	q, ok := c.queues[msg.ChannelID]
	if !ok {
		return false
	}
	return q.Enqueue(func(ctx context.Context) error {
		return c.handle(ctx, msg)
	})
}

// ReadyChannels returns the ids of channels accepting counts, sorted.
func (c *Controller) ReadyChannels() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.ready))
	for id := range c.ready {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close stops the schedulers, drains the message queues and removes notices
// that have not expired yet.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	scheds := make([]*scheduler.Scheduler, 0, len(c.schedulers))
	for _, s := range c.schedulers {
		scheds = append(scheds, s)
	}
	c.mu.Unlock()

	for _, s := range scheds {
		s.Dispose()
	}
	for _, q := range c.queues {
		q.Close()
	}

	c.mu.Lock()
	pending := c.notices
	c.notices = make(map[string]*pendingNotice)
	c.ready = make(map[string]bool)
	c.mu.Unlock()

	// a timer that already fired finds its notice gone from the map, so
	// every notice taken here is deleted exactly once
	for _, n := range pending {
		n.timer.Stop()
		c.deleteNotice(n)
	}
	c.log.Info().Int("notices_removed", len(pending)).Msg("counting stopped")
}

func (c *Controller) isReady(channelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready[channelID]
}

// resolve returns the cached text channel, fetching it on first use.
func (c *Controller) resolve(ctx context.Context, channelID string) (model.TextChannel, bool) {
	c.mu.RLock()
	ch, ok := c.channels[channelID]
	c.mu.RUnlock()
	if ok {
		return ch, true
	}

	ch, err := c.platform.Channel(ctx, channelID)
	if err != nil {
		c.log.Error().Err(err).Str("channel_id", channelID).Msg("failed to fetch counting channel")
		return model.TextChannel{}, false
	}

	c.mu.Lock()
	c.channels[channelID] = ch
	c.mu.Unlock()
	return ch, true
}

func (c *Controller) nudge(channelID, reason string) {
	c.mu.RLock()
	s := c.schedulers[channelID]
	c.mu.RUnlock()
	if s != nil {
		s.RequestImmediateUpdate(reason)
	}
}

func (c *Controller) handle(ctx context.Context, msg model.Message) error {
	if !c.isReady(msg.ChannelID) {
		c.log.Debug().Str("channel_id", msg.ChannelID).Str("message_id", msg.ID).Msg("channel not ready, message ignored")
		return nil
	}
	if msg.WebhookID != "" || msg.Bot || msg.GuildID == "" {
		return nil
	}
	if _, ok := c.resolve(ctx, msg.ChannelID); !ok {
		return nil
	}

	l := c.log.With().
		Str("channel_id", msg.ChannelID).
		Str("message_id", msg.ID).
		Str("user_hash", hash.UserID(msg.AuthorID)).
		Logger()

	state, err := c.store.RefreshChannel(ctx, msg.ChannelID)
	if err != nil {
		l.Warn().Err(err).Msg("refresh failed, validating against cached state")
	}
	expected := state.LastNumber + 1
	l.Debug().Int64("expected", expected).Msg("counting message received")

	sub, ok := submission.Parse(msg.Content)
	if !ok {
		metrics.SubmissionsTotal.WithLabelValues("wrong_format").Inc()
		c.reject(ctx, l, msg, expected, ReasonWrongFormat)
		return nil
	}
	if !sub.Is(expected) {
		metrics.SubmissionsTotal.WithLabelValues("wrong_number").Inc()
		c.reject(ctx, l, msg, expected, fmt.Sprintf("Expected %d, got %s", expected, sub))
		return nil
	}

	state, err = c.store.RecordCount(ctx, msg.ChannelID, msg.AuthorID, submission.DisplayName(msg.AuthorName), sub.Value)
	if err != nil {
		l.Error().Err(err).Msg("failed to persist accepted count")
	}
	if _, err := goal.EnsureActive(ctx, c.store, c.configs[msg.ChannelID], state); err != nil {
		l.Error().Err(err).Msg("failed to ensure active goal")
	}

	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	c.nudge(msg.ChannelID, reasonAccepted)
	l.Info().Int64("value", sub.Value).Msg("count accepted")
	return nil
}

// reject deletes msg, posts a correction notice and nudges the scheduler.
// Platform failures are logged only.
func (c *Controller) reject(ctx context.Context, l zerolog.Logger, msg model.Message, expected int64, reason string) {
	l.Info().Str("reason", reason).Msg("count rejected")

	if err := c.platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		l.Error().Err(err).Msg("failed to delete invalid counting message")
	}
	c.postNotice(ctx, l, msg.ChannelID, msg.AuthorID, expected, reason)
	c.nudge(msg.ChannelID, reasonRejected)
}
