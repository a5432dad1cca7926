// Package scheduler keeps a channel's external name and topic in sync with
// its counting state.
//
// Each Scheduler is a small state machine over a clock: requests arm at most
// one timer, bursts that land within the coalescing window share a single
// execution, and applied updates are spaced by a cooldown. After every
// execution a low-priority "cooldown" refresh is armed so the presentation
// keeps converging without further activity.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/owo-counter/internal/metrics"
	"github.com/mathieu-neron/owo-counter/internal/model"
	"github.com/mathieu-neron/owo-counter/internal/serial"
	"github.com/mathieu-neron/owo-counter/internal/topic"
)

const (
	// DefaultMinDelay is the minimum wait between a request and its execution.
	DefaultMinDelay = 1500 * time.Millisecond
	// DefaultCooldown is the minimum spacing between applied updates.
	DefaultCooldown = 10 * time.Minute
	// CoalesceWindow is how close a new deadline must be to the armed one
	// for the armed timer to be reused.
	CoalesceWindow = 50 * time.Millisecond

	reasonInitial   = "initial"
	reasonCooldown  = "cooldown"
	reasonScheduled = "scheduled"
	reasonImmediate = "immediate"
)

// StateStore is the part of the Store the scheduler needs.
type StateStore interface {
	RefreshChannel(ctx context.Context, channelID string) (model.ChannelState, error)
	SetTopicPage(ctx context.Context, channelID string, page int64) (model.ChannelState, error)
}

// ChannelEditor reads and mutates a channel's external presentation.
type ChannelEditor interface {
	Channel(ctx context.Context, channelID string) (model.TextChannel, error)
	SetChannelName(ctx context.Context, channelID, name string) error
	SetChannelTopic(ctx context.Context, channelID, topic string) error
}

// Options tunes a Scheduler. Zero values use the defaults.
type Options struct {
	Clock    clockwork.Clock
	MinDelay time.Duration
	Cooldown time.Duration
}

// Scheduler debounces presentation refreshes for one channel.
type Scheduler struct {
	channelID string
	store     StateStore
	editor    ChannelEditor
	clock     clockwork.Clock
	minDelay  time.Duration
	cooldown  time.Duration
	queue     *serial.Queue
	log       zerolog.Logger

	mu             sync.Mutex
	disposed       bool
	nextEligibleAt time.Time
	armedFor       time.Time // zero when no timer is armed
	pendingReason  string
	timer          clockwork.Timer
}

// New creates a scheduler for channelID and immediately arms an "initial"
// refresh with no delay.
func New(ctx context.Context, channelID string, store StateStore, editor ChannelEditor, log zerolog.Logger, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = DefaultMinDelay
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}

	l := log.With().Str("component", "scheduler").Str("channel_id", channelID).Logger()
	s := &Scheduler{
		channelID:     channelID,
		store:         store,
		editor:        editor,
		clock:         opts.Clock,
		minDelay:      opts.MinDelay,
		cooldown:      opts.Cooldown,
		queue:         serial.New(ctx, "presentation", l),
		log:           l,
		pendingReason: reasonScheduled,
	}
	s.schedule(s.clock.Now(), reasonInitial)
	return s
}

// RequestImmediateUpdate asks for a refresh no sooner than the minimum delay
// and never before the cooldown ends. An empty reason reads "immediate".
func (s *Scheduler) RequestImmediateUpdate(reason string) {
	if reason == "" {
		reason = reasonImmediate
	}
	s.schedule(s.clock.Now().Add(s.minDelay), reason)
}

// NextEligibleAt returns the earliest time the next update may be applied.
func (s *Scheduler) NextEligibleAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextEligibleAt
}

// Dispose cancels the pending timer and makes the scheduler inert. An
// execution already running finishes but arms nothing further.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.stopTimerLocked()
	s.mu.Unlock()
	s.queue.Close()
}

func (s *Scheduler) schedule(target time.Time, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return
	}

	now := s.clock.Now()
	earliest := target
	if s.nextEligibleAt.After(earliest) {
		earliest = s.nextEligibleAt
	}
	if now.After(earliest) {
		earliest = now
	}

	if !s.armedFor.IsZero() && absDuration(s.armedFor.Sub(earliest)) < CoalesceWindow {
		s.pendingReason = reason
		return
	}

	s.stopTimerLocked()
	s.pendingReason = reason
	s.armedFor = earliest
	s.timer = s.clock.AfterFunc(earliest.Sub(now), s.fire)
	s.log.Debug().Str("reason", reason).Time("at", earliest).Msg("refresh armed")
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.armedFor = time.Time{}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.armedFor = time.Time{}
	reason := s.pendingReason
	s.pendingReason = reasonScheduled
	s.mu.Unlock()

	s.queue.Enqueue(func(ctx context.Context) error {
		executedAt := s.clock.Now()
		defer func() {
			s.mu.Lock()
			s.nextEligibleAt = executedAt.Add(s.cooldown)
			next := s.nextEligibleAt
			s.mu.Unlock()
			s.schedule(next, reasonCooldown)
		}()
		s.apply(ctx, reason, executedAt)
		return nil
	})
}

// apply refreshes state and pushes any changed name or topic. Failures are
// logged per step and never stop the remaining steps.
func (s *Scheduler) apply(ctx context.Context, reason string, executedAt time.Time) {
	state, err := s.store.RefreshChannel(ctx, s.channelID)
	if err != nil {
		s.log.Error().Err(err).Msg("refresh before presentation update failed, using cached state")
	}

	desiredName := topic.ChannelName(state)
	desiredTopic := topic.ChannelTopic(state, executedAt.Add(s.cooldown))

	current, err := s.editor.Channel(ctx, s.channelID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch channel for presentation update")
		metrics.PresentationUpdatesTotal.WithLabelValues("rename", "error").Inc()
		metrics.PresentationUpdatesTotal.WithLabelValues("topic", "error").Inc()
	} else {
		if current.Name != desiredName {
			if err := s.editor.SetChannelName(ctx, s.channelID, desiredName); err != nil {
				s.log.Error().Err(err).Msg("failed to rename channel")
				metrics.PresentationUpdatesTotal.WithLabelValues("rename", "error").Inc()
			} else {
				s.log.Info().Str("name", desiredName).Str("reason", reason).Msg("channel renamed")
				metrics.PresentationUpdatesTotal.WithLabelValues("rename", "ok").Inc()
			}
		} else {
			metrics.PresentationUpdatesTotal.WithLabelValues("rename", "skipped").Inc()
		}

		if current.Topic != desiredTopic.Text {
			if err := s.editor.SetChannelTopic(ctx, s.channelID, desiredTopic.Text); err != nil {
				s.log.Error().Err(err).Msg("failed to update channel topic")
				metrics.PresentationUpdatesTotal.WithLabelValues("topic", "error").Inc()
			} else {
				s.log.Info().Str("reason", reason).Msg("channel topic updated")
				metrics.PresentationUpdatesTotal.WithLabelValues("topic", "ok").Inc()
			}
		} else {
			metrics.PresentationUpdatesTotal.WithLabelValues("topic", "skipped").Inc()
		}
	}

	if _, err := s.store.SetTopicPage(ctx, s.channelID, desiredTopic.NextPage); err != nil {
		s.log.Error().Err(err).Msg("failed to persist topic page")
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
