// Package goal computes and escalates the target a counting channel is working
// toward.
//
// The computation functions are pure. EnsureActive and Promote persist their
// result through a GoalSetter, normally the counting store.
package goal

import (
	"context"
	"math"

	"github.com/mathieu-neron/owo-counter/internal/metrics"
	"github.com/mathieu-neron/owo-counter/internal/model"
)

// DefaultStartingGoal is the first goal of a fresh channel and the floor for
// auto-derived goals once a channel has grown past it.
const DefaultStartingGoal int64 = 1000

// stepRate is the fractional growth applied on each promotion.
const stepRate = 0.05

// GoalSetter persists a new goal and returns the resulting snapshot.
type GoalSetter interface {
	SetGoal(ctx context.Context, channelID string, goal int64, source model.GoalSource) (model.ChannelState, error)
}

// step returns ceil(n * 5%), at least 1.
func step(n int64) int64 {
	return max(1, int64(math.Ceil(float64(n)*stepRate)))
}

// ComputeNext returns the goal that follows current.
//
//	baseline = max(1, current)
//	next     = baseline + max(1, ceil(baseline * 0.05))
//
// Once baseline has reached DefaultStartingGoal the result never drops below it.
func ComputeNext(current int64) int64 {
	baseline := max(1, current)
	next := baseline + step(baseline)
	if baseline >= DefaultStartingGoal {
		return max(DefaultStartingGoal, next)
	}
	return next
}

// ComputeInitial derives a goal for state. A positive manualSuggestion above
// the last number wins outright; pass 0 for none.
func ComputeInitial(state model.ChannelState, manualSuggestion int64) int64 {
	if manualSuggestion > 0 && manualSuggestion > state.LastNumber {
		return manualSuggestion
	}

	if state.Goal > 0 && state.Goal > state.LastNumber {
		if state.GoalSource == model.GoalSourceManual {
			return state.Goal
		}
		return max(DefaultStartingGoal, state.Goal)
	}

	if state.LastNumber == 0 {
		return DefaultStartingGoal
	}

	candidate := state.LastNumber + step(state.LastNumber)
	return max(DefaultStartingGoal, candidate)
}

// ShouldPromote reports whether the channel has reached its current goal.
func ShouldPromote(state model.ChannelState) bool {
	return state.Goal > 0 && state.LastNumber >= state.Goal
}

// NextAbove steps from start until the result exceeds lastNumber.
func NextAbove(start, lastNumber int64) int64 {
	target := max(1, start)
	for target <= lastNumber {
		target = ComputeNext(target)
	}
	return target
}

// Promote raises the goal above the last accepted number and persists it as
// an auto goal.
func Promote(ctx context.Context, setter GoalSetter, state model.ChannelState) (model.ChannelState, error) {
	start := state.Goal
	if start <= 0 {
		start = ComputeInitial(state, 0)
	}
	next, err := setter.SetGoal(ctx, state.ChannelID, NextAbove(start, state.LastNumber), model.GoalSourceAuto)
	if err == nil {
		metrics.GoalPromotionsTotal.Inc()
	}
	return next, err
}

// EnsureActive makes sure state carries a usable goal.
//
// A configured goal is applied when it differs from the last manual baseline,
// so a changed configuration takes effect across restarts while an unchanged
// one leaves promoted goals alone. Without configuration a missing goal is
// seeded with DefaultStartingGoal. Finally the goal is promoted if it has been
// reached. Calling it twice with the same inputs changes nothing the second
// time.
func EnsureActive(ctx context.Context, setter GoalSetter, cfg model.ChannelConfig, state model.ChannelState) (model.ChannelState, error) {
	var err error
	next := state

	if cfg.InitialGoal > 0 {
		if next.ManualBaseline != cfg.InitialGoal {
			if next, err = setter.SetGoal(ctx, state.ChannelID, cfg.InitialGoal, model.GoalSourceManual); err != nil {
				return state, err
			}
		}
	} else if next.Goal <= 0 {
		if next, err = setter.SetGoal(ctx, state.ChannelID, DefaultStartingGoal, model.GoalSourceAuto); err != nil {
			return state, err
		}
	}

	if next.Goal <= 0 {
		source := model.GoalSourceAuto
		if cfg.InitialGoal > 0 {
			source = model.GoalSourceManual
		}
		if next, err = setter.SetGoal(ctx, state.ChannelID, ComputeInitial(next, cfg.InitialGoal), source); err != nil {
			return state, err
		}
	}

	if ShouldPromote(next) {
		promoted, err := Promote(ctx, setter, next)
		if err != nil {
			return next, err
		}
		next = promoted
	}

	return next, nil
}
