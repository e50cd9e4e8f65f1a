// Package rectify implements the client-side loop that keeps an
// authoritative simulation (Assent) and a predicted simulation (Seer) in
// sync via rollback and replay-forward, per spec.md §4.3.
package rectify

import (
	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
	"github.com/andersfylling/rayman-slides/internal/tickqueue"
)

// ConsumeResult reports how much of Assent's authoritative queue a call to
// Update was able to drain.
type ConsumeResult int

const (
	// NoKnowledge means the queue was empty; nothing was applied.
	NoKnowledge ConsumeResult = iota
	// DidNotConsumeAllKnowledge means more authoritative ticks remain
	// buffered after this call's per-update budget was exhausted.
	DidNotConsumeAllKnowledge
	// ConsumedAllKnowledge means the queue was fully drained by this call.
	ConsumedAllKnowledge
)

// DefaultMaxTicksPerUpdate is the default bound on ticks replayed per call
// to Assent.Update, matching spec.md §4.3.
const DefaultMaxTicksPerUpdate = 5

// Assent replays authoritative steps into the simulation, bounded to a
// maximum number of ticks per call so a burst of buffered ticks cannot
// stall the caller's frame budget.
type Assent[T any] struct {
	queue             *tickqueue.Queue[step.AuthoritativeStep[T]]
	maxTicksPerUpdate int
}

// NewAssent creates an Assent whose authoritative queue starts at startTick.
func NewAssent[T any](startTick tickid.TickId) *Assent[T] {
	return &Assent[T]{
		queue:             tickqueue.New[step.AuthoritativeStep[T]](startTick),
		maxTicksPerUpdate: DefaultMaxTicksPerUpdate,
	}
}

// SetMaxTicksPerUpdate overrides the default replay budget.
func (a *Assent[T]) SetMaxTicksPerUpdate(n int) {
	a.maxTicksPerUpdate = n
}

// PushWithCheck appends an authoritative step at tick, failing on a
// tick-contiguity gap exactly like the underlying queue.
func (a *Assent[T]) PushWithCheck(tick tickid.TickId, s step.AuthoritativeStep[T]) error {
	return a.queue.Push(tick, s)
}

// FrontTick returns the tick the queue is waiting to deliver next.
func (a *Assent[T]) FrontTick() tickid.TickId {
	return a.queue.FrontTick()
}

// BackTick returns the most recently pushed authoritative tick.
func (a *Assent[T]) BackTick() tickid.TickId {
	return a.queue.BackTick()
}

// Len reports how many authoritative steps remain buffered.
func (a *Assent[T]) Len() int {
	return a.queue.Len()
}

// Update pops up to maxTicksPerUpdate authoritative steps, issuing
// OnPreTicks, OnTick per popped step, OnPostTicks to cb. OnPreTicks and
// OnPostTicks are always paired when at least one tick is popped.
func (a *Assent[T]) Update(cb Callback[T]) ConsumeResult {
	if a.queue.Len() == 0 {
		return NoKnowledge
	}

	cb.OnPreTicks()
	popped := 0
	for popped < a.maxTicksPerUpdate && a.queue.Len() > 0 {
		tick, s, ok := a.queue.Pop()
		if !ok {
			break
		}
		cb.OnTick(tick, s)
		popped++
	}
	cb.OnPostTicks()

	if a.queue.Len() > 0 {
		return DidNotConsumeAllKnowledge
	}
	return ConsumedAllKnowledge
}
