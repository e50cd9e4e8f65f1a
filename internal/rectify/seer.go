package rectify

import (
	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
	"github.com/andersfylling/rayman-slides/internal/tickqueue"
)

// Seer replays predicted steps forward into the simulation, without ever
// popping them — predicted steps live until superseded by an authoritative
// one for the same tick.
type Seer[T any] struct {
	queue *tickqueue.Queue[step.AuthoritativeStep[T]]
}

// NewSeer creates a Seer whose predicted queue starts at startTick.
func NewSeer[T any](startTick tickid.TickId) *Seer[T] {
	return &Seer[T]{queue: tickqueue.New[step.AuthoritativeStep[T]](startTick)}
}

// PushWithCheck appends a predicted step (modeled as predicted-as-
// authoritative for the simulation callback's sake) at tick.
func (s *Seer[T]) PushWithCheck(tick tickid.TickId, v step.AuthoritativeStep[T]) error {
	return s.queue.Push(tick, v)
}

// FrontTick returns the earliest predicted tick still buffered.
func (s *Seer[T]) FrontTick() tickid.TickId {
	return s.queue.FrontTick()
}

// BackTick returns the latest predicted tick pushed so far.
func (s *Seer[T]) BackTick() tickid.TickId {
	return s.queue.BackTick()
}

// ExpectedWriteTick returns the tick the next PushWithCheck must present.
func (s *Seer[T]) ExpectedWriteTick() tickid.TickId {
	return s.queue.ExpectedWriteTick()
}

// Len reports how many predicted steps remain buffered.
func (s *Seer[T]) Len() int {
	return s.queue.Len()
}

// Clear resets the predicted queue to start at newHead — used when
// resynchronizing Seer's write cursor to Assent's tip before accepting new
// predictions.
func (s *Seer[T]) Clear(newHead tickid.TickId) {
	s.queue.Clear(newHead)
}

// ReceivedAuthoritative discards predicted steps whose tick is <= uptoTick,
// since an authoritative step has now superseded them.
func (s *Seer[T]) ReceivedAuthoritative(uptoTick tickid.TickId) {
	s.queue.DiscardUpTo(uptoTick + 1)
}

// Update issues OnPreTicks, iterates all buffered predicted steps in order
// invoking OnTick, then OnPostTicks. It never pops.
func (s *Seer[T]) Update(cb Callback[T]) {
	if s.queue.Len() == 0 {
		return
	}
	cb.OnPreTicks()
	s.queue.Iter(func(tick tickid.TickId, v step.AuthoritativeStep[T]) bool {
		cb.OnTick(tick, v)
		return true
	})
	cb.OnPostTicks()
}
