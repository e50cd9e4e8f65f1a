// Package combinator implements the host-side engine that merges
// per-participant predicted step streams into one authoritative
// multi-participant step per tick, substituting Forced steps for
// participants silent at production time.
package combinator

import (
	"fmt"

	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
	"github.com/andersfylling/rayman-slides/internal/tickqueue"
)

// NotReadyError is returned by Produce when no participant buffer has a
// step ready at TickToProduce.
type NotReadyError struct {
	Tick tickid.TickId
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("not ready to produce step at %s", e.Tick)
}

// Combinator holds one TickQueue per participant and the next tick it will
// produce an authoritative step for.
type Combinator[T any] struct {
	tickToProduce tickid.TickId
	buffers       map[tickid.ParticipantId]*tickqueue.Queue[step.Step[T]]
	order         []tickid.ParticipantId
}

// New creates a Combinator that will first produce at startTick.
func New[T any](startTick tickid.TickId) *Combinator[T] {
	return &Combinator[T]{
		tickToProduce: startTick,
		buffers:       make(map[tickid.ParticipantId]*tickqueue.Queue[step.Step[T]]),
	}
}

// TickToProduce returns the next tick Produce will emit.
func (c *Combinator[T]) TickToProduce() tickid.TickId {
	return c.tickToProduce
}

// CreateBuffer registers a new participant with an empty queue starting at
// the combinator's current production tick.
func (c *Combinator[T]) CreateBuffer(p tickid.ParticipantId) {
	if _, exists := c.buffers[p]; exists {
		return
	}
	c.buffers[p] = tickqueue.New[step.Step[T]](c.tickToProduce)
	c.order = append(c.order, p)
}

// RemoveBuffer drops a participant's buffer, e.g. on disconnect.
func (c *Combinator[T]) RemoveBuffer(p tickid.ParticipantId) {
	delete(c.buffers, p)
	for i, id := range c.order {
		if id == p {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// ReceiveStep pushes a predicted step for participant p at tick, subject to
// the buffer's tick-contiguity rule. Ticks strictly behind the buffer's
// expected write tick are silently dropped (idempotent resubmission), not
// an error — this matches host-logic's StepsRequest handling in spec.md
// §4.5, which treats already-produced ticks as a no-op rather than a fault.
// An empty buffer also accepts a first tick ahead of its write cursor: it
// restarts at that tick, and the participant is Forced for the ticks before
// it. A gap after a step that is still buffered is an error.
func (c *Combinator[T]) ReceiveStep(p tickid.ParticipantId, tick tickid.TickId, v T) error {
	buf, ok := c.buffers[p]
	if !ok {
		return fmt.Errorf("unknown participant %s", p)
	}
	if tick < buf.ExpectedWriteTick() {
		return nil
	}
	if buf.Len() == 0 && tick > buf.ExpectedWriteTick() {
		buf.Clear(tick)
	}
	return buf.Push(tick, step.NewCustom(v))
}

// Readiness returns the participants whose buffer front matches
// TickToProduce (ready) and those that do not (notReady, i.e. silent).
func (c *Combinator[T]) Readiness() (ready, notReady []tickid.ParticipantId) {
	for _, p := range c.order {
		buf := c.buffers[p]
		if buf.Len() > 0 && buf.FrontTick() == c.tickToProduce {
			ready = append(ready, p)
		} else {
			notReady = append(notReady, p)
		}
	}
	return ready, notReady
}

// Produce emits one authoritative step covering every known participant:
// ready participants contribute their popped Custom step; silent
// participants contribute Forced, and their buffers are advanced past the
// produced tick via DiscardUpTo. Fails with *NotReadyError if no
// participant is ready.
func (c *Combinator[T]) Produce() (step.AuthoritativeStep[T], error) {
	ready, notReady := c.Readiness()
	if len(ready) == 0 {
		return nil, &NotReadyError{Tick: c.tickToProduce}
	}

	out := make(step.AuthoritativeStep[T], len(c.order))
	for _, p := range ready {
		_, s, _ := c.buffers[p].Pop()
		out[p] = s
	}
	for _, p := range notReady {
		out[p] = step.NewForced[T]()
		c.buffers[p].DiscardUpTo(c.tickToProduce + 1)
	}

	c.tickToProduce++
	return out, nil
}

// InsertMarker appends a non-Custom step (Joined, Left, WaitingForReconnect)
// at participant p's next expected write tick. The application decides when
// these markers enter the stream; the combinator treats them like any other
// buffered step.
func (c *Combinator[T]) InsertMarker(p tickid.ParticipantId, s step.Step[T]) error {
	buf, ok := c.buffers[p]
	if !ok {
		return fmt.Errorf("unknown participant %s", p)
	}
	return buf.Push(buf.ExpectedWriteTick(), s)
}

// BufferLen returns how many steps are buffered for participant p.
func (c *Combinator[T]) BufferLen(p tickid.ParticipantId) (int, bool) {
	buf, ok := c.buffers[p]
	if !ok {
		return 0, false
	}
	return buf.Len(), true
}

// BufferExpectedWriteTick returns the tick participant p's buffer expects
// next, i.e. the first predicted tick the host still wants from its client.
func (c *Combinator[T]) BufferExpectedWriteTick(p tickid.ParticipantId) (tickid.TickId, bool) {
	buf, ok := c.buffers[p]
	if !ok {
		return 0, false
	}
	return buf.ExpectedWriteTick(), true
}

// ParticipantIds returns the participants currently registered, in
// registration order.
func (c *Combinator[T]) ParticipantIds() []tickid.ParticipantId {
	out := make([]tickid.ParticipantId, len(c.order))
	copy(out, c.order)
	return out
}
