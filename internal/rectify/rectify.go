package rectify

import (
	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// Rectify orchestrates Assent (authoritative replay) and Seer (predicted
// replay-forward), wiring the rollback copy-forward pattern between them:
// once Assent has consumed all buffered authoritative input in one update,
// the simulation's authoritative state is copied into its predicted state
// before Seer re-applies whatever predicted steps remain.
type Rectify[T any] struct {
	assent *Assent[T]
	seer   *Seer[T]
}

// New creates a Rectify whose Assent and Seer queues both start at
// startTick.
func New[T any](startTick tickid.TickId) *Rectify[T] {
	return &Rectify[T]{
		assent: NewAssent[T](startTick),
		seer:   NewSeer[T](startTick),
	}
}

// Assent exposes the underlying authoritative-replay engine, e.g. to tune
// SetMaxTicksPerUpdate.
func (r *Rectify[T]) Assent() *Assent[T] {
	return r.assent
}

// Seer exposes the underlying predicted-replay engine.
func (r *Rectify[T]) Seer() *Seer[T] {
	return r.seer
}

// PushAuthoritativeWithCheck forwards to Assent and informs Seer that
// predictions up to this tick are now superseded.
func (r *Rectify[T]) PushAuthoritativeWithCheck(tick tickid.TickId, s step.AuthoritativeStep[T]) error {
	if err := r.assent.PushWithCheck(tick, s); err != nil {
		return err
	}
	r.seer.ReceivedAuthoritative(tick)
	return nil
}

// PushPredicted advances Seer's write cursor to Assent's current back tick
// before pushing, so predictions always start from the latest authoritative
// tip, then pushes s at the resulting expected tick.
func (r *Rectify[T]) PushPredicted(s step.AuthoritativeStep[T]) error {
	if r.seer.ExpectedWriteTick() <= r.assent.BackTick() {
		r.seer.Clear(r.assent.BackTick() + 1)
	}
	return r.seer.PushWithCheck(r.seer.ExpectedWriteTick(), s)
}

// Update runs Assent against authoritativeCb; if that call consumed all
// currently-buffered authoritative input, it invokes rollback.
// OnCopyFromAuthoritative before running Seer against predictedCb.
func (r *Rectify[T]) Update(authoritativeCb Callback[T], rollback RollbackCallback, predictedCb Callback[T]) ConsumeResult {
	result := r.assent.Update(authoritativeCb)
	if result == ConsumedAllKnowledge {
		rollback.OnCopyFromAuthoritative()
	}
	r.seer.Update(predictedCb)
	return result
}
