package rectify

import (
	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// Callback is the capability the application implements once; the core
// calls it synchronously during Assent.Update and Seer.Update. Modeled on
// spec.md §9's "callback objects" design note.
type Callback[T any] interface {
	// OnPreTicks fires once at the start of a batch of on-tick calls, if
	// any tick will actually be applied in this call.
	OnPreTicks()
	// OnTick applies one authoritative (or predicted-as-authoritative)
	// step to the simulation.
	OnTick(tick tickid.TickId, s step.AuthoritativeStep[T])
	// OnPostTicks fires once at the end of a batch opened by OnPreTicks,
	// always paired with it even if the per-call tick budget was
	// exhausted mid-stream.
	OnPostTicks()
}

// RollbackCallback additionally exposes the copy-forward hook that
// implements rollback: after Assent consumes all known authoritative
// input in one update, the simulation snapshots its authoritative state
// into its predicted state before Seer re-applies predicted steps.
type RollbackCallback interface {
	OnCopyFromAuthoritative()
}
