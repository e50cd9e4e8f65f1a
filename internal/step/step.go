// Package step implements the Step<T> sum type: the per-(participant, tick)
// value the host and client exchange once input has been merged.
package step

import (
	"fmt"

	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// Kind tags which variant of Step is populated. Values match the wire
// encoding in the protocol package exactly.
type Kind uint8

const (
	// KindForced marks a host-substituted default for a silent participant.
	KindForced Kind = 1
	// KindWaitingForReconnect marks a participant that has dropped but not
	// yet been removed.
	KindWaitingForReconnect Kind = 2
	// KindJoined marks a participant's first tick in the session.
	KindJoined Kind = 3
	// KindLeft marks a participant's departure.
	KindLeft Kind = 4
	// KindCustom carries an actual player input, opaque to the core.
	KindCustom Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindForced:
		return "Forced"
	case KindWaitingForReconnect:
		return "WaitingForReconnect"
	case KindJoined:
		return "Joined"
	case KindLeft:
		return "Left"
	case KindCustom:
		return "Custom"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Step is the tagged union per (participant, tick). T is opaque to the
// core: it is only ever passed to a user-supplied Codec.
type Step[T any] struct {
	Kind Kind

	// Custom holds the payload when Kind == KindCustom.
	Custom T

	// JoinedTick holds the tick at which the participant joined, when
	// Kind == KindJoined.
	JoinedTick tickid.TickId
}

// NewCustom wraps a player input as a Custom step.
func NewCustom[T any](v T) Step[T] {
	return Step[T]{Kind: KindCustom, Custom: v}
}

// NewForced returns a Forced placeholder step.
func NewForced[T any]() Step[T] {
	return Step[T]{Kind: KindForced}
}

// NewJoined returns a Joined step recording the join tick.
func NewJoined[T any](at tickid.TickId) Step[T] {
	return Step[T]{Kind: KindJoined, JoinedTick: at}
}

// NewLeft returns a Left step.
func NewLeft[T any]() Step[T] {
	return Step[T]{Kind: KindLeft}
}

// NewWaitingForReconnect returns a WaitingForReconnect step.
func NewWaitingForReconnect[T any]() Step[T] {
	return Step[T]{Kind: KindWaitingForReconnect}
}

// Codec serializes and deserializes the opaque payload T of a Custom step.
// Supplied once by the application at construction of the protocol layer.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// AuthoritativeStep is the host-decided combined input at one tick: one
// entry per participant known to the session at that tick.
type AuthoritativeStep[T any] map[tickid.ParticipantId]Step[T]

// Keys returns the participant ids present in the step, for keyset
// comparisons in tests.
func (a AuthoritativeStep[T]) Keys() []tickid.ParticipantId {
	keys := make([]tickid.ParticipantId, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	return keys
}

// PredictedStep is a client's guess at its own future input for one tick,
// keyed by the client-local player slot. Empty maps must not be enqueued.
type PredictedStep[T any] map[tickid.LocalIndex]T
