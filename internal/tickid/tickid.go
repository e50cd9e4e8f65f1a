// Package tickid defines the small integer identifiers shared across the
// rollback-netcode core: the simulation tick cursor and the identifiers that
// name a player within a session.
package tickid

import "fmt"

// TickId is a monotonically increasing identifier of a simulation step.
// Arithmetic on it never wraps in correct operation; the module treats a
// session lasting past 2^32 ticks as out of scope.
type TickId uint32

// Diff returns a - b as a signed tick delta.
func (a TickId) Diff(b TickId) int64 {
	return int64(a) - int64(b)
}

// Add returns the tick n steps after t.
func (t TickId) Add(n uint32) TickId {
	return t + TickId(n)
}

func (t TickId) String() string {
	return fmt.Sprintf("tick(%d)", uint32(t))
}

// ParticipantId identifies a logical player within a session; stable for the
// life of the session once assigned. 0..=254 are valid; 255 is reserved.
type ParticipantId uint8

// ReservedParticipantId is never handed out by the free list.
const ReservedParticipantId ParticipantId = 255

func (p ParticipantId) String() string {
	return fmt.Sprintf("participant(%d)", uint8(p))
}

// LocalIndex is a client-local player slot; a client may own several. The
// host maps (connection, LocalIndex) to a ParticipantId at join time.
type LocalIndex uint8

func (l LocalIndex) String() string {
	return fmt.Sprintf("local(%d)", uint8(l))
}
