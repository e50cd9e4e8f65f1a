// Package host implements the authoritative side of the rollback-netcode
// protocol: one Session per hosted game, one Connection per remote
// client, and the per-datagram dispatch that drives joins, state downloads,
// step ingest and responses.
package host

import (
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/andersfylling/rayman-slides/internal/blobstream"
	"github.com/andersfylling/rayman-slides/internal/combinator"
	"github.com/andersfylling/rayman-slides/internal/nimbleerr"
	"github.com/andersfylling/rayman-slides/internal/protocol"
	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
	"github.com/andersfylling/rayman-slides/internal/tickqueue"
)

var log = logging.MustGetLogger("host")

// MaxProducePerRequest bounds how many authoritative steps one StepsRequest
// may cause the combinator to produce.
const MaxProducePerRequest = 10

// MaxAuthoritativeTicksPerResponse bounds the authoritative range returned
// in a single GameStep response so one datagram stays under the transport
// MTU.
const MaxAuthoritativeTicksPerResponse = 8

// MaxChunksPerSend bounds how many blob chunks a single response datagram
// carries.
const MaxChunksPerSend = 4

// GameStateProvider is the external collaborator that serializes the
// authoritative simulation state for a joining client.
type GameStateProvider interface {
	// State returns the tick the snapshot was taken at and the serialized
	// blob a joining client downloads.
	State() (tickid.TickId, []byte)
}

// Config carries the session-wide knobs.
type Config struct {
	// RequiredVersion is the application version a client's ConnectRequest
	// must match byte-exactly.
	RequiredVersion protocol.AppVersion

	// StartTick seeds the combinator and the authoritative log.
	StartTick tickid.TickId

	// SessionSecret is echoed to joining clients. Zero means derive one
	// from the wall clock at session creation.
	SessionSecret uint64

	// ChunkSize for state-download blob transfers. Zero means
	// blobstream.DefaultChunkSize.
	ChunkSize int

	// ResendDuration for unacked blob chunks. Zero means
	// blobstream.DefaultResendDuration.
	ResendDuration time.Duration

	// AnnounceJoins makes the session insert a Joined marker for every
	// newly allocated participant, so clients already in the session spawn
	// the new player. Off by default; the application can instead call
	// AnnounceJoin itself.
	AnnounceJoins bool
}

// Session owns the global tick cursor, the participant free list, the
// combinator, and the authoritative step log shared across all connections.
type Session[T any] struct {
	codec    step.Codec[T]
	cfg      Config
	provider GameStateProvider

	comb          *combinator.Combinator[T]
	authoritative *tickqueue.Queue[step.AuthoritativeStep[T]]

	participants  *tickid.FreeList
	connectionIds *tickid.FreeList
	connections   map[uint8]*Connection[T]

	nextTransferId uint16
}

// NewSession creates a session seeded at cfg.StartTick.
func NewSession[T any](codec step.Codec[T], provider GameStateProvider, cfg Config) *Session[T] {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = blobstream.DefaultChunkSize
	}
	if cfg.ResendDuration == 0 {
		cfg.ResendDuration = blobstream.DefaultResendDuration
	}
	if cfg.SessionSecret == 0 {
		cfg.SessionSecret = uint64(time.Now().UnixNano())
	}
	return &Session[T]{
		codec:         codec,
		cfg:           cfg,
		provider:      provider,
		comb:          combinator.New[T](cfg.StartTick),
		authoritative: tickqueue.New[step.AuthoritativeStep[T]](cfg.StartTick),
		participants:  tickid.NewFreeList(),
		connectionIds: tickid.NewFreeList(),
		connections:   make(map[uint8]*Connection[T]),
	}
}

// CreateConnection registers a new connection in the WaitingForValidConnect
// phase and returns it.
func (s *Session[T]) CreateConnection() (*Connection[T], error) {
	id, err := s.connectionIds.Allocate()
	if err != nil {
		return nil, err
	}
	c := newConnection(uint8(id), s)
	s.connections[uint8(id)] = c
	log.Debugf("connection %d created", id)
	return c, nil
}

// DestroyConnection frees the connection's participant ids back to the
// session free list, removes its combinator buffers, and drops any active
// out-blob-stream. Authoritative steps already attributed to its
// participants remain in the log.
func (s *Session[T]) DestroyConnection(c *Connection[T]) {
	for _, p := range c.participants {
		s.comb.RemoveBuffer(p)
		s.participants.Release(p)
	}
	c.outBlob = nil
	delete(s.connections, c.id)
	s.connectionIds.Release(tickid.ParticipantId(c.id))
	log.Debugf("connection %d destroyed", c.id)
}

// ConnectionCount returns the number of live connections.
func (s *Session[T]) ConnectionCount() int {
	return len(s.connections)
}

// TickToProduce returns the next tick the combinator will produce.
func (s *Session[T]) TickToProduce() tickid.TickId {
	return s.comb.TickToProduce()
}

// AuthoritativeTip returns the most recently produced authoritative tick,
// and false if nothing has been produced yet.
func (s *Session[T]) AuthoritativeTip() (tickid.TickId, bool) {
	if s.authoritative.Len() == 0 {
		return 0, false
	}
	return s.authoritative.BackTick(), true
}

// CollectAuthoritative returns up to max authoritative steps starting at
// from, in tick order, along with the tick of the first returned step. The
// log is never popped; clients and the hosting application read tails of it
// idempotently.
func (s *Session[T]) CollectAuthoritative(from tickid.TickId, max int) (tickid.TickId, []step.AuthoritativeStep[T]) {
	first := from
	var out []step.AuthoritativeStep[T]
	s.authoritative.Iter(func(tick tickid.TickId, v step.AuthoritativeStep[T]) bool {
		if tick < from {
			return true
		}
		if len(out) == 0 {
			first = tick
		}
		out = append(out, v)
		return len(out) < max
	})
	return first, out
}

// AnnounceJoin inserts a Joined marker into participant p's buffer at its
// next expected write tick. The application decides when (and whether) the
// marker enters the authoritative stream.
func (s *Session[T]) AnnounceJoin(p tickid.ParticipantId) error {
	return s.comb.InsertMarker(p, step.NewJoined[T](s.comb.TickToProduce()))
}

// AnnounceLeave inserts a Left marker into participant p's buffer at its
// next expected write tick.
func (s *Session[T]) AnnounceLeave(p tickid.ParticipantId) error {
	return s.comb.InsertMarker(p, step.NewLeft[T]())
}

// producePending runs the combinator up to MaxProducePerRequest times,
// appending every produced step to the authoritative log.
func (s *Session[T]) producePending() error {
	for i := 0; i < MaxProducePerRequest; i++ {
		tick := s.comb.TickToProduce()
		produced, err := s.comb.Produce()
		if err != nil {
			var notReady *combinator.NotReadyError
			if asNotReady(err, &notReady) {
				return nil
			}
			return err
		}
		if pushErr := s.authoritative.Push(tick, produced); pushErr != nil {
			return nimbleerr.Wrap(nimbleerr.Critical, pushErr)
		}
	}
	return nil
}

func asNotReady(err error, target **combinator.NotReadyError) bool {
	e, ok := err.(*combinator.NotReadyError)
	if ok {
		*target = e
	}
	return ok
}

// buildRanges serializes the authoritative tail starting at from into the
// wire range layout: one range per tick, each carrying every participant's
// single step for that tick.
func (s *Session[T]) buildRanges(from tickid.TickId) protocol.AuthoritativeRanges[T] {
	first, steps := s.CollectAuthoritative(from, MaxAuthoritativeTicksPerResponse)
	out := protocol.AuthoritativeRanges[T]{RootTick: first}
	for i, as := range steps {
		rg := protocol.AuthoritativeRange[T]{}
		if i > 0 {
			rg.DeltaTickFromPrevious = 1
		}
		for _, p := range s.comb.ParticipantIds() {
			st, ok := as[p]
			if !ok {
				continue
			}
			rg.Participants = append(rg.Participants, protocol.ParticipantRange[T]{
				ParticipantId: p,
				Steps:         []step.Step[T]{st},
			})
		}
		// Participants that have since left still appear in their old
		// steps; emit them too so replay stays faithful.
		for p, st := range as {
			if containsParticipant(rg.Participants, p) {
				continue
			}
			rg.Participants = append(rg.Participants, protocol.ParticipantRange[T]{
				ParticipantId: p,
				Steps:         []step.Step[T]{st},
			})
		}
		out.Ranges = append(out.Ranges, rg)
	}
	return out
}

func containsParticipant[T any](prs []protocol.ParticipantRange[T], p tickid.ParticipantId) bool {
	for _, pr := range prs {
		if pr.ParticipantId == p {
			return true
		}
	}
	return false
}

func (s *Session[T]) allocateTransferId() blobstream.TransferId {
	id := s.nextTransferId
	s.nextTransferId++
	return blobstream.TransferId(id)
}
