package protocol

import (
	"fmt"

	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// AuthoritativeRange is one contiguous run of authoritative steps sharing
// the same participant set, as laid out in spec.md §6.
type AuthoritativeRange[T any] struct {
	DeltaTickFromPrevious uint8
	Participants          []ParticipantRange[T]
}

// ParticipantRange carries one participant's contiguous steps within a
// range.
type ParticipantRange[T any] struct {
	ParticipantId            tickid.ParticipantId
	DeltaTickFromRangeStart  uint8
	Steps                    []step.Step[T]
}

// AuthoritativeRanges is the host-to-client authoritative step payload
// layout of spec.md §6.
type AuthoritativeRanges[T any] struct {
	RootTick tickid.TickId
	Ranges   []AuthoritativeRange[T]
}

func encodeAuthoritativeRanges[T any](w *writer, ar AuthoritativeRanges[T], codec step.Codec[T]) error {
	w.tick(ar.RootTick)
	w.u8(uint8(len(ar.Ranges)))
	for _, rg := range ar.Ranges {
		w.u8(rg.DeltaTickFromPrevious)
		w.u8(uint8(len(rg.Participants)))
		for _, pr := range rg.Participants {
			w.participant(pr.ParticipantId)
			w.u8(pr.DeltaTickFromRangeStart)
			w.u8(uint8(len(pr.Steps)))
			for _, s := range pr.Steps {
				if err := encodeStep(w, s, codec); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func decodeAuthoritativeRanges[T any](r *reader, codec step.Codec[T]) AuthoritativeRanges[T] {
	var ar AuthoritativeRanges[T]
	ar.RootTick = r.tick()
	n := int(r.u8())
	for i := 0; i < n; i++ {
		var rg AuthoritativeRange[T]
		rg.DeltaTickFromPrevious = r.u8()
		pn := int(r.u8())
		for p := 0; p < pn; p++ {
			var pr ParticipantRange[T]
			pr.ParticipantId = r.participant()
			pr.DeltaTickFromRangeStart = r.u8()
			sc := int(r.u8())
			for k := 0; k < sc; k++ {
				pr.Steps = append(pr.Steps, decodeStep(r, codec))
				if r.err != nil {
					return ar
				}
			}
			rg.Participants = append(rg.Participants, pr)
		}
		ar.Ranges = append(ar.Ranges, rg)
	}
	return ar
}

// Flatten expands AuthoritativeRanges into a flat, tick-ordered list of
// (tick, participant, step) triples — the shape host and client logic
// actually want to push into a TickQueue.
func (ar AuthoritativeRanges[T]) Flatten() []FlatAuthoritativeTick[T] {
	var out []FlatAuthoritativeTick[T]
	rangeStart := ar.RootTick
	for _, rg := range ar.Ranges {
		rangeStart = rangeStart.Add(uint32(rg.DeltaTickFromPrevious))
		byTick := map[tickid.TickId]step.AuthoritativeStep[T]{}
		var ticksInOrder []tickid.TickId
		for _, pr := range rg.Participants {
			tick := rangeStart.Add(uint32(pr.DeltaTickFromRangeStart))
			for _, s := range pr.Steps {
				if _, ok := byTick[tick]; !ok {
					byTick[tick] = step.AuthoritativeStep[T]{}
					ticksInOrder = append(ticksInOrder, tick)
				}
				byTick[tick][pr.ParticipantId] = s
				tick = tick.Add(1)
			}
		}
		sortTicks(ticksInOrder)
		for _, t := range ticksInOrder {
			out = append(out, FlatAuthoritativeTick[T]{Tick: t, Step: byTick[t]})
		}
	}
	return out
}

func sortTicks(t []tickid.TickId) {
	for i := 1; i < len(t); i++ {
		for j := i; j > 0 && t[j] < t[j-1]; j-- {
			t[j], t[j-1] = t[j-1], t[j]
		}
	}
}

// FlatAuthoritativeTick is one fully-resolved authoritative tick.
type FlatAuthoritativeTick[T any] struct {
	Tick tickid.TickId
	Step step.AuthoritativeStep[T]
}

// GameStepHeader is the fixed-size prefix of the 0x08 GameStep command.
type GameStepHeader struct {
	ConnBufferCount  uint8
	DeltaBuffer      int8
	NextExpectedTick tickid.TickId
}

// GameStepResponse is the 0x08 host-to-client command.
type GameStepResponse[T any] struct {
	Header        GameStepHeader
	Authoritative AuthoritativeRanges[T]
}

func encodeGameStepResponse[T any](w *writer, g GameStepResponse[T], codec step.Codec[T]) error {
	w.u8(TagGameStep)
	w.u8(g.Header.ConnBufferCount)
	w.i8(g.Header.DeltaBuffer)
	w.tick(g.Header.NextExpectedTick)
	return encodeAuthoritativeRanges(w, g.Authoritative, codec)
}

func decodeGameStepResponse[T any](r *reader, codec step.Codec[T]) GameStepResponse[T] {
	var g GameStepResponse[T]
	g.Header.ConnBufferCount = r.u8()
	g.Header.DeltaBuffer = r.i8()
	g.Header.NextExpectedTick = r.tick()
	g.Authoritative = decodeAuthoritativeRanges(r, codec)
	return g
}

// JoinedParticipant pairs a client-local slot with its host-assigned id.
type JoinedParticipant struct {
	LocalIndex    tickid.LocalIndex
	ParticipantId tickid.ParticipantId
}

// JoinGameAccepted is the 0x09 host-to-client command.
type JoinGameAccepted struct {
	RequestId     uint8
	SessionSecret uint64
	PartyId       uint8
	Participants  []JoinedParticipant
}

func (j JoinGameAccepted) encode(w *writer) {
	w.u8(TagJoinGameAccepted)
	w.u8(j.RequestId)
	w.u64(j.SessionSecret)
	w.u8(j.PartyId)
	w.u8(uint8(len(j.Participants)))
	for _, p := range j.Participants {
		w.local(p.LocalIndex)
		w.participant(p.ParticipantId)
	}
}

func decodeJoinGameAccepted(r *reader) JoinGameAccepted {
	var j JoinGameAccepted
	j.RequestId = r.u8()
	j.SessionSecret = r.u64()
	j.PartyId = r.u8()
	n := int(r.u8())
	for i := 0; i < n; i++ {
		j.Participants = append(j.Participants, JoinedParticipant{LocalIndex: r.local(), ParticipantId: r.participant()})
	}
	return j
}

// DownloadGameStateResponse is the 0x0B host-to-client command.
type DownloadGameStateResponse struct {
	RequestId  uint8
	Tick       tickid.TickId
	TransferId uint16
}

func (d DownloadGameStateResponse) encode(w *writer) {
	w.u8(TagDownloadGameStateResponse)
	w.u8(d.RequestId)
	w.tick(d.Tick)
	w.u16(d.TransferId)
}

func decodeDownloadGameStateResponse(r *reader) DownloadGameStateResponse {
	var d DownloadGameStateResponse
	d.RequestId = r.u8()
	d.Tick = r.tick()
	d.TransferId = r.u16()
	return d
}

// ConnectionAccepted is the 0x0D host-to-client command.
type ConnectionAccepted struct {
	Flags               uint8
	ResponseToRequestId uint8
}

func (c ConnectionAccepted) encode(w *writer) {
	w.u8(TagConnectionAccepted)
	w.u8(c.Flags)
	w.u8(c.ResponseToRequestId)
}

func decodeConnectionAccepted(r *reader) ConnectionAccepted {
	return ConnectionAccepted{Flags: r.u8(), ResponseToRequestId: r.u8()}
}

// PongCommand is the 0x0E host-to-client command.
type PongCommand struct {
	LowerMillis uint16
}

func (p PongCommand) encode(w *writer) {
	w.u8(TagPong)
	w.u16(p.LowerMillis)
}

func decodePongCommand(r *reader) PongCommand {
	return PongCommand{LowerMillis: r.u16()}
}

// HostToClientCommand is a decoded host-originated command: exactly one of
// the typed fields is populated, selected by Tag.
type HostToClientCommand[T any] struct {
	Tag                       byte
	GameStep                  *GameStepResponse[T]
	JoinGameAccepted          *JoinGameAccepted
	DownloadGameStateResponse *DownloadGameStateResponse
	BlobStreamChannel         *SenderToReceiverCmd
	ConnectionAccepted        *ConnectionAccepted
	Pong                      *PongCommand
}

// EncodeGameStep appends a GameStep command to payload.
func EncodeGameStep[T any](payload []byte, g GameStepResponse[T], codec step.Codec[T]) ([]byte, error) {
	w := &writer{b: payload}
	if err := encodeGameStepResponse(w, g, codec); err != nil {
		return nil, err
	}
	return w.b, nil
}

// EncodeJoinGameAccepted appends a JoinGameAccepted command to payload.
func EncodeJoinGameAccepted(payload []byte, j JoinGameAccepted) []byte {
	w := &writer{b: payload}
	j.encode(w)
	return w.b
}

// EncodeDownloadGameStateResponse appends a DownloadGameStateResponse command.
func EncodeDownloadGameStateResponse(payload []byte, d DownloadGameStateResponse) []byte {
	w := &writer{b: payload}
	d.encode(w)
	return w.b
}

// EncodeConnectionAccepted appends a ConnectionAccepted command to payload.
func EncodeConnectionAccepted(payload []byte, c ConnectionAccepted) []byte {
	w := &writer{b: payload}
	c.encode(w)
	return w.b
}

// EncodePong appends a Pong command to payload.
func EncodePong(payload []byte, p PongCommand) []byte {
	w := &writer{b: payload}
	p.encode(w)
	return w.b
}

// EncodeBlobStreamChannelH2C appends a host-to-client blob-stream command.
func EncodeBlobStreamChannelH2C(payload []byte, cmd SenderToReceiverCmd) []byte {
	w := &writer{b: payload}
	w.u8(TagBlobStreamChannelH2C)
	cmd.encode(w)
	return w.b
}

// DecodeHostToClientCommand reads one tagged command from buf, returning the
// decoded command and the number of bytes consumed.
func DecodeHostToClientCommand[T any](buf []byte, codec step.Codec[T]) (HostToClientCommand[T], int, error) {
	r := newReader(buf)
	tag := r.u8()
	var out HostToClientCommand[T]
	out.Tag = tag
	switch tag {
	case TagGameStep:
		v := decodeGameStepResponse(r, codec)
		out.GameStep = &v
	case TagJoinGameAccepted:
		v := decodeJoinGameAccepted(r)
		out.JoinGameAccepted = &v
	case TagDownloadGameStateResponse:
		v := decodeDownloadGameStateResponse(r)
		out.DownloadGameStateResponse = &v
	case TagBlobStreamChannelH2C:
		v := decodeSenderToReceiverCmd(r)
		out.BlobStreamChannel = &v
	case TagConnectionAccepted:
		v := decodeConnectionAccepted(r)
		out.ConnectionAccepted = &v
	case TagPong:
		v := decodePongCommand(r)
		out.Pong = &v
	default:
		return out, r.pos, fmt.Errorf("unknown host-to-client tag 0x%02x", tag)
	}
	return out, r.pos, r.err
}
