package protocol

import (
	"fmt"

	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// JoinType distinguishes the three JoinGame request shapes of spec.md §6.
type JoinType uint8

const (
	JoinNoSecret      JoinType = 0
	JoinSessionSecret JoinType = 1
	JoinHostMigration JoinType = 2
)

// JoinGameRequest is the 0x01 client-to-host command.
type JoinGameRequest struct {
	RequestId     uint8
	JoinType      JoinType
	LocalIndices  []tickid.LocalIndex
	SessionSecret uint64        // valid iff JoinType == JoinSessionSecret
	MigrateFrom   tickid.ParticipantId // valid iff JoinType == JoinHostMigration
}

func (j JoinGameRequest) encode(w *writer) {
	w.u8(TagJoinGame)
	w.u8(j.RequestId)
	w.u8(uint8(j.JoinType))
	switch j.JoinType {
	case JoinSessionSecret:
		w.u64(j.SessionSecret)
	case JoinHostMigration:
		w.participant(j.MigrateFrom)
	}
	w.u8(uint8(len(j.LocalIndices)))
	for _, li := range j.LocalIndices {
		w.local(li)
	}
}

func decodeJoinGameRequest(r *reader) JoinGameRequest {
	var j JoinGameRequest
	j.RequestId = r.u8()
	j.JoinType = JoinType(r.u8())
	switch j.JoinType {
	case JoinSessionSecret:
		j.SessionSecret = r.u64()
	case JoinHostMigration:
		j.MigrateFrom = r.participant()
	}
	n := int(r.u8())
	for i := 0; i < n; i++ {
		j.LocalIndices = append(j.LocalIndices, r.local())
	}
	return j
}

// SerializedPredicted is the per-request, per-player predicted step batch
// layout of spec.md §6.
type SerializedPredicted[T any] struct {
	FirstTick tickid.TickId
	Players   []PredictedPlayerBatch[T]
}

// PredictedPlayerBatch carries one LocalIndex's contiguous predicted steps.
type PredictedPlayerBatch[T any] struct {
	LocalIndex  tickid.LocalIndex
	FirstTick   tickid.TickId
	Steps       []T
}

func encodeSerializedPredicted[T any](w *writer, sp SerializedPredicted[T], codec step.Codec[T]) error {
	w.tick(sp.FirstTick)
	w.u8(uint8(len(sp.Players)))
	for _, p := range sp.Players {
		w.local(p.LocalIndex)
		w.tick(p.FirstTick)
		w.u8(uint8(len(p.Steps)))
		for _, s := range p.Steps {
			payload, err := codec.Encode(s)
			if err != nil {
				return err
			}
			w.u16(uint16(len(payload)))
			w.bytes(payload)
		}
	}
	return nil
}

func decodeSerializedPredicted[T any](r *reader, codec step.Codec[T]) SerializedPredicted[T] {
	var sp SerializedPredicted[T]
	sp.FirstTick = r.tick()
	n := int(r.u8())
	for i := 0; i < n; i++ {
		var p PredictedPlayerBatch[T]
		p.LocalIndex = r.local()
		p.FirstTick = r.tick()
		count := int(r.u8())
		for k := 0; k < count; k++ {
			ln := int(r.u16())
			payload := r.bytes(ln)
			if r.err != nil {
				return sp
			}
			v, err := codec.Decode(payload)
			if err != nil {
				r.fail(err)
				return sp
			}
			p.Steps = append(p.Steps, v)
		}
		sp.Players = append(sp.Players, p)
	}
	return sp
}

// StepsRequest is the 0x02 client-to-host command.
type StepsRequest[T any] struct {
	AckWaitingForTick tickid.TickId
	ReceiveMask       uint64 // retained per spec.md §9, never consulted by host logic
	Predicted         SerializedPredicted[T]
}

func encodeStepsRequest[T any](w *writer, s StepsRequest[T], codec step.Codec[T]) error {
	w.u8(TagSteps)
	w.tick(s.AckWaitingForTick)
	w.u64(s.ReceiveMask)
	return encodeSerializedPredicted(w, s.Predicted, codec)
}

func decodeStepsRequest[T any](r *reader, codec step.Codec[T]) StepsRequest[T] {
	var s StepsRequest[T]
	s.AckWaitingForTick = r.tick()
	s.ReceiveMask = r.u64()
	s.Predicted = decodeSerializedPredicted(r, codec)
	return s
}

// DownloadGameStateRequest is the 0x03 client-to-host command.
type DownloadGameStateRequest struct {
	RequestId uint8
}

func (d DownloadGameStateRequest) encode(w *writer) {
	w.u8(TagDownloadGameState)
	w.u8(d.RequestId)
}

func decodeDownloadGameStateRequest(r *reader) DownloadGameStateRequest {
	return DownloadGameStateRequest{RequestId: r.u8()}
}

// ConnectRequest is the 0x05 client-to-host command.
type ConnectRequest struct {
	NimbleVersion NimbleVersion
	Flags         uint8
	AppVersion    AppVersion
	RequestId     uint8
}

func (c ConnectRequest) encode(w *writer) {
	w.u8(TagConnect)
	w.u16(c.NimbleVersion.Major)
	w.u16(c.NimbleVersion.Minor)
	w.u16(c.NimbleVersion.Patch)
	w.u8(c.Flags)
	w.u16(c.AppVersion.Major)
	w.u16(c.AppVersion.Minor)
	w.u16(c.AppVersion.Patch)
	w.u8(c.RequestId)
}

func decodeConnectRequest(r *reader) ConnectRequest {
	var c ConnectRequest
	c.NimbleVersion.Major = r.u16()
	c.NimbleVersion.Minor = r.u16()
	c.NimbleVersion.Patch = r.u16()
	c.Flags = r.u8()
	c.AppVersion.Major = r.u16()
	c.AppVersion.Minor = r.u16()
	c.AppVersion.Patch = r.u16()
	c.RequestId = r.u8()
	return c
}

// PingCommand is the 0x07 client-to-host command.
type PingCommand struct {
	LowerMillis uint16
}

func (p PingCommand) encode(w *writer) {
	w.u8(TagPing)
	w.u16(p.LowerMillis)
}

func decodePingCommand(r *reader) PingCommand {
	return PingCommand{LowerMillis: r.u16()}
}

// ClientToHostCommand is a decoded client-originated command: exactly one
// of the typed fields is populated, selected by Tag.
type ClientToHostCommand[T any] struct {
	Tag                byte
	JoinGame           *JoinGameRequest
	Steps              *StepsRequest[T]
	DownloadGameState  *DownloadGameStateRequest
	BlobStreamChannel  *ReceiverToSenderCmd
	Connect            *ConnectRequest
	Ping               *PingCommand
}

// EncodeJoinGame appends a JoinGame command to payload.
func EncodeJoinGame(payload []byte, j JoinGameRequest) []byte {
	w := &writer{b: payload}
	j.encode(w)
	return w.b
}

// EncodeSteps appends a Steps command to payload.
func EncodeSteps[T any](payload []byte, s StepsRequest[T], codec step.Codec[T]) ([]byte, error) {
	w := &writer{b: payload}
	if err := encodeStepsRequest(w, s, codec); err != nil {
		return nil, err
	}
	return w.b, nil
}

// EncodeDownloadGameState appends a DownloadGameState command to payload.
func EncodeDownloadGameState(payload []byte, d DownloadGameStateRequest) []byte {
	w := &writer{b: payload}
	d.encode(w)
	return w.b
}

// EncodeConnect appends a Connect command to payload.
func EncodeConnect(payload []byte, c ConnectRequest) []byte {
	w := &writer{b: payload}
	c.encode(w)
	return w.b
}

// EncodePing appends a Ping command to payload.
func EncodePing(payload []byte, p PingCommand) []byte {
	w := &writer{b: payload}
	p.encode(w)
	return w.b
}

// EncodeBlobStreamChannelC2H appends a client-to-host blob-stream command.
func EncodeBlobStreamChannelC2H(payload []byte, cmd ReceiverToSenderCmd) []byte {
	w := &writer{b: payload}
	w.u8(TagBlobStreamChannelC2H)
	cmd.encode(w)
	return w.b
}

// DecodeClientToHostCommand reads one tagged command from buf, returning the
// decoded command and the number of bytes consumed.
func DecodeClientToHostCommand[T any](buf []byte, codec step.Codec[T]) (ClientToHostCommand[T], int, error) {
	r := newReader(buf)
	tag := r.u8()
	var out ClientToHostCommand[T]
	out.Tag = tag
	switch tag {
	case TagJoinGame:
		v := decodeJoinGameRequest(r)
		out.JoinGame = &v
	case TagSteps:
		v := decodeStepsRequest(r, codec)
		out.Steps = &v
	case TagDownloadGameState:
		v := decodeDownloadGameStateRequest(r)
		out.DownloadGameState = &v
	case TagBlobStreamChannelC2H:
		v := decodeReceiverToSenderCmd(r)
		out.BlobStreamChannel = &v
	case TagConnect:
		v := decodeConnectRequest(r)
		out.Connect = &v
	case TagPing:
		v := decodePingCommand(r)
		out.Ping = &v
	default:
		return out, r.pos, fmt.Errorf("unknown client-to-host tag 0x%02x", tag)
	}
	return out, r.pos, r.err
}
