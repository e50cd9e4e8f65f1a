// Package protocol implements the compact binary wire encoding of spec.md
// §6: client-to-host and host-to-client commands, the SerializedPredicted
// and AuthoritativeRanges layouts, and Step<T> encoding. All integers are
// big-endian.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// Client-to-host command tags.
const (
	TagJoinGame           byte = 0x01
	TagSteps              byte = 0x02
	TagDownloadGameState  byte = 0x03
	TagBlobStreamChannelC2H byte = 0x04
	TagConnect            byte = 0x05
	TagPing               byte = 0x07
)

// Host-to-client command tags.
const (
	TagGameStep                  byte = 0x08
	TagJoinGameAccepted          byte = 0x09
	TagDownloadGameStateResponse byte = 0x0B
	TagBlobStreamChannelH2C      byte = 0x0C
	TagConnectionAccepted        byte = 0x0D
	TagPong                      byte = 0x0E
)

// Blob-stream sub-command tags (spec.md §6).
const (
	TagSetChunk      byte = 0x01
	TagStartTransfer byte = 0x02
	TagAckStart      byte = 0x03
	TagAckChunk      byte = 0x04
)

// NimbleVersion is the fixed protocol version constant exchanged on
// Connect, currently 0.0.5.
type NimbleVersion struct {
	Major, Minor, Patch uint16
}

// CurrentNimbleVersion is this module's wire-protocol version.
var CurrentNimbleVersion = NimbleVersion{Major: 0, Minor: 0, Patch: 5}

// AppVersion is the application-defined simulation version; it must match
// byte-exactly between client and host.
type AppVersion struct {
	Major, Minor, Patch uint16
}

func (a AppVersion) Equal(b AppVersion) bool {
	return a == b
}

type reader struct {
	b   []byte
	pos int
	err error
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.b) {
		r.fail(fmt.Errorf("unexpected end of buffer: need %d bytes at pos %d, have %d", n, r.pos, len(r.b)))
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *reader) i8() int8 {
	return int8(r.u8())
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v
}

func (r *reader) tick() tickid.TickId {
	return tickid.TickId(r.u32())
}

func (r *reader) participant() tickid.ParticipantId {
	return tickid.ParticipantId(r.u8())
}

func (r *reader) local() tickid.LocalIndex {
	return tickid.LocalIndex(r.u8())
}

type writer struct {
	b []byte
}

func (w *writer) u8(v uint8)  { w.b = append(w.b, v) }
func (w *writer) i8(v int8)   { w.b = append(w.b, byte(v)) }
func (w *writer) u16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.b = append(w.b, buf[:]...)
}
func (w *writer) u32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.b = append(w.b, buf[:]...)
}
func (w *writer) u64(v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.b = append(w.b, buf[:]...)
}
func (w *writer) bytes(b []byte) { w.b = append(w.b, b...) }
func (w *writer) tick(t tickid.TickId) { w.u32(uint32(t)) }
func (w *writer) participant(p tickid.ParticipantId) { w.u8(uint8(p)) }
func (w *writer) local(l tickid.LocalIndex) { w.u8(uint8(l)) }

// encodeStep writes a Step<T> using codec for the Custom payload.
func encodeStep[T any](w *writer, s step.Step[T], codec step.Codec[T]) error {
	w.u8(uint8(s.Kind))
	switch s.Kind {
	case step.KindJoined:
		w.tick(s.JoinedTick)
	case step.KindCustom:
		payload, err := codec.Encode(s.Custom)
		if err != nil {
			return err
		}
		w.u16(uint16(len(payload)))
		w.bytes(payload)
	}
	return nil
}

// decodeStep reads a Step<T> using codec for the Custom payload.
func decodeStep[T any](r *reader, codec step.Codec[T]) step.Step[T] {
	kind := step.Kind(r.u8())
	switch kind {
	case step.KindJoined:
		return step.NewJoined[T](r.tick())
	case step.KindCustom:
		n := int(r.u16())
		payload := r.bytes(n)
		if r.err != nil {
			return step.Step[T]{}
		}
		v, err := codec.Decode(payload)
		if err != nil {
			r.fail(err)
			return step.Step[T]{}
		}
		return step.NewCustom(v)
	case step.KindForced:
		return step.NewForced[T]()
	case step.KindLeft:
		return step.NewLeft[T]()
	case step.KindWaitingForReconnect:
		return step.NewWaitingForReconnect[T]()
	default:
		r.fail(fmt.Errorf("unknown step kind %d", kind))
		return step.Step[T]{}
	}
}
