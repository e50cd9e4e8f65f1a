// Package ordereddatagram implements the per-connection 16-bit sequence
// framing and client-time echo described in spec.md §4.7: every outgoing
// datagram is prefixed with a sequence number and a client-time value, and
// the receiver uses wrap-safe arithmetic to compute a drop count.
package ordereddatagram

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the byte length of the prepended seq+client-time header.
const HeaderSize = 4

// MaxAcceptableWindow bounds how far ahead of the expected sequence an
// incoming datagram may be before it is rejected as out of order.
const MaxAcceptableWindow = 1000

// WrongOrderError is returned by Parse when a sequence falls outside the
// acceptable window.
type WrongOrderError struct {
	Expected uint16
	Got      uint16
}

func (e *WrongOrderError) Error() string {
	return fmt.Sprintf("wrong order: expected %d, got %d", e.Expected, e.Got)
}

// Outgoing tracks the next sequence number to stamp on a sent datagram.
type Outgoing struct {
	seq uint16
}

// Prepend writes the 4-byte header (seq, clientTime) in front of payload
// and increments the outgoing sequence counter.
func (o *Outgoing) Prepend(clientTime uint16, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(out[0:2], o.seq)
	binary.BigEndian.PutUint16(out[2:4], clientTime)
	copy(out[HeaderSize:], payload)
	o.seq++
	return out
}

// Incoming tracks the next sequence number expected from a peer and
// accumulates the drop count implied by gaps.
type Incoming struct {
	expected  uint16
	hasSeen   bool
	dropCount uint64
}

// Parsed is one successfully accepted datagram.
type Parsed struct {
	Seq        uint16
	ClientTime uint16
	Payload    []byte
}

// Parse validates and strips the header from raw, updating drop-count
// bookkeeping. It fails with *WrongOrderError if the sequence diff from
// expected falls outside [0, MaxAcceptableWindow].
func (in *Incoming) Parse(raw []byte) (*Parsed, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("datagram too short: %d bytes", len(raw))
	}
	seq := binary.BigEndian.Uint16(raw[0:2])
	clientTime := binary.BigEndian.Uint16(raw[2:4])

	if in.hasSeen {
		diff := wrappingDiff(seq, in.expected)
		if diff < 0 || diff > MaxAcceptableWindow {
			return nil, &WrongOrderError{Expected: in.expected, Got: seq}
		}
		in.dropCount += uint64(diff)
	}
	in.expected = seq + 1
	in.hasSeen = true

	return &Parsed{Seq: seq, ClientTime: clientTime, Payload: raw[HeaderSize:]}, nil
}

// DropCount returns the cumulative number of dropped datagrams inferred
// from sequence gaps so far.
func (in *Incoming) DropCount() uint64 {
	return in.dropCount
}

// wrappingDiff returns got - expected as a signed delta, accounting for
// 16-bit wraparound, so sequences near the 65536 boundary compare
// correctly.
func wrappingDiff(got, expected uint16) int {
	return int(int16(got - expected))
}
