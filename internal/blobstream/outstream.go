// Package blobstream implements the chunked, acknowledged blob transfer
// protocol used to ship an initial authoritative state snapshot from host
// to a joining client, per spec.md §4.4.
package blobstream

import "time"

// DefaultChunkSize matches spec.md §5's default chunk size.
const DefaultChunkSize = 1024

// DefaultResendDuration is 3x an expected round trip, per spec.md §5.
const DefaultResendDuration = 96 * time.Millisecond

// OutStream is the sender side of a single blob transfer: it tracks, per
// chunk, whether it has been acknowledged and when it was last sent.
type OutStream struct {
	payload      []byte
	chunkSize    int
	resendAfter  time.Duration
	acked        []bool
	lastSent     []time.Time
}

// NewOutStream creates an OutStream for payload, split into chunkSize-byte
// chunks (the last chunk may be shorter).
func NewOutStream(payload []byte, chunkSize int, resendAfter time.Duration) *OutStream {
	n := chunkCount(len(payload), chunkSize)
	return &OutStream{
		payload:     payload,
		chunkSize:   chunkSize,
		resendAfter: resendAfter,
		acked:       make([]bool, n),
		lastSent:    make([]time.Time, n),
	}
}

func chunkCount(total, chunkSize int) int {
	if total == 0 {
		return 0
	}
	return (total + chunkSize - 1) / chunkSize
}

// TotalSize returns the payload length in octets.
func (o *OutStream) TotalSize() int {
	return len(o.payload)
}

// ChunkCount returns the total number of chunks in the transfer.
func (o *OutStream) ChunkCount() int {
	return len(o.acked)
}

// Chunk returns the bytes of chunk index i.
func (o *OutStream) Chunk(i int) []byte {
	start := i * o.chunkSize
	end := start + o.chunkSize
	if end > len(o.payload) {
		end = len(o.payload)
	}
	return o.payload[start:end]
}

// Send returns up to max chunk indices that should be (re)sent now:
// never-sent chunks first, then chunks whose last send was more than
// resendAfter ago and are not yet acked.
func (o *OutStream) Send(now time.Time, max int) []int {
	var out []int

	for i, acked := range o.acked {
		if len(out) >= max {
			return out
		}
		if acked {
			continue
		}
		if o.lastSent[i].IsZero() {
			out = append(out, i)
			o.lastSent[i] = now
		}
	}
	for i, acked := range o.acked {
		if len(out) >= max {
			return out
		}
		if acked || o.lastSent[i].IsZero() {
			continue
		}
		if now.Sub(o.lastSent[i]) > o.resendAfter {
			out = append(out, i)
			o.lastSent[i] = now
		}
	}
	return out
}

// SetWaitingForChunkIndex applies a receiver ack: chunks before
// waitingFor are marked acked, and chunks [waitingFor+1 .. waitingFor+64]
// are marked acked according to the bits set in mask.
func (o *OutStream) SetWaitingForChunkIndex(waitingFor int, mask uint64) {
	for i := 0; i < waitingFor && i < len(o.acked); i++ {
		o.acked[i] = true
	}
	for bit := 0; bit < 64; bit++ {
		idx := waitingFor + 1 + bit
		if idx >= len(o.acked) {
			break
		}
		if mask&(uint64(1)<<uint(bit)) != 0 {
			o.acked[idx] = true
		}
	}
}

// IsReceivedByRemote reports whether every chunk has been acknowledged.
func (o *OutStream) IsReceivedByRemote() bool {
	for _, acked := range o.acked {
		if !acked {
			return false
		}
	}
	return true
}
