package blobstream

import (
	"fmt"
	"time"
)

// TransferId scopes one blob transfer between a sender/receiver pair.
type TransferId uint16

// ErrUnexpectedStartTransfer is the only fatal error at this layer: the
// sender re-emitted StartTransfer mid-transfer.
var ErrUnexpectedStartTransfer = fmt.Errorf("unexpected start transfer mid-transfer")

// SenderFront wraps an OutStream with the TransferId handshake: it records
// the receiver's acknowledgement of StartTransfer. It does not itself hold
// back SetChunk or AckChunk traffic until that acknowledgement arrives.
type SenderFront struct {
	TransferId TransferId
	stream     *OutStream
	ackedStart bool
}

// NewSender begins a new transfer for payload with the given chunk size
// and resend timer.
func NewSender(id TransferId, payload []byte, chunkSize int, resendAfter time.Duration) *SenderFront {
	return &SenderFront{
		TransferId: id,
		stream:     NewOutStream(payload, chunkSize, resendAfter),
	}
}

// Stream exposes the underlying OutStream.
func (s *SenderFront) Stream() *OutStream {
	return s.stream
}

// OnAckStart marks the handshake complete for a matching transfer id.
// Mismatched ids are ignored, per spec.md §4.4.
func (s *SenderFront) OnAckStart(id TransferId) {
	if id != s.TransferId {
		return
	}
	s.ackedStart = true
}

// Ready reports whether AckStart has been received and SetChunk/AckChunk
// may now flow.
func (s *SenderFront) Ready() bool {
	return s.ackedStart
}

// ReceiverFront wraps an InStream with the TransferId handshake.
type ReceiverFront struct {
	TransferId   TransferId
	stream       *InStream
	sawStartOnce bool
}

// NewReceiver begins receiving a transfer announced via StartTransfer.
func NewReceiver(id TransferId, totalSize, chunkSize int) *ReceiverFront {
	return &ReceiverFront{
		TransferId: id,
		stream:     NewInStream(totalSize, chunkSize),
	}
}

// Stream exposes the underlying InStream.
func (r *ReceiverFront) Stream() *InStream {
	return r.stream
}

// OnStartTransfer handles a (possibly repeated) StartTransfer for this
// receiver's transfer id. A second StartTransfer for a transfer already in
// progress is the one fatal error this layer defines. Mismatched ids are
// ignored.
func (r *ReceiverFront) OnStartTransfer(id TransferId) error {
	if id != r.TransferId {
		return nil
	}
	if r.sawStartOnce {
		return ErrUnexpectedStartTransfer
	}
	r.sawStartOnce = true
	return nil
}
