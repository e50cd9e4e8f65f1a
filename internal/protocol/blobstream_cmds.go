package protocol

import "fmt"

// SenderToReceiverCmd is a blob-stream sub-command sent sender->receiver
// (host->client for a state download, or the reverse for host migration
// scenarios the core stays agnostic to).
type SenderToReceiverCmd struct {
	Tag          byte
	SetChunk     *SetChunkCmd
	StartTransfer *StartTransferCmd
}

// SetChunkCmd carries one chunk's bytes.
type SetChunkCmd struct {
	TransferId uint16
	Index      uint32
	Data       []byte
}

// StartTransferCmd announces a new blob transfer.
type StartTransferCmd struct {
	TransferId uint16
	TotalSize  uint32
	ChunkSize  uint16
}

func (c SenderToReceiverCmd) encode(w *writer) {
	switch c.Tag {
	case TagSetChunk:
		w.u8(TagSetChunk)
		w.u16(c.SetChunk.TransferId)
		w.u32(c.SetChunk.Index)
		w.u16(uint16(len(c.SetChunk.Data)))
		w.bytes(c.SetChunk.Data)
	case TagStartTransfer:
		w.u8(TagStartTransfer)
		w.u16(c.StartTransfer.TransferId)
		w.u32(c.StartTransfer.TotalSize)
		w.u16(c.StartTransfer.ChunkSize)
	}
}

func decodeSenderToReceiverCmd(r *reader) SenderToReceiverCmd {
	tag := r.u8()
	var out SenderToReceiverCmd
	out.Tag = tag
	switch tag {
	case TagSetChunk:
		var s SetChunkCmd
		s.TransferId = r.u16()
		s.Index = r.u32()
		n := int(r.u16())
		s.Data = r.bytes(n)
		out.SetChunk = &s
	case TagStartTransfer:
		var s StartTransferCmd
		s.TransferId = r.u16()
		s.TotalSize = r.u32()
		s.ChunkSize = r.u16()
		out.StartTransfer = &s
	default:
		r.fail(fmt.Errorf("unknown sender-to-receiver blob tag 0x%02x", tag))
	}
	return out
}

// ReceiverToSenderCmd is a blob-stream sub-command sent receiver->sender.
type ReceiverToSenderCmd struct {
	Tag      byte
	AckStart *AckStartCmd
	AckChunk *AckChunkCmd
}

// AckStartCmd acknowledges a StartTransfer handshake.
type AckStartCmd struct {
	TransferId uint16
}

// AckChunkCmd reports reassembly progress.
type AckChunkCmd struct {
	TransferId uint16
	WaitingFor uint32
	Mask       uint64
}

func (c ReceiverToSenderCmd) encode(w *writer) {
	switch c.Tag {
	case TagAckStart:
		w.u8(TagAckStart)
		w.u16(c.AckStart.TransferId)
	case TagAckChunk:
		w.u8(TagAckChunk)
		w.u16(c.AckChunk.TransferId)
		w.u32(c.AckChunk.WaitingFor)
		w.u64(c.AckChunk.Mask)
	}
}

func decodeReceiverToSenderCmd(r *reader) ReceiverToSenderCmd {
	tag := r.u8()
	var out ReceiverToSenderCmd
	out.Tag = tag
	switch tag {
	case TagAckStart:
		var a AckStartCmd
		a.TransferId = r.u16()
		out.AckStart = &a
	case TagAckChunk:
		var a AckChunkCmd
		a.TransferId = r.u16()
		a.WaitingFor = r.u32()
		a.Mask = r.u64()
		out.AckChunk = &a
	default:
		r.fail(fmt.Errorf("unknown receiver-to-sender blob tag 0x%02x", tag))
	}
	return out
}
