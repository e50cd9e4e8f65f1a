package protocol

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// byteCodec is a minimal step.Codec[byte] used only to exercise the wire
// layer in isolation from any concrete game's Intent encoding.
type byteCodec struct{}

func (byteCodec) Encode(v byte) ([]byte, error) { return []byte{v}, nil }
func (byteCodec) Decode(b []byte) (byte, error) {
	if len(b) != 1 {
		return 0, errShortPayload
	}
	return b[0], nil
}

var errShortPayload = fmt.Errorf("expected exactly 1 byte")

func TestConnectRoundTrip(t *testing.T) {
	req := ConnectRequest{
		NimbleVersion: CurrentNimbleVersion,
		Flags:         0x01,
		AppVersion:    AppVersion{Major: 0, Minor: 1, Patch: 2},
		RequestId:     7,
	}
	buf := EncodeConnect(nil, req)

	decoded, n, err := DecodeClientToHostCommand[byte](buf, byteCodec{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(buf), n)
	}
	if decoded.Connect == nil || *decoded.Connect != req {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded.Connect, req)
	}
}

func TestJoinGameRoundTrip(t *testing.T) {
	req := JoinGameRequest{
		RequestId:    3,
		JoinType:     JoinNoSecret,
		LocalIndices: []tickid.LocalIndex{0, 1},
	}
	buf := EncodeJoinGame(nil, req)

	decoded, _, err := DecodeClientToHostCommand[byte](buf, byteCodec{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.JoinGame == nil {
		t.Fatal("expected JoinGame field populated")
	}
	if !reflect.DeepEqual(decoded.JoinGame.LocalIndices, req.LocalIndices) {
		t.Fatalf("expected local indices %v, got %v", req.LocalIndices, decoded.JoinGame.LocalIndices)
	}
}

func TestJoinGameWithSessionSecretRoundTrip(t *testing.T) {
	req := JoinGameRequest{
		RequestId:     4,
		JoinType:      JoinSessionSecret,
		SessionSecret: 0xCAFEBABE12345678,
		LocalIndices:  []tickid.LocalIndex{2},
	}
	buf := EncodeJoinGame(nil, req)

	decoded, _, err := DecodeClientToHostCommand[byte](buf, byteCodec{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.JoinGame
	if got.SessionSecret != req.SessionSecret {
		t.Fatalf("expected secret %x, got %x", req.SessionSecret, got.SessionSecret)
	}
	if !reflect.DeepEqual(got.LocalIndices, req.LocalIndices) {
		t.Fatalf("expected local indices %v, got %v", req.LocalIndices, got.LocalIndices)
	}
}

func TestStepsRequestRoundTrip(t *testing.T) {
	req := StepsRequest[byte]{
		AckWaitingForTick: tickid.TickId(5),
		ReceiveMask:       0xDEADBEEF,
		Predicted: SerializedPredicted[byte]{
			FirstTick: tickid.TickId(5),
			Players: []PredictedPlayerBatch[byte]{
				{LocalIndex: 0, FirstTick: tickid.TickId(5), Steps: []byte{1, 2, 3}},
			},
		},
	}
	buf, err := EncodeSteps(nil, req, byteCodec{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, _, err := DecodeClientToHostCommand(buf, byteCodec{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.Steps
	if got == nil {
		t.Fatal("expected Steps field populated")
	}
	if got.AckWaitingForTick != req.AckWaitingForTick || got.ReceiveMask != req.ReceiveMask {
		t.Fatalf("header mismatch: got %+v", got)
	}
	if !reflect.DeepEqual(got.Predicted.Players[0].Steps, req.Predicted.Players[0].Steps) {
		t.Fatalf("predicted steps mismatch: got %v, want %v", got.Predicted.Players[0].Steps, req.Predicted.Players[0].Steps)
	}
}

func TestStepEncodingTags(t *testing.T) {
	cases := []step.Step[byte]{
		step.NewForced[byte](),
		step.NewWaitingForReconnect[byte](),
		step.NewJoined[byte](tickid.TickId(42)),
		step.NewLeft[byte](),
		step.NewCustom[byte](9),
	}
	for _, s := range cases {
		w := &writer{}
		if err := encodeStep(w, s, byteCodec{}); err != nil {
			t.Fatalf("encode %v: %v", s.Kind, err)
		}
		r := newReader(w.b)
		got := decodeStep(r, byteCodec{})
		if got.Kind != s.Kind {
			t.Fatalf("expected kind %v, got %v", s.Kind, got.Kind)
		}
		if s.Kind == step.KindJoined && got.JoinedTick != s.JoinedTick {
			t.Fatalf("expected joined tick %s, got %s", s.JoinedTick, got.JoinedTick)
		}
		if s.Kind == step.KindCustom && got.Custom != s.Custom {
			t.Fatalf("expected custom %v, got %v", s.Custom, got.Custom)
		}
	}
}

func TestGameStepWithAuthoritativeRangesFlatten(t *testing.T) {
	resp := GameStepResponse[byte]{
		Header: GameStepHeader{ConnBufferCount: 1, DeltaBuffer: -1, NextExpectedTick: tickid.TickId(3)},
		Authoritative: AuthoritativeRanges[byte]{
			RootTick: tickid.TickId(0),
			Ranges: []AuthoritativeRange[byte]{
				{
					DeltaTickFromPrevious: 0,
					Participants: []ParticipantRange[byte]{
						{ParticipantId: 0, DeltaTickFromRangeStart: 0, Steps: []step.Step[byte]{step.NewCustom[byte](1), step.NewCustom[byte](2)}},
						{ParticipantId: 1, DeltaTickFromRangeStart: 0, Steps: []step.Step[byte]{step.NewForced[byte](), step.NewForced[byte]()}},
					},
				},
			},
		},
	}

	buf, err := EncodeGameStep(nil, resp, byteCodec{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, _, err := DecodeHostToClientCommand(buf, byteCodec{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.GameStep == nil {
		t.Fatal("expected GameStep populated")
	}
	if decoded.GameStep.Header != resp.Header {
		t.Fatalf("header mismatch: got %+v, want %+v", decoded.GameStep.Header, resp.Header)
	}

	flat := decoded.GameStep.Authoritative.Flatten()
	if len(flat) != 2 {
		t.Fatalf("expected 2 flattened ticks, got %d", len(flat))
	}
	if flat[0].Tick != tickid.TickId(0) || flat[1].Tick != tickid.TickId(1) {
		t.Fatalf("expected ticks 0,1 in order, got %s,%s", flat[0].Tick, flat[1].Tick)
	}
	if flat[0].Step[0].Custom != byte(1) || flat[1].Step[0].Custom != byte(2) {
		t.Fatalf("expected participant 0 customs 1,2 across ticks, got %+v", flat)
	}
	if flat[0].Step[1].Kind != step.KindForced {
		t.Fatalf("expected participant 1 Forced at tick 0, got %v", flat[0].Step[1].Kind)
	}
}

func TestBlobStreamChannelCommandsRoundTrip(t *testing.T) {
	set := SenderToReceiverCmd{Tag: TagSetChunk, SetChunk: &SetChunkCmd{TransferId: 1, Index: 2, Data: []byte{9, 9}}}
	buf := EncodeBlobStreamChannelH2C(nil, set)
	decoded, _, err := DecodeHostToClientCommand[byte](buf, byteCodec{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.BlobStreamChannel == nil || decoded.BlobStreamChannel.SetChunk == nil {
		t.Fatal("expected SetChunk populated")
	}
	if !reflect.DeepEqual(decoded.BlobStreamChannel.SetChunk.Data, set.SetChunk.Data) {
		t.Fatalf("data mismatch: got %v, want %v", decoded.BlobStreamChannel.SetChunk.Data, set.SetChunk.Data)
	}

	ack := ReceiverToSenderCmd{Tag: TagAckChunk, AckChunk: &AckChunkCmd{TransferId: 1, WaitingFor: 3, Mask: 0xFF}}
	buf2 := EncodeBlobStreamChannelC2H(nil, ack)
	decoded2, _, err := DecodeClientToHostCommand[byte](buf2, byteCodec{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded2.BlobStreamChannel == nil || decoded2.BlobStreamChannel.AckChunk == nil {
		t.Fatal("expected AckChunk populated")
	}
	if decoded2.BlobStreamChannel.AckChunk.Mask != ack.AckChunk.Mask {
		t.Fatalf("mask mismatch: got %x, want %x", decoded2.BlobStreamChannel.AckChunk.Mask, ack.AckChunk.Mask)
	}
}
