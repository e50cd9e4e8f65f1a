package host

import (
	"errors"
	"testing"
	"time"

	"github.com/andersfylling/rayman-slides/internal/nimbleerr"
	"github.com/andersfylling/rayman-slides/internal/ordereddatagram"
	"github.com/andersfylling/rayman-slides/internal/protocol"
	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

type textCodec struct{}

func (textCodec) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (textCodec) Decode(b []byte) (string, error) { return string(b), nil }

type staticProvider struct {
	tick tickid.TickId
	blob []byte
}

func (p *staticProvider) State() (tickid.TickId, []byte) { return p.tick, p.blob }

var hostVersion = protocol.AppVersion{Major: 0, Minor: 1, Patch: 2}

// fakeClient frames command payloads like a remote peer would.
type fakeClient struct {
	out ordereddatagram.Outgoing
	in  ordereddatagram.Incoming
}

func (f *fakeClient) frame(payload []byte) []byte {
	return f.out.Prepend(0, payload)
}

func (f *fakeClient) parse(t *testing.T, raw []byte) []protocol.HostToClientCommand[string] {
	t.Helper()
	parsed, err := f.in.Parse(raw)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	var cmds []protocol.HostToClientCommand[string]
	buf := parsed.Payload
	for len(buf) > 0 {
		cmd, n, err := protocol.DecodeHostToClientCommand[string](buf, textCodec{})
		if err != nil {
			t.Fatalf("decode response command: %v", err)
		}
		cmds = append(cmds, cmd)
		buf = buf[n:]
	}
	return cmds
}

func newTestSession() *Session[string] {
	return NewSession[string](textCodec{}, &staticProvider{}, Config{RequiredVersion: hostVersion})
}

func connectAndJoin(t *testing.T, s *Session[string], fc *fakeClient, locals []tickid.LocalIndex) (*Connection[string], []protocol.JoinedParticipant) {
	t.Helper()
	conn, err := s.CreateConnection()
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}

	payload := protocol.EncodeConnect(nil, protocol.ConnectRequest{
		NimbleVersion: protocol.CurrentNimbleVersion,
		AppVersion:    hostVersion,
		RequestId:     1,
	})
	resp, agg := conn.Receive(fc.frame(payload), time.Now())
	if agg.WorstSeverity() != nimbleerr.Info || len(agg.Errors) != 0 {
		t.Fatalf("connect errors: %v", agg.Errors)
	}
	cmds := fc.parse(t, resp)
	if len(cmds) != 1 || cmds[0].ConnectionAccepted == nil {
		t.Fatalf("expected ConnectionAccepted, got %+v", cmds)
	}

	payload = protocol.EncodeJoinGame(nil, protocol.JoinGameRequest{RequestId: 2, LocalIndices: locals})
	resp, agg = conn.Receive(fc.frame(payload), time.Now())
	if len(agg.Errors) != 0 {
		t.Fatalf("join errors: %v", agg.Errors)
	}
	cmds = fc.parse(t, resp)
	if len(cmds) != 1 || cmds[0].JoinGameAccepted == nil {
		t.Fatalf("expected JoinGameAccepted, got %+v", cmds)
	}
	return conn, cmds[0].JoinGameAccepted.Participants
}

func stepsPayload(ack tickid.TickId, local tickid.LocalIndex, first tickid.TickId, values []string) []byte {
	payload, err := protocol.EncodeSteps(nil, protocol.StepsRequest[string]{
		AckWaitingForTick: ack,
		Predicted: protocol.SerializedPredicted[string]{
			FirstTick: first,
			Players: []protocol.PredictedPlayerBatch[string]{
				{LocalIndex: local, FirstTick: first, Steps: values},
			},
		},
	}, textCodec{})
	if err != nil {
		panic(err)
	}
	return payload
}

func TestConnectVersionMismatchIsCritical(t *testing.T) {
	// S4 from spec.md: client advertises (0,1,3) against host (0,1,2).
	s := newTestSession()
	conn, err := s.CreateConnection()
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	fc := &fakeClient{}

	payload := protocol.EncodeConnect(nil, protocol.ConnectRequest{
		NimbleVersion: protocol.CurrentNimbleVersion,
		AppVersion:    protocol.AppVersion{Major: 0, Minor: 1, Patch: 3},
		RequestId:     1,
	})
	resp, agg := conn.Receive(fc.frame(payload), time.Now())
	if resp != nil {
		t.Fatalf("expected no response, got %d bytes", len(resp))
	}
	if !agg.HasCritical() {
		t.Fatalf("expected critical severity, got %s", agg.WorstSeverity())
	}
	if !errors.Is(agg.Errors[0], ErrWrongApplicationVersion) {
		t.Fatalf("expected ErrWrongApplicationVersion, got %v", agg.Errors[0])
	}
	if conn.Phase() != PhaseWaitingForValidConnect {
		t.Fatalf("connection must stay in WaitingForValidConnect, got %s", conn.Phase())
	}
}

func TestCommandsBeforeConnectAreRejected(t *testing.T) {
	s := newTestSession()
	conn, err := s.CreateConnection()
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	fc := &fakeClient{}

	payload := protocol.EncodeJoinGame(nil, protocol.JoinGameRequest{RequestId: 1, LocalIndices: []tickid.LocalIndex{0}})
	resp, agg := conn.Receive(fc.frame(payload), time.Now())
	if resp != nil {
		t.Fatalf("expected no response before connect")
	}
	if agg.WorstSeverity() != nimbleerr.Warning {
		t.Fatalf("expected warning, got %s", agg.WorstSeverity())
	}
}

func TestConnectJoinStepsProducesAuthoritative(t *testing.T) {
	// S1 from spec.md, host side: one participant, one predicted step.
	s := newTestSession()
	fc := &fakeClient{}
	conn, joined := connectAndJoin(t, s, fc, []tickid.LocalIndex{0})
	if len(joined) != 1 || joined[0].ParticipantId != 0 {
		t.Fatalf("expected participant 0, got %+v", joined)
	}

	resp, agg := conn.Receive(fc.frame(stepsPayload(0, 0, 0, []string{"MoveRight"})), time.Now())
	if len(agg.Errors) != 0 {
		t.Fatalf("steps errors: %v", agg.Errors)
	}
	cmds := fc.parse(t, resp)
	if len(cmds) != 1 || cmds[0].GameStep == nil {
		t.Fatalf("expected GameStep, got %+v", cmds)
	}

	gs := cmds[0].GameStep
	if gs.Header.NextExpectedTick != 1 {
		t.Fatalf("expected next expected tick 1, got %s", gs.Header.NextExpectedTick)
	}
	flat := gs.Authoritative.Flatten()
	if len(flat) != 1 {
		t.Fatalf("expected 1 authoritative tick, got %d", len(flat))
	}
	if flat[0].Tick != 0 {
		t.Fatalf("expected tick 0, got %s", flat[0].Tick)
	}
	got := flat[0].Step[0]
	if got.Kind != step.KindCustom || got.Custom != "MoveRight" {
		t.Fatalf("expected Custom(MoveRight), got %+v", got)
	}

	if tip, ok := s.AuthoritativeTip(); !ok || tip != 0 {
		t.Fatalf("expected authoritative tip 0, got %v %v", tip, ok)
	}
}

func TestForcedSubstitutionAcrossConnections(t *testing.T) {
	// Two connections, participant 1 silent for ticks 0 and 1. Its late
	// batch for those ticks is discarded on arrival, and only its forward
	// tick survives.
	s := newTestSession()
	fc0 := &fakeClient{}
	fc1 := &fakeClient{}
	conn0, _ := connectAndJoin(t, s, fc0, []tickid.LocalIndex{0})
	conn1, _ := connectAndJoin(t, s, fc1, []tickid.LocalIndex{0})

	// Client 0 submits ticks 0 and 1; production runs, forcing p1.
	if _, agg := conn0.Receive(fc0.frame(stepsPayload(0, 0, 0, []string{"Jump", "Jump"})), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("steps errors: %v", agg.Errors)
	}

	// Client 1's late batch for ticks 0..2: 0 and 1 are behind production
	// and silently dropped; 2 is buffered and immediately produced, with
	// the now-silent participant 0 forced.
	if _, agg := conn1.Receive(fc1.frame(stepsPayload(0, 0, 0, []string{"Duck", "Duck", "Duck"})), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("late steps errors: %v", agg.Errors)
	}

	_, steps := s.CollectAuthoritative(0, 10)
	if len(steps) != 3 {
		t.Fatalf("expected 3 authoritative ticks, got %d", len(steps))
	}
	for tick := 0; tick < 2; tick++ {
		if steps[tick][0].Kind != step.KindCustom {
			t.Fatalf("tick %d: expected Custom for participant 0, got %s", tick, steps[tick][0].Kind)
		}
		if steps[tick][1].Kind != step.KindForced {
			t.Fatalf("tick %d: expected Forced for participant 1, got %s", tick, steps[tick][1].Kind)
		}
	}
	if steps[2][1].Kind != step.KindCustom || steps[2][1].Custom != "Duck" {
		t.Fatalf("tick 2: expected Custom(Duck) for participant 1, got %+v", steps[2][1])
	}
	if steps[2][0].Kind != step.KindForced {
		t.Fatalf("tick 2: expected Forced for participant 0, got %s", steps[2][0].Kind)
	}

	// Resending already-produced ticks leaves the log unchanged.
	if _, agg := conn0.Receive(fc0.frame(stepsPayload(0, 0, 0, []string{"Jump", "Jump"})), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("resend errors: %v", agg.Errors)
	}
	if tip, _ := s.AuthoritativeTip(); tip != 2 {
		t.Fatalf("expected authoritative tip to stay at 2, got %s", tip)
	}
}

func TestStepsForUnownedLocalIndexIsWarning(t *testing.T) {
	s := newTestSession()
	fc := &fakeClient{}
	conn, _ := connectAndJoin(t, s, fc, []tickid.LocalIndex{0})

	resp, agg := conn.Receive(fc.frame(stepsPayload(0, 7, 0, []string{"x"})), time.Now())
	if agg.WorstSeverity() != nimbleerr.Warning {
		t.Fatalf("expected warning, got %s (%v)", agg.WorstSeverity(), agg.Errors)
	}
	// The response still carries a GameStep; the session just ignored the
	// unknown batch.
	cmds := fc.parse(t, resp)
	if len(cmds) != 1 || cmds[0].GameStep == nil {
		t.Fatalf("expected GameStep response, got %+v", cmds)
	}
	if _, ok := s.AuthoritativeTip(); ok {
		t.Fatal("nothing should have been produced")
	}
}

func TestEmptyJoinYieldsNoFreeParticipantIds(t *testing.T) {
	s := newTestSession()
	fc := &fakeClient{}
	conn, _ := connectAndJoin(t, s, fc, []tickid.LocalIndex{0})

	payload := protocol.EncodeJoinGame(nil, protocol.JoinGameRequest{RequestId: 3})
	_, agg := conn.Receive(fc.frame(payload), time.Now())
	if len(agg.Errors) != 1 || !errors.Is(agg.Errors[0], ErrNoFreeParticipantIds) {
		t.Fatalf("expected ErrNoFreeParticipantIds, got %v", agg.Errors)
	}
}

func TestDownloadAndBlobAckFlow(t *testing.T) {
	// S3-adjacent, host side: a one-chunk blob is offered, acked, and
	// reported fully received.
	blob := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	s := NewSession[string](textCodec{}, &staticProvider{tick: 42, blob: blob}, Config{
		RequiredVersion: hostVersion,
		ChunkSize:       8,
	})
	fc := &fakeClient{}
	conn, _ := connectAndJoin(t, s, fc, []tickid.LocalIndex{0})

	payload := protocol.EncodeDownloadGameState(nil, protocol.DownloadGameStateRequest{RequestId: 1})
	resp, agg := conn.Receive(fc.frame(payload), time.Now())
	if len(agg.Errors) != 0 {
		t.Fatalf("download errors: %v", agg.Errors)
	}
	cmds := fc.parse(t, resp)
	if len(cmds) != 3 {
		t.Fatalf("expected response + start + chunk, got %d commands", len(cmds))
	}
	if cmds[0].DownloadGameStateResponse == nil || cmds[0].DownloadGameStateResponse.Tick != 42 {
		t.Fatalf("unexpected download response: %+v", cmds[0])
	}
	start := cmds[1].BlobStreamChannel
	if start == nil || start.StartTransfer == nil || start.StartTransfer.TotalSize != 8 {
		t.Fatalf("unexpected start transfer: %+v", cmds[1])
	}
	chunk := cmds[2].BlobStreamChannel
	if chunk == nil || chunk.SetChunk == nil || chunk.SetChunk.Index != 0 {
		t.Fatalf("unexpected chunk: %+v", cmds[2])
	}

	transferId := start.StartTransfer.TransferId
	ack := protocol.EncodeBlobStreamChannelC2H(nil, protocol.ReceiverToSenderCmd{
		Tag:      protocol.TagAckChunk,
		AckChunk: &protocol.AckChunkCmd{TransferId: transferId, WaitingFor: 1},
	})
	if _, agg := conn.Receive(fc.frame(ack), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("ack errors: %v", agg.Errors)
	}
	if !conn.outBlob.Stream().IsReceivedByRemote() {
		t.Fatal("transfer should be fully acked")
	}
}

func TestPingIsEchoedAsPong(t *testing.T) {
	s := newTestSession()
	fc := &fakeClient{}
	conn, _ := connectAndJoin(t, s, fc, []tickid.LocalIndex{0})

	payload := protocol.EncodePing(nil, protocol.PingCommand{LowerMillis: 0xBEEF})
	resp, agg := conn.Receive(fc.frame(payload), time.Now())
	if len(agg.Errors) != 0 {
		t.Fatalf("ping errors: %v", agg.Errors)
	}
	cmds := fc.parse(t, resp)
	if len(cmds) != 1 || cmds[0].Pong == nil || cmds[0].Pong.LowerMillis != 0xBEEF {
		t.Fatalf("expected echoed Pong, got %+v", cmds)
	}
}

func TestDestroyConnectionFreesParticipants(t *testing.T) {
	s := newTestSession()
	fc := &fakeClient{}
	conn, joined := connectAndJoin(t, s, fc, []tickid.LocalIndex{0, 1})
	if len(joined) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(joined))
	}

	s.DestroyConnection(conn)
	if s.ConnectionCount() != 0 {
		t.Fatalf("expected no connections, got %d", s.ConnectionCount())
	}

	// The freed ids are immediately reusable by the next connection.
	fc2 := &fakeClient{}
	_, joined2 := connectAndJoin(t, s, fc2, []tickid.LocalIndex{0, 1})
	if len(joined2) != 2 {
		t.Fatalf("expected 2 participants after reuse, got %d", len(joined2))
	}
}
