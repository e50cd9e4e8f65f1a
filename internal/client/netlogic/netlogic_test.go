package netlogic

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

var appVersion = protocol.AppVersion{Major: 0, Minor: 1, Patch: 2}

type recordingState struct {
	tick tickid.TickId
	blob []byte
	seen bool
}

func (r *recordingState) ReceiveState(tick tickid.TickId, blob []byte) error {
	r.tick = tick
	r.blob = append([]byte(nil), blob...)
	r.seen = true
	return nil
}

// hostSim frames host-to-client payloads the way a real host would.
type hostSim struct {
	out ordereddatagram.Outgoing
}

func (h *hostSim) frame(payload []byte) []byte {
	return h.out.Prepend(0, payload)
}

func (h *hostSim) accept(requestId uint8) []byte {
	return h.frame(protocol.EncodeConnectionAccepted(nil, protocol.ConnectionAccepted{
		ResponseToRequestId: requestId,
	}))
}

func (h *hostSim) emptyDownload(requestId uint8, tick tickid.TickId) []byte {
	payload := protocol.EncodeDownloadGameStateResponse(nil, protocol.DownloadGameStateResponse{
		RequestId:  requestId,
		Tick:       tick,
		TransferId: 1,
	})
	payload = protocol.EncodeBlobStreamChannelH2C(payload, protocol.SenderToReceiverCmd{
		Tag:           protocol.TagStartTransfer,
		StartTransfer: &protocol.StartTransferCmd{TransferId: 1, TotalSize: 0, ChunkSize: 8},
	})
	return payload
}

func (h *hostSim) gameStep(next tickid.TickId, ranges protocol.AuthoritativeRanges[string]) []byte {
	payload, err := protocol.EncodeGameStep(nil, protocol.GameStepResponse[string]{
		Header:        protocol.GameStepHeader{NextExpectedTick: next},
		Authoritative: ranges,
	}, textCodec{})
	if err != nil {
		panic(err)
	}
	return h.frame(payload)
}

func singleStepRanges(root tickid.TickId, count int, value string) protocol.AuthoritativeRanges[string] {
	out := protocol.AuthoritativeRanges[string]{RootTick: root}
	for i := 0; i < count; i++ {
		rg := protocol.AuthoritativeRange[string]{}
		if i > 0 {
			rg.DeltaTickFromPrevious = 1
		}
		rg.Participants = []protocol.ParticipantRange[string]{
			{ParticipantId: 0, Steps: []step.Step[string]{step.NewCustom(value)}},
		}
		out.Ranges = append(out.Ranges, rg)
	}
	return out
}

// steadyClient drives a fresh client through connect and an empty-state
// download so tests can start in SendPredictedSteps at startTick.
func steadyClient(t *testing.T, startTick tickid.TickId) (*Client[string], *hostSim, *recordingState) {
	t.Helper()
	state := &recordingState{}
	c := New[string](textCodec{}, appVersion, state)
	h := &hostSim{}

	if _, err := c.Send(time.Now()); err != nil {
		t.Fatalf("send connect: %v", err)
	}
	if agg := c.Receive(h.accept(1), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("receive accept: %v", agg.Errors)
	}
	if c.Phase() != PhaseRequestDownloadState {
		t.Fatalf("expected RequestDownloadState, got %s", c.Phase())
	}
	if agg := c.Receive(h.frame(h.emptyDownload(1, startTick)), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("receive download: %v", agg.Errors)
	}
	if c.Phase() != PhaseSendPredictedSteps {
		t.Fatalf("expected SendPredictedSteps, got %s", c.Phase())
	}
	if !state.seen || state.tick != startTick {
		t.Fatalf("expected state callback at %s, got %+v", startTick, state)
	}
	return c, h, state
}

func TestConnectPhaseEmitsConnectRequest(t *testing.T) {
	c := New[string](textCodec{}, appVersion, nil)
	raw, err := c.Send(time.Now())
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var in ordereddatagram.Incoming
	parsed, err := in.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cmd, _, err := protocol.DecodeClientToHostCommand[string](parsed.Payload, textCodec{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Connect == nil {
		t.Fatalf("expected Connect command, got tag 0x%02x", cmd.Tag)
	}
	if !cmd.Connect.AppVersion.Equal(appVersion) {
		t.Fatalf("unexpected app version %+v", cmd.Connect.AppVersion)
	}
}

func TestConnectResponseToWrongRequestIdIsInfo(t *testing.T) {
	c := New[string](textCodec{}, appVersion, nil)
	h := &hostSim{}

	agg := c.Receive(h.accept(99), time.Now())
	if len(agg.Errors) != 1 || nimbleerr.SeverityOf(agg.Errors[0]) != nimbleerr.Info {
		t.Fatalf("expected one info error, got %v", agg.Errors)
	}
	if c.Phase() != PhaseRequestConnect {
		t.Fatalf("client must stay in RequestConnect, got %s", c.Phase())
	}
}

func TestEmptyStateDownloadReachesSteadyState(t *testing.T) {
	steadyClient(t, 0)
}

func TestDownloadSeedsQueuesAtSnapshotTick(t *testing.T) {
	c, _, _ := steadyClient(t, 10)
	if c.NextPredictedTick() != 10 {
		t.Fatalf("expected next predicted tick 10, got %s", c.NextPredictedTick())
	}
	first, steps := c.PopAllAuthoritativeSteps()
	if first != 10 || len(steps) != 0 {
		t.Fatalf("expected empty authoritative queue at 10, got %s with %d steps", first, len(steps))
	}
}

func TestPushEmptyPredictedStepFails(t *testing.T) {
	c, _, _ := steadyClient(t, 0)
	err := c.PushPredictedStep(0, step.PredictedStep[string]{})
	if !errors.Is(err, ErrCanNotPushEmptyPredictedSteps) {
		t.Fatalf("expected ErrCanNotPushEmptyPredictedSteps, got %v", err)
	}
}

func TestDuplicatePredictedPushFails(t *testing.T) {
	c, _, _ := steadyClient(t, 0)
	if err := c.PushPredictedStep(0, step.PredictedStep[string]{0: "a"}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := c.PushPredictedStep(0, step.PredictedStep[string]{0: "a"}); err == nil {
		t.Fatal("second push of the same tick must fail")
	}
}

func TestAckDiscardsAcknowledgedPredictions(t *testing.T) {
	// S6 from spec.md: predicted [10..13], host acks up to 12.
	c, h, _ := steadyClient(t, 10)
	for tick := 10; tick <= 13; tick++ {
		if err := c.PushPredictedStep(tickid.TickId(tick), step.PredictedStep[string]{0: "x"}); err != nil {
			t.Fatalf("push tick %d: %v", tick, err)
		}
	}

	if agg := c.Receive(h.gameStep(12, protocol.AuthoritativeRanges[string]{RootTick: 10}), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("receive game step: %v", agg.Errors)
	}
	if c.PredictedQueueLen() != 2 {
		t.Fatalf("expected 2 remaining predictions, got %d", c.PredictedQueueLen())
	}
	if c.NextPredictedTick() != 14 {
		t.Fatalf("expected next predicted tick 14, got %s", c.NextPredictedTick())
	}
}

func TestOverlappingAuthoritativeRangesAreIdempotent(t *testing.T) {
	c, h, _ := steadyClient(t, 0)

	if agg := c.Receive(h.gameStep(0, singleStepRanges(0, 3, "a")), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("first ranges: %v", agg.Errors)
	}
	// The host resends ticks 1..3; only tick 3 is new.
	if agg := c.Receive(h.gameStep(0, singleStepRanges(1, 3, "b")), time.Now()); len(agg.Errors) != 0 {
		t.Fatalf("second ranges: %v", agg.Errors)
	}

	first, steps := c.PopAllAuthoritativeSteps()
	if first != 0 || len(steps) != 4 {
		t.Fatalf("expected 4 steps from tick 0, got %d from %s", len(steps), first)
	}
	// Overlapping resends must not replace already-accepted ticks.
	if steps[1][0].Custom != "a" || steps[2][0].Custom != "a" {
		t.Fatalf("overlap overwrote accepted ticks: %+v", steps)
	}
	if steps[3][0].Custom != "b" {
		t.Fatalf("expected new tick 3 to be accepted: %+v", steps[3])
	}
}

func TestStepsRequestCarriesPredictedBatch(t *testing.T) {
	c, _, _ := steadyClient(t, 0)
	if err := c.PushPredictedStep(0, step.PredictedStep[string]{0: "left"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := c.PushPredictedStep(1, step.PredictedStep[string]{0: "right"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	raw, err := c.Send(time.Now())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var in ordereddatagram.Incoming
	parsed, err := in.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// The final blob ack precedes the first steps request; find the Steps
	// command in the datagram.
	var stepsCmd *protocol.StepsRequest[string]
	buf := parsed.Payload
	for len(buf) > 0 {
		cmd, n, err := protocol.DecodeClientToHostCommand[string](buf, textCodec{})
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		buf = buf[n:]
		if cmd.Steps != nil {
			stepsCmd = cmd.Steps
		}
	}
	if stepsCmd == nil {
		t.Fatal("expected a Steps command")
	}
	if len(stepsCmd.Predicted.Players) != 1 {
		t.Fatalf("expected one player batch, got %d", len(stepsCmd.Predicted.Players))
	}
	batch := stepsCmd.Predicted.Players[0]
	if batch.FirstTick != 0 || len(batch.Steps) != 2 || batch.Steps[0] != "left" || batch.Steps[1] != "right" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}
