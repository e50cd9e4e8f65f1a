// Package netlogic implements the client-side phase machine of the
// rollback-netcode protocol: connect, download the authoritative state
// snapshot, then steady-state predicted-step submission against the host's
// authoritative step stream.
package netlogic

import (
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/andersfylling/rayman-slides/internal/blobstream"
	"github.com/andersfylling/rayman-slides/internal/nimbleerr"
	"github.com/andersfylling/rayman-slides/internal/nimblemetrics"
	"github.com/andersfylling/rayman-slides/internal/ordereddatagram"
	"github.com/andersfylling/rayman-slides/internal/protocol"
	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
	"github.com/andersfylling/rayman-slides/internal/tickqueue"
)

var log = logging.MustGetLogger("netlogic")

// MaxPredictedTicksPerRequest bounds the predicted batch one Steps request
// carries.
const MaxPredictedTicksPerRequest = 32

// Phase is the client state machine of spec.md §4.6.
type Phase uint8

const (
	// PhaseRequestConnect sends ConnectRequest until accepted.
	PhaseRequestConnect Phase = iota
	// PhaseRequestDownloadState sends DownloadGameStateRequest until the
	// host answers with a transfer id.
	PhaseRequestDownloadState
	// PhaseDownloadingState acknowledges blob chunks until the snapshot is
	// complete.
	PhaseDownloadingState
	// PhaseSendPredictedSteps is the steady state: predicted steps out,
	// authoritative steps in.
	PhaseSendPredictedSteps
)

func (p Phase) String() string {
	switch p {
	case PhaseRequestConnect:
		return "RequestConnect"
	case PhaseRequestDownloadState:
		return "RequestDownloadState"
	case PhaseDownloadingState:
		return "DownloadingState"
	case PhaseSendPredictedSteps:
		return "SendPredictedSteps"
	default:
		return "unknown"
	}
}

// ErrCanNotPushEmptyPredictedSteps rejects an empty per-tick prediction map.
var ErrCanNotPushEmptyPredictedSteps = nimbleerr.New(nimbleerr.Warning, "can not push empty predicted steps")

// StateReceiver is the caller-supplied decoder for the downloaded snapshot
// blob.
type StateReceiver interface {
	ReceiveState(tick tickid.TickId, blob []byte) error
}

// Client drives one connection's worth of client-side protocol state.
type Client[T any] struct {
	codec         step.Codec[T]
	appVersion    protocol.AppVersion
	stateReceiver StateReceiver

	phase Phase

	connectRequestId  uint8
	downloadRequestId uint8
	downloadTick      tickid.TickId
	downloadTransfer  uint16
	hasDownloadResp   bool
	receiver          *blobstream.ReceiverFront
	finalAckPending   bool

	joinPending   []tickid.LocalIndex
	joinRequestId uint8
	joined        []protocol.JoinedParticipant
	sessionSecret uint64
	hasJoined     bool

	outgoingPredicted     *tickqueue.Queue[step.PredictedStep[T]]
	incomingAuthoritative *tickqueue.Queue[step.AuthoritativeStep[T]]

	outgoing      ordereddatagram.Outgoing
	incoming      ordereddatagram.Incoming
	lastDropCount uint64

	metrics *nimblemetrics.ConnectionMetrics
}

// New creates a client in the RequestConnect phase. The queues are re-seeded
// to the downloaded snapshot tick once the state transfer completes.
func New[T any](codec step.Codec[T], appVersion protocol.AppVersion, stateReceiver StateReceiver) *Client[T] {
	return &Client[T]{
		codec:                 codec,
		appVersion:            appVersion,
		stateReceiver:         stateReceiver,
		connectRequestId:      1,
		downloadRequestId:     1,
		joinRequestId:         1,
		outgoingPredicted:     tickqueue.New[step.PredictedStep[T]](0),
		incomingAuthoritative: tickqueue.New[step.AuthoritativeStep[T]](0),
		metrics:               nimblemetrics.NewConnectionMetrics(),
	}
}

// Phase returns the current protocol phase.
func (c *Client[T]) Phase() Phase { return c.phase }

// Metrics exposes the connection's rate and latency aggregates.
func (c *Client[T]) Metrics() *nimblemetrics.ConnectionMetrics { return c.metrics }

// RequestJoin queues a JoinGameRequest for the given local player slots; it
// is emitted alongside phase traffic once the connection is past
// RequestConnect.
func (c *Client[T]) RequestJoin(localIndices []tickid.LocalIndex) {
	c.joinPending = append([]tickid.LocalIndex(nil), localIndices...)
	c.joinRequestId++
}

// Joined returns the (local index, participant id) pairs granted by the
// host, and whether a join has been accepted yet.
func (c *Client[T]) Joined() ([]protocol.JoinedParticipant, bool) {
	return c.joined, c.hasJoined
}

// SessionSecret returns the secret echoed by JoinGameAccepted.
func (c *Client[T]) SessionSecret() uint64 { return c.sessionSecret }

// PushPredictedStep appends one tick's worth of local predictions to the
// outgoing queue. Empty maps are rejected; tick gaps and duplicates fail
// with the queue's contiguity error.
func (c *Client[T]) PushPredictedStep(tick tickid.TickId, predicted step.PredictedStep[T]) error {
	if len(predicted) == 0 {
		return ErrCanNotPushEmptyPredictedSteps
	}
	return c.outgoingPredicted.Push(tick, predicted)
}

// NextPredictedTick returns the tick the next PushPredictedStep must carry.
func (c *Client[T]) NextPredictedTick() tickid.TickId {
	return c.outgoingPredicted.ExpectedWriteTick()
}

// PredictedQueueLen reports how many predicted ticks await acknowledgement.
func (c *Client[T]) PredictedQueueLen() int {
	return c.outgoingPredicted.Len()
}

// PopAllAuthoritativeSteps drains the incoming authoritative queue for
// handoff into Rectify, returning the first drained tick.
func (c *Client[T]) PopAllAuthoritativeSteps() (tickid.TickId, []step.AuthoritativeStep[T]) {
	first := c.incomingAuthoritative.FrontTick()
	out := make([]step.AuthoritativeStep[T], 0, c.incomingAuthoritative.Len())
	for {
		_, s, ok := c.incomingAuthoritative.Pop()
		if !ok {
			break
		}
		out = append(out, s)
	}
	return first, out
}

// Send builds the next outgoing datagram: the commands appropriate to the
// current phase, plus a pending JoinGameRequest once past RequestConnect.
func (c *Client[T]) Send(now time.Time) ([]byte, error) {
	var payload []byte
	var err error

	switch c.phase {
	case PhaseRequestConnect:
		payload = protocol.EncodeConnect(payload, protocol.ConnectRequest{
			NimbleVersion: protocol.CurrentNimbleVersion,
			AppVersion:    c.appVersion,
			RequestId:     c.connectRequestId,
		})
	case PhaseRequestDownloadState:
		payload = protocol.EncodeDownloadGameState(payload, protocol.DownloadGameStateRequest{
			RequestId: c.downloadRequestId,
		})
	case PhaseDownloadingState:
		payload = c.appendBlobAcks(payload)
	case PhaseSendPredictedSteps:
		if c.finalAckPending {
			payload = c.appendBlobAcks(payload)
			c.finalAckPending = false
			c.receiver = nil
		}
		payload, err = c.appendStepsRequest(payload)
		if err != nil {
			return nil, err
		}
	}

	if c.joinPending != nil && c.phase != PhaseRequestConnect {
		payload = protocol.EncodeJoinGame(payload, protocol.JoinGameRequest{
			RequestId:    c.joinRequestId,
			JoinType:     protocol.JoinNoSecret,
			LocalIndices: c.joinPending,
		})
	}

	if len(payload) == 0 {
		return nil, nil
	}
	out := c.outgoing.Prepend(lowMillis(now), payload)
	c.metrics.DatagramsOut.Add(now, 1)
	c.metrics.OctetsOut.Add(now, uint64(len(out)))
	return out, nil
}

// appendBlobAcks emits the receiver's view of the in-progress transfer. A
// lost StartTransfer leaves the receiver nil; re-requesting the download is
// how the client recovers the handshake.
func (c *Client[T]) appendBlobAcks(payload []byte) []byte {
	if c.receiver == nil {
		return protocol.EncodeDownloadGameState(payload, protocol.DownloadGameStateRequest{
			RequestId: c.downloadRequestId,
		})
	}
	waitingFor, mask := c.receiver.Stream().Send()
	if waitingFor == 0 && mask == 0 {
		payload = protocol.EncodeBlobStreamChannelC2H(payload, protocol.ReceiverToSenderCmd{
			Tag:      protocol.TagAckStart,
			AckStart: &protocol.AckStartCmd{TransferId: uint16(c.receiver.TransferId)},
		})
	}
	return protocol.EncodeBlobStreamChannelC2H(payload, protocol.ReceiverToSenderCmd{
		Tag: protocol.TagAckChunk,
		AckChunk: &protocol.AckChunkCmd{
			TransferId: uint16(c.receiver.TransferId),
			WaitingFor: uint32(waitingFor),
			Mask:       mask,
		},
	})
}

func (c *Client[T]) appendStepsRequest(payload []byte) ([]byte, error) {
	req := protocol.StepsRequest[T]{
		AckWaitingForTick: c.incomingAuthoritative.ExpectedWriteTick(),
		Predicted:         c.serializePredicted(),
	}
	return protocol.EncodeSteps(payload, req, c.codec)
}

// serializePredicted lays the outgoing predicted queue out per local index.
// Each tick's map must cover every index it wants carried; a map missing an
// index ends that index's batch at the preceding tick.
func (c *Client[T]) serializePredicted() protocol.SerializedPredicted[T] {
	out := protocol.SerializedPredicted[T]{FirstTick: c.outgoingPredicted.FrontTick()}
	if c.outgoingPredicted.Len() == 0 {
		return out
	}

	perIndex := make(map[tickid.LocalIndex]*protocol.PredictedPlayerBatch[T])
	var indexOrder []tickid.LocalIndex
	count := 0
	c.outgoingPredicted.Iter(func(tick tickid.TickId, predicted step.PredictedStep[T]) bool {
		if count >= MaxPredictedTicksPerRequest {
			return false
		}
		count++
		for li, v := range predicted {
			batch, ok := perIndex[li]
			if !ok {
				batch = &protocol.PredictedPlayerBatch[T]{LocalIndex: li, FirstTick: tick}
				perIndex[li] = batch
				indexOrder = append(indexOrder, li)
			}
			if batch.FirstTick.Add(uint32(len(batch.Steps))) == tick {
				batch.Steps = append(batch.Steps, v)
			}
		}
		return true
	})
	for _, li := range indexOrder {
		out.Players = append(out.Players, *perIndex[li])
	}
	return out
}

// Receive processes one raw datagram from the host. Errors are aggregated
// per datagram with the worst severity preserved.
func (c *Client[T]) Receive(raw []byte, now time.Time) *nimbleerr.Aggregate {
	agg := &nimbleerr.Aggregate{}
	c.metrics.DatagramsIn.Add(now, 1)
	c.metrics.OctetsIn.Add(now, uint64(len(raw)))

	parsed, err := c.incoming.Parse(raw)
	if err != nil {
		if _, wrongOrder := err.(*ordereddatagram.WrongOrderError); wrongOrder {
			agg.Add(nimbleerr.Wrap(nimbleerr.Info, err))
		} else {
			agg.Add(nimbleerr.Wrap(nimbleerr.Critical, err))
		}
		return agg
	}
	c.metrics.Latency.Observe(float64(nimblemetrics.EstimateRTTMillis(lowMillis(now), parsed.ClientTime)))
	if drops := c.incoming.DropCount(); drops != c.lastDropCount {
		c.metrics.DropCount.Observe(float64(drops - c.lastDropCount))
		c.lastDropCount = drops
	} else {
		c.metrics.DropCount.Observe(0)
	}

	buf := parsed.Payload
	for len(buf) > 0 {
		cmd, n, decodeErr := protocol.DecodeHostToClientCommand(buf, c.codec)
		if decodeErr != nil {
			agg.Add(nimbleerr.Wrap(nimbleerr.Warning, decodeErr))
			break
		}
		buf = buf[n:]
		if cmdErr := c.handle(cmd); cmdErr != nil {
			agg.Add(cmdErr)
			if nimbleerr.SeverityOf(cmdErr) == nimbleerr.Critical {
				break
			}
		}
	}
	return agg
}

func (c *Client[T]) handle(cmd protocol.HostToClientCommand[T]) error {
	switch cmd.Tag {
	case protocol.TagConnectionAccepted:
		return c.onConnectionAccepted(*cmd.ConnectionAccepted)
	case protocol.TagJoinGameAccepted:
		return c.onJoinGameAccepted(*cmd.JoinGameAccepted)
	case protocol.TagDownloadGameStateResponse:
		return c.onDownloadResponse(*cmd.DownloadGameStateResponse)
	case protocol.TagBlobStreamChannelH2C:
		return c.onBlobChannel(*cmd.BlobStreamChannel)
	case protocol.TagGameStep:
		return c.onGameStep(*cmd.GameStep)
	case protocol.TagPong:
		// Latency is already tracked from the framing echo; nothing more
		// to do here.
		return nil
	default:
		return nimbleerr.New(nimbleerr.Warning, "unhandled tag 0x%02x", cmd.Tag)
	}
}

func (c *Client[T]) onConnectionAccepted(resp protocol.ConnectionAccepted) error {
	if c.phase != PhaseRequestConnect {
		return nimbleerr.New(nimbleerr.Info, "connect response while not connecting")
	}
	if resp.ResponseToRequestId != c.connectRequestId {
		return nimbleerr.New(nimbleerr.Info, "connect response to request %d, wanted %d",
			resp.ResponseToRequestId, c.connectRequestId)
	}
	c.phase = PhaseRequestDownloadState
	log.Info("connection accepted, requesting state download")
	return nil
}

func (c *Client[T]) onJoinGameAccepted(resp protocol.JoinGameAccepted) error {
	if resp.RequestId != c.joinRequestId {
		return nimbleerr.New(nimbleerr.Info, "join response to request %d, wanted %d",
			resp.RequestId, c.joinRequestId)
	}
	c.joined = resp.Participants
	c.sessionSecret = resp.SessionSecret
	c.hasJoined = true
	c.joinPending = nil
	log.Infof("join accepted: %d participant(s)", len(resp.Participants))
	return nil
}

func (c *Client[T]) onDownloadResponse(resp protocol.DownloadGameStateResponse) error {
	if resp.RequestId != c.downloadRequestId {
		return nimbleerr.New(nimbleerr.Info, "download response to request %d, wanted %d",
			resp.RequestId, c.downloadRequestId)
	}
	if c.phase == PhaseRequestDownloadState {
		c.phase = PhaseDownloadingState
		log.Infof("state download begins at %s (transfer %d)", resp.Tick, resp.TransferId)
	}
	c.downloadTick = resp.Tick
	c.downloadTransfer = resp.TransferId
	c.hasDownloadResp = true
	return nil
}

func (c *Client[T]) onBlobChannel(cmd protocol.SenderToReceiverCmd) error {
	if c.phase != PhaseDownloadingState {
		return nimbleerr.New(nimbleerr.Warning, "blob command outside download phase")
	}
	switch cmd.Tag {
	case protocol.TagStartTransfer:
		if !c.hasDownloadResp || cmd.StartTransfer.TransferId != c.downloadTransfer {
			return nil
		}
		if c.receiver != nil {
			return nimbleerr.Wrap(nimbleerr.Warning, c.receiver.OnStartTransfer(
				blobstream.TransferId(cmd.StartTransfer.TransferId)))
		}
		c.receiver = blobstream.NewReceiver(
			blobstream.TransferId(cmd.StartTransfer.TransferId),
			int(cmd.StartTransfer.TotalSize), int(cmd.StartTransfer.ChunkSize))
		if err := c.receiver.OnStartTransfer(blobstream.TransferId(cmd.StartTransfer.TransferId)); err != nil {
			return nimbleerr.Wrap(nimbleerr.Warning, err)
		}
		return c.maybeCompleteDownload()
	case protocol.TagSetChunk:
		if c.receiver == nil || blobstream.TransferId(cmd.SetChunk.TransferId) != c.receiver.TransferId {
			return nil
		}
		if err := c.receiver.Stream().SetChunk(int(cmd.SetChunk.Index), cmd.SetChunk.Data); err != nil {
			return nimbleerr.Wrap(nimbleerr.Warning, err)
		}
		return c.maybeCompleteDownload()
	default:
		return nimbleerr.New(nimbleerr.Warning, "unknown blob sub-command 0x%02x", cmd.Tag)
	}
}

// maybeCompleteDownload hands the finished snapshot to the state receiver
// and re-seeds both step queues at the snapshot tick.
func (c *Client[T]) maybeCompleteDownload() error {
	blob, done := c.receiver.Stream().Blob()
	if !done {
		return nil
	}
	if c.stateReceiver != nil {
		if err := c.stateReceiver.ReceiveState(c.downloadTick, blob); err != nil {
			return nimbleerr.Wrap(nimbleerr.Critical, err)
		}
	}
	c.incomingAuthoritative.Clear(c.downloadTick)
	c.outgoingPredicted.Clear(c.downloadTick)
	c.phase = PhaseSendPredictedSteps
	c.finalAckPending = true
	log.Infof("state download complete at %s (%d octets)", c.downloadTick, len(blob))
	return nil
}

func (c *Client[T]) onGameStep(resp protocol.GameStepResponse[T]) error {
	c.outgoingPredicted.DiscardUpTo(resp.Header.NextExpectedTick)

	agg := &nimbleerr.Aggregate{}
	for _, flat := range resp.Authoritative.Flatten() {
		if flat.Tick != c.incomingAuthoritative.ExpectedWriteTick() {
			// Overlapping or reordered ranges are expected; already-known
			// and future-gapped ticks are skipped alike.
			continue
		}
		if err := c.incomingAuthoritative.Push(flat.Tick, flat.Step); err != nil {
			agg.Add(nimbleerr.Wrap(nimbleerr.Critical, err))
			break
		}
	}
	if len(agg.Errors) > 0 {
		return nimbleerr.New(agg.WorstSeverity(), "game step: %v", agg.Errors)
	}
	return nil
}

func lowMillis(now time.Time) uint16 {
	return uint16(now.UnixMilli())
}
