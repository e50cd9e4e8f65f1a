package host

import (
	"time"

	"github.com/andersfylling/rayman-slides/internal/blobstream"
	"github.com/andersfylling/rayman-slides/internal/nimbleerr"
	"github.com/andersfylling/rayman-slides/internal/nimblemetrics"
	"github.com/andersfylling/rayman-slides/internal/ordereddatagram"
	"github.com/andersfylling/rayman-slides/internal/protocol"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// Phase is the per-connection state machine of spec.md §4.5.
type Phase uint8

const (
	// PhaseWaitingForValidConnect accepts only a version-matching
	// ConnectRequest.
	PhaseWaitingForValidConnect Phase = iota
	// PhaseConnected accepts Join, Steps, DownloadGameState,
	// BlobStreamChannel and Ping.
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingForValidConnect:
		return "WaitingForValidConnect"
	case PhaseConnected:
		return "Connected"
	default:
		return "unknown"
	}
}

// ErrWrongApplicationVersion is returned when a client's declared app
// version differs from the host's required version. Immediately fatal for
// the connection.
var ErrWrongApplicationVersion = nimbleerr.New(nimbleerr.Critical, "wrong application version")

// ErrNoFreeParticipantIds is returned for an empty join request or an
// exhausted participant free list.
var ErrNoFreeParticipantIds = nimbleerr.New(nimbleerr.Warning, "no free participant ids")

// ErrUnknownPartyMember is returned when a StepsRequest names a local index
// this connection never joined.
var ErrUnknownPartyMember = nimbleerr.New(nimbleerr.Warning, "unknown party member")

// Connection is the host-side view of one remote client.
type Connection[T any] struct {
	id      uint8
	session *Session[T]
	phase   Phase

	// participants maps the client's local player slots to the session
	// participant ids they were granted at join time. The session owns the
	// participants; this is a back-reference by id.
	participants map[tickid.LocalIndex]tickid.ParticipantId
	joinOrder    []tickid.LocalIndex

	outBlob       *blobstream.SenderFront
	blobRequestId uint8
	hasBlobReq    bool
	blobTick      tickid.TickId

	incoming ordereddatagram.Incoming
	outgoing ordereddatagram.Outgoing

	lastClientTime  uint16
	lastBufferCount int
	lastDropCount   uint64

	metrics *nimblemetrics.ConnectionMetrics
}

func newConnection[T any](id uint8, s *Session[T]) *Connection[T] {
	return &Connection[T]{
		id:           id,
		session:      s,
		participants: make(map[tickid.LocalIndex]tickid.ParticipantId),
		metrics:      nimblemetrics.NewConnectionMetrics(),
	}
}

// Id returns the connection's session-unique id.
func (c *Connection[T]) Id() uint8 { return c.id }

// Phase returns the connection's current phase.
func (c *Connection[T]) Phase() Phase { return c.phase }

// Participants returns the participant ids owned by this connection.
func (c *Connection[T]) Participants() []tickid.ParticipantId {
	out := make([]tickid.ParticipantId, 0, len(c.participants))
	for _, li := range c.joinOrder {
		out = append(out, c.participants[li])
	}
	return out
}

// Metrics exposes the connection's rate and latency aggregates.
func (c *Connection[T]) Metrics() *nimblemetrics.ConnectionMetrics {
	return c.metrics
}

// Receive processes one raw datagram from the remote client and returns the
// framed response datagram to send back, if any. Errors are aggregated per
// datagram with the worst severity preserved; a Critical error aborts the
// remaining commands in the datagram, per spec.md §7.
func (c *Connection[T]) Receive(raw []byte, now time.Time) ([]byte, *nimbleerr.Aggregate) {
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
		return nil, agg
	}
	c.lastClientTime = parsed.ClientTime
	if drops := c.incoming.DropCount(); drops != c.lastDropCount {
		c.metrics.DropCount.Observe(float64(drops - c.lastDropCount))
		c.lastDropCount = drops
	} else {
		c.metrics.DropCount.Observe(0)
	}

	var response []byte
	buf := parsed.Payload
	for len(buf) > 0 {
		cmd, n, decodeErr := protocol.DecodeClientToHostCommand(buf, c.session.codec)
		if decodeErr != nil {
			// A corrupt tag terminates parsing of this datagram but not
			// the connection.
			agg.Add(nimbleerr.Wrap(nimbleerr.Warning, decodeErr))
			break
		}
		buf = buf[n:]

		var cmdErr error
		response, cmdErr = c.handle(cmd, response, now)
		if cmdErr != nil {
			agg.Add(cmdErr)
			if nimbleerr.SeverityOf(cmdErr) == nimbleerr.Critical {
				break
			}
		}
	}

	if len(response) == 0 {
		return nil, agg
	}
	out := c.outgoing.Prepend(parsed.ClientTime, response)
	c.metrics.DatagramsOut.Add(now, 1)
	c.metrics.OctetsOut.Add(now, uint64(len(out)))
	return out, agg
}

func (c *Connection[T]) handle(cmd protocol.ClientToHostCommand[T], response []byte, now time.Time) ([]byte, error) {
	if c.phase == PhaseWaitingForValidConnect && cmd.Tag != protocol.TagConnect {
		return response, nimbleerr.New(nimbleerr.Warning, "command 0x%02x before valid connect", cmd.Tag)
	}

	switch cmd.Tag {
	case protocol.TagConnect:
		return c.handleConnect(*cmd.Connect, response)
	case protocol.TagJoinGame:
		return c.handleJoin(*cmd.JoinGame, response)
	case protocol.TagSteps:
		return c.handleSteps(*cmd.Steps, response)
	case protocol.TagDownloadGameState:
		return c.handleDownload(*cmd.DownloadGameState, response, now)
	case protocol.TagBlobStreamChannelC2H:
		return c.handleBlobChannel(*cmd.BlobStreamChannel, response, now)
	case protocol.TagPing:
		return protocol.EncodePong(response, protocol.PongCommand{LowerMillis: cmd.Ping.LowerMillis}), nil
	default:
		return response, nimbleerr.New(nimbleerr.Warning, "unhandled tag 0x%02x", cmd.Tag)
	}
}

func (c *Connection[T]) handleConnect(req protocol.ConnectRequest, response []byte) ([]byte, error) {
	if !req.AppVersion.Equal(c.session.cfg.RequiredVersion) {
		log.Warningf("connection %d: app version %v does not match required %v",
			c.id, req.AppVersion, c.session.cfg.RequiredVersion)
		return response, ErrWrongApplicationVersion
	}
	c.phase = PhaseConnected
	log.Infof("connection %d: accepted connect (request %d)", c.id, req.RequestId)
	return protocol.EncodeConnectionAccepted(response, protocol.ConnectionAccepted{
		ResponseToRequestId: req.RequestId,
	}), nil
}

func (c *Connection[T]) handleJoin(req protocol.JoinGameRequest, response []byte) ([]byte, error) {
	if len(req.LocalIndices) == 0 {
		return response, ErrNoFreeParticipantIds
	}

	accepted := protocol.JoinGameAccepted{
		RequestId:     req.RequestId,
		SessionSecret: c.session.cfg.SessionSecret,
		PartyId:       c.id,
	}
	for _, li := range req.LocalIndices {
		p, already := c.participants[li]
		if !already {
			allocated, err := c.session.participants.Allocate()
			if err != nil {
				return response, ErrNoFreeParticipantIds
			}
			p = allocated
			c.participants[li] = p
			c.joinOrder = append(c.joinOrder, li)
			c.session.comb.CreateBuffer(p)
			if c.session.cfg.AnnounceJoins {
				if err := c.session.AnnounceJoin(p); err != nil {
					return response, nimbleerr.Wrap(nimbleerr.Warning, err)
				}
			}
			log.Infof("connection %d: local %s joined as %s", c.id, li, p)
		}
		accepted.Participants = append(accepted.Participants, protocol.JoinedParticipant{
			LocalIndex:    li,
			ParticipantId: p,
		})
	}
	return protocol.EncodeJoinGameAccepted(response, accepted), nil
}

func (c *Connection[T]) handleSteps(req protocol.StepsRequest[T], response []byte) ([]byte, error) {
	agg := &nimbleerr.Aggregate{}
	for _, batch := range req.Predicted.Players {
		p, owned := c.participants[batch.LocalIndex]
		if !owned {
			agg.Add(ErrUnknownPartyMember)
			continue
		}
		tick := batch.FirstTick
		for _, v := range batch.Steps {
			if err := c.session.comb.ReceiveStep(p, tick, v); err != nil {
				// A gap in this batch: drop the rest, the client will
				// resubmit forward ticks.
				agg.Add(nimbleerr.Wrap(nimbleerr.Warning, err))
				break
			}
			tick++
		}
	}

	if err := c.session.producePending(); err != nil {
		agg.Add(err)
	}
	if agg.HasCritical() {
		return response, nimbleerr.New(nimbleerr.Critical, "steps request failed: %v", agg.Errors)
	}

	resp := protocol.GameStepResponse[T]{
		Header:        c.gameStepHeader(),
		Authoritative: c.session.buildRanges(req.AckWaitingForTick),
	}
	encoded, err := protocol.EncodeGameStep(response, resp, c.session.codec)
	if err != nil {
		return response, nimbleerr.Wrap(nimbleerr.Critical, err)
	}
	if len(agg.Errors) > 0 {
		return encoded, nimbleerr.New(agg.WorstSeverity(), "steps request: %v", agg.Errors)
	}
	return encoded, nil
}

// gameStepHeader reports how far ahead of production this connection's
// predictions run, and the tick the host wants the client to submit next.
func (c *Connection[T]) gameStepHeader() protocol.GameStepHeader {
	next := c.session.comb.TickToProduce()
	buffered := 0
	for _, li := range c.joinOrder {
		p := c.participants[li]
		if n, ok := c.session.comb.BufferLen(p); ok && n > buffered {
			buffered = n
		}
		if ew, ok := c.session.comb.BufferExpectedWriteTick(p); ok && ew < next {
			next = ew
		}
	}
	delta := buffered - c.lastBufferCount
	c.lastBufferCount = buffered
	return protocol.GameStepHeader{
		ConnBufferCount:  uint8(buffered),
		DeltaBuffer:      clampInt8(delta),
		NextExpectedTick: next,
	}
}

func clampInt8(v int) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}

func (c *Connection[T]) handleDownload(req protocol.DownloadGameStateRequest, response []byte, now time.Time) ([]byte, error) {
	if c.session.provider == nil {
		return response, nimbleerr.New(nimbleerr.Warning, "no game state provider")
	}

	if !c.hasBlobReq || c.blobRequestId != req.RequestId || c.outBlob == nil {
		tick, blob := c.session.provider.State()
		c.blobTick = tick
		c.blobRequestId = req.RequestId
		c.hasBlobReq = true
		c.outBlob = blobstream.NewSender(
			c.session.allocateTransferId(), blob,
			c.session.cfg.ChunkSize, c.session.cfg.ResendDuration)
		log.Infof("connection %d: state download request %d -> transfer %d (%d octets)",
			c.id, req.RequestId, c.outBlob.TransferId, len(blob))
	}

	response = protocol.EncodeDownloadGameStateResponse(response, protocol.DownloadGameStateResponse{
		RequestId:  req.RequestId,
		Tick:       c.blobTick,
		TransferId: uint16(c.outBlob.TransferId),
	})
	response = c.appendStartTransfer(response)
	// Optimistic send: the first chunk batch goes out before AckStart.
	return c.appendDueChunks(response, now), nil
}

func (c *Connection[T]) appendStartTransfer(response []byte) []byte {
	return protocol.EncodeBlobStreamChannelH2C(response, protocol.SenderToReceiverCmd{
		Tag: protocol.TagStartTransfer,
		StartTransfer: &protocol.StartTransferCmd{
			TransferId: uint16(c.outBlob.TransferId),
			TotalSize:  uint32(c.outBlob.Stream().TotalSize()),
			ChunkSize:  uint16(c.session.cfg.ChunkSize),
		},
	})
}

func (c *Connection[T]) appendDueChunks(response []byte, now time.Time) []byte {
	for _, idx := range c.outBlob.Stream().Send(now, MaxChunksPerSend) {
		response = protocol.EncodeBlobStreamChannelH2C(response, protocol.SenderToReceiverCmd{
			Tag: protocol.TagSetChunk,
			SetChunk: &protocol.SetChunkCmd{
				TransferId: uint16(c.outBlob.TransferId),
				Index:      uint32(idx),
				Data:       c.outBlob.Stream().Chunk(idx),
			},
		})
	}
	return response
}

func (c *Connection[T]) handleBlobChannel(cmd protocol.ReceiverToSenderCmd, response []byte, now time.Time) ([]byte, error) {
	if c.outBlob == nil {
		return response, nimbleerr.New(nimbleerr.Warning, "blob command without active transfer")
	}
	switch cmd.Tag {
	case protocol.TagAckStart:
		c.outBlob.OnAckStart(blobstream.TransferId(cmd.AckStart.TransferId))
	case protocol.TagAckChunk:
		if blobstream.TransferId(cmd.AckChunk.TransferId) != c.outBlob.TransferId {
			return response, nil
		}
		c.outBlob.Stream().SetWaitingForChunkIndex(int(cmd.AckChunk.WaitingFor), cmd.AckChunk.Mask)
		if c.outBlob.Stream().IsReceivedByRemote() {
			log.Infof("connection %d: transfer %d fully received", c.id, c.outBlob.TransferId)
			return response, nil
		}
	default:
		return response, nimbleerr.New(nimbleerr.Warning, "unknown blob sub-command 0x%02x", cmd.Tag)
	}
	return c.appendDueChunks(response, now), nil
}
