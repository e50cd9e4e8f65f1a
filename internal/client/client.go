// Package client ties the generic rollback-netcode client (netlogic), the
// rollback engine (rectify) and the deterministic ECS world together into
// the playable game client: input capture feeds predicted steps, downloaded
// snapshots seed both simulations, and every frame replays authoritative
// ticks before re-running the remaining predictions.
package client

import (
	"time"

	"github.com/andersfylling/rayman-slides/internal/client/netlogic"
	"github.com/andersfylling/rayman-slides/internal/collision"
	"github.com/andersfylling/rayman-slides/internal/game"
	"github.com/andersfylling/rayman-slides/internal/nimbleerr"
	"github.com/andersfylling/rayman-slides/internal/rectify"
	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// Config holds client configuration.
type Config struct {
	ServerAddr string
	PlayerName string
	RenderMode RenderMode
}

// RenderMode specifies the terminal rendering approach.
type RenderMode int

const (
	RenderAuto      RenderMode = iota // Auto-detect best mode
	RenderASCII                       // Plain ASCII
	RenderHalfBlock                   // Half-block with color
	RenderBraille                     // Braille patterns
)

// LocalPlayerIndex is the single local slot this client plays with.
const LocalPlayerIndex tickid.LocalIndex = 0

// Client is the game client: one predicted world on screen, one
// authoritative world trailing it, reconciled every frame.
type Client struct {
	config Config

	logic *netlogic.Client[game.Intent]
	rect  *rectify.Rectify[game.Intent]

	authWorld *game.World
	predWorld *game.World
	tileMap   *collision.TileMap

	currentIntent game.Intent
}

// New creates a client ready to connect to cfg.ServerAddr.
func New(cfg Config) *Client {
	c := &Client{config: cfg}

	c.tileMap = game.DemoLevelForViewport(80, 45)
	c.authWorld = newWorld(c.tileMap)
	c.predWorld = newWorld(c.tileMap)

	c.logic = netlogic.New[game.Intent](game.StepCodec{}, game.SimulationVersion, c)
	c.logic.RequestJoin([]tickid.LocalIndex{LocalPlayerIndex})
	c.rect = rectify.New[game.Intent](0)
	return c
}

func newWorld(tm *collision.TileMap) *game.World {
	w := game.NewWorld()
	w.SetTileMap(tm)
	return w
}

// Logic exposes the protocol state machine, e.g. for phase display.
func (c *Client) Logic() *netlogic.Client[game.Intent] { return c.logic }

// TileMap returns the level geometry both simulations resolve against.
func (c *Client) TileMap() *collision.TileMap { return c.tileMap }

// PredictedWorld returns the world the renderer should draw: the local
// simulation running ahead of the authoritative one.
func (c *Client) PredictedWorld() *game.World { return c.predWorld }

// AuthoritativeWorld returns the trailing host-confirmed simulation.
func (c *Client) AuthoritativeWorld() *game.World { return c.authWorld }

// SetIntent records the local player's input for the next predicted tick.
func (c *Client) SetIntent(intent game.Intent) {
	c.currentIntent = intent
}

// ReceiveState implements netlogic.StateReceiver: the downloaded snapshot
// seeds both simulations and the rollback queues.
func (c *Client) ReceiveState(tick tickid.TickId, blob []byte) error {
	c.authWorld = newWorld(c.tileMap)
	c.predWorld = newWorld(c.tileMap)
	if len(blob) > 0 {
		if err := c.authWorld.LoadFull(blob); err != nil {
			return err
		}
		if err := c.predWorld.LoadFull(blob); err != nil {
			return err
		}
	}
	c.rect = rectify.New[game.Intent](tick)
	return nil
}

// HandleDatagram processes one datagram received from the host.
func (c *Client) HandleDatagram(raw []byte, now time.Time) *nimbleerr.Aggregate {
	return c.logic.Receive(raw, now)
}

// Update advances the client by one frame: submit a predicted step for the
// local player, ingest newly confirmed authoritative steps, reconcile both
// worlds, and build the next outgoing datagram.
func (c *Client) Update(now time.Time) ([]byte, error) {
	c.pushPrediction()
	c.ingestAuthoritative()
	c.rect.Update(
		&worldApplier{world: c.authWorld},
		c,
		&worldApplier{world: c.predWorld},
	)
	return c.logic.Send(now)
}

// OnCopyFromAuthoritative implements rectify.RollbackCallback: the predicted
// world is rebuilt from the authoritative world's snapshot before remaining
// predictions replay.
func (c *Client) OnCopyFromAuthoritative() {
	c.predWorld.Restore(c.authWorld.Snapshot())
}

func (c *Client) pushPrediction() {
	if c.logic.Phase() != netlogic.PhaseSendPredictedSteps {
		return
	}
	joined, ok := c.logic.Joined()
	if !ok {
		return
	}

	tick := c.logic.NextPredictedTick()
	if err := c.logic.PushPredictedStep(tick, step.PredictedStep[game.Intent]{
		LocalPlayerIndex: c.currentIntent,
	}); err != nil {
		return
	}

	predicted := step.AuthoritativeStep[game.Intent]{}
	for _, jp := range joined {
		if jp.LocalIndex == LocalPlayerIndex {
			predicted[jp.ParticipantId] = step.NewCustom(c.currentIntent)
		}
	}
	_ = c.rect.PushPredicted(predicted)
}

func (c *Client) ingestAuthoritative() {
	firstTick, steps := c.logic.PopAllAuthoritativeSteps()
	for i, s := range steps {
		tick := firstTick.Add(uint32(i))
		c.spawnJoiners(s)
		if err := c.rect.PushAuthoritativeWithCheck(tick, s); err != nil {
			return
		}
	}
}

// spawnJoiners creates entities for participants whose Joined marker just
// arrived, in both worlds so entity ids stay aligned for rollback.
func (c *Client) spawnJoiners(s step.AuthoritativeStep[game.Intent]) {
	for p, st := range s {
		if st.Kind != step.KindJoined {
			continue
		}
		id := int(p)
		if !c.authWorld.HasPlayer(id) {
			c.authWorld.SpawnPlayer(id, c.config.PlayerName, 5, 10)
		}
		if !c.predWorld.HasPlayer(id) {
			c.predWorld.SpawnPlayer(id, c.config.PlayerName, 5, 10)
		}
	}
}

// worldApplier adapts a game.World to the rectify callback contract: each
// step sets every participant's intent, then runs one deterministic tick.
type worldApplier struct {
	world *game.World
}

func (a *worldApplier) OnPreTicks() {}

func (a *worldApplier) OnTick(_ tickid.TickId, s step.AuthoritativeStep[game.Intent]) {
	a.world.ApplyAuthoritativeStep(s)
}

func (a *worldApplier) OnPostTicks() {}
