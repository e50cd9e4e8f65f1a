//go:build gio

// Command rayman-gui is the graphical game client using Gio. Even in
// single-player it runs the full rollback stack against an embedded
// in-process host, so the rendered world is always the reconciled
// predicted simulation.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"gioui.org/app"
	"gioui.org/gesture"
	"gioui.org/io/event"
	"gioui.org/io/key"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/unit"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/andersfylling/rayman-slides/internal/client"
	"github.com/andersfylling/rayman-slides/internal/game"
	"github.com/andersfylling/rayman-slides/internal/host"
	"github.com/andersfylling/rayman-slides/internal/input"
	"github.com/andersfylling/rayman-slides/internal/render"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

type keyboardTag struct{}

func main() {
	go func() {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}()
	app.Main()
}

// embeddedHost runs the authoritative session in-process: the client's
// datagrams are handed straight to the host connection and the responses
// straight back, no socket in between.
type embeddedHost struct {
	session *host.Session[game.Intent]
	conn    *host.Connection[game.Intent]
	world   *game.World
	applied tickid.TickId
}

func newEmbeddedHost() (*embeddedHost, error) {
	world := game.NewWorld()
	world.SetTileMap(game.DemoLevelForViewport(80, 45))
	world.SpawnEnemy("slime", 15, 10)
	world.SpawnEnemy("slime", 28, 14)

	h := &embeddedHost{world: world}
	h.session = host.NewSession[game.Intent](game.StepCodec{}, h, host.Config{
		RequiredVersion: game.SimulationVersion,
		AnnounceJoins:   true,
	})
	h.applied = h.session.TickToProduce()
	conn, err := h.session.CreateConnection()
	if err != nil {
		return nil, err
	}
	h.conn = conn
	return h, nil
}

func (h *embeddedHost) State() (tickid.TickId, []byte) {
	snapshot := h.world.Snapshot()
	return tickid.TickId(h.world.Tick), snapshot.EncodeFull()
}

// Exchange feeds one client datagram to the host and returns its response.
func (h *embeddedHost) Exchange(raw []byte, now time.Time) []byte {
	response, _ := h.conn.Receive(raw, now)
	for {
		_, steps := h.session.CollectAuthoritative(h.applied, host.MaxAuthoritativeTicksPerResponse)
		if len(steps) == 0 {
			break
		}
		for _, s := range steps {
			h.world.ApplyAuthoritativeStep(s)
			h.applied = h.applied.Add(1)
		}
	}
	return response
}

func run() error {
	backend := logging.NewLogBackend(io.Discard, "", 0)
	logging.SetBackend(backend)

	window := new(app.Window)
	window.Option(
		app.Title("Rayman Slides"),
		app.Size(unit.Dp(1280), unit.Dp(720)),
	)

	inputSystem := input.NewGioInput()
	renderer := render.NewGioRenderer()

	embedded, err := newEmbeddedHost()
	if err != nil {
		return err
	}
	cl := client.New(client.Config{PlayerName: "Player"})

	tileMap := embedded.world.TileMap()
	tiles := game.RenderTileMap(tileMap)
	renderer.SetTileMap(tiles)

	keyState := input.NewKeyState()

	var ops op.Ops
	var tag keyboardTag
	var click gesture.Click
	hasFocus := false
	focusRequested := false

	// Track time for fixed timestep
	lastUpdate := time.Now()
	tickDuration := time.Second / 60

	for {
		e := window.Event()

		switch e := e.(type) {
		case app.DestroyEvent:
			return e.Err

		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)

			// Create a clickable area covering the whole window
			area := clip.Rect{Max: gtx.Constraints.Max}.Push(gtx.Ops)
			event.Op(gtx.Ops, &tag)
			click.Add(gtx.Ops)
			area.Pop()

			// Check for clicks to grab focus
			for {
				ev, ok := click.Update(gtx.Source)
				if !ok {
					break
				}
				if ev.Kind == gesture.KindClick {
					gtx.Execute(key.FocusCmd{Tag: &tag})
					focusRequested = true
				}
			}

			// Request focus on first frame
			if !focusRequested {
				gtx.Execute(key.FocusCmd{Tag: &tag})
				focusRequested = true
			}

			// Check for focus events
			for {
				ev, ok := gtx.Event(key.FocusFilter{Target: &tag})
				if !ok {
					break
				}
				if fe, ok := ev.(key.FocusEvent); ok {
					hasFocus = fe.Focus
				}
			}

			// Process key events
			for {
				ev, ok := gtx.Event(key.Filter{Focus: &tag, Name: ""})
				if !ok {
					break
				}
				if ke, ok := ev.(key.Event); ok {
					inputSystem.HandleKeyEvent(ke)
				}
			}

			// Fixed timestep game updates
			now := time.Now()
			for now.Sub(lastUpdate) >= tickDuration {
				// Process input events
				events := inputSystem.Poll()
				for _, ev := range events {
					switch ev.Type {
					case input.KeyDown:
						keyState.SetPressed(ev.Key, true)
					case input.KeyUp:
						keyState.SetPressed(ev.Key, false)
					}
				}

				// Check for quit
				if keyState.IsPressed(input.KeyQuit) {
					return nil
				}

				cl.SetIntent(keyState.ToIntents())
				outgoing, err := cl.Update(lastUpdate)
				if err != nil {
					return err
				}
				if outgoing != nil {
					if response := embedded.Exchange(outgoing, lastUpdate); response != nil {
						cl.HandleDatagram(response, lastUpdate)
					}
				}
				lastUpdate = lastUpdate.Add(tickDuration)
			}

			world := cl.PredictedWorld()

			// Render with clamped camera
			playerX, playerY, _ := world.GetPlayerPosition()

			// Calculate viewport size in world units
			tileSize := float64(render.GioTilePixels)
			viewportW := float64(gtx.Constraints.Max.X) / tileSize
			viewportH := float64(gtx.Constraints.Max.Y) / tileSize

			// Clamp camera to keep map edges at screen edges
			mapW := float64(tileMap.Width)
			mapH := float64(tileMap.Height)

			camX := playerX
			camY := playerY

			// Clamp horizontal
			minCamX := viewportW / 2
			maxCamX := mapW - viewportW/2
			if maxCamX < minCamX {
				camX = mapW / 2 // Map smaller than viewport, center it
			} else if camX < minCamX {
				camX = minCamX
			} else if camX > maxCamX {
				camX = maxCamX
			}

			// Clamp vertical
			minCamY := viewportH / 2
			maxCamY := mapH - viewportH/2
			if maxCamY < minCamY {
				camY = mapH / 2 // Map smaller than viewport, center it
			} else if camY < minCamY {
				camY = minCamY
			} else if camY > maxCamY {
				camY = maxCamY
			}

			renderer.SetCamera(render.Camera{X: camX, Y: camY})
			renderer.SetWorld(world)

			hint := "Click window to focus | "
			if hasFocus {
				hint = ""
			}
			renderer.SetHUD(fmt.Sprintf("%sTick: %d | WASD: Move | J: Attack | Q/Esc: Quit", hint, world.Tick))
			renderer.Layout(gtx)

			e.Frame(gtx.Ops)
			window.Invalidate()
		}
	}
}
