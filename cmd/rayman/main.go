// Command rayman is the playable terminal client: it connects to a
// rayserver over UDP, predicts the local player ahead of the host, and
// reconciles against the authoritative step stream every frame.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/andersfylling/rayman-slides/internal/client"
	"github.com/andersfylling/rayman-slides/internal/client/netlogic"
	"github.com/andersfylling/rayman-slides/internal/game"
	"github.com/andersfylling/rayman-slides/internal/network"
	"github.com/andersfylling/rayman-slides/internal/render"
)

// Version is set at build time
var Version = "dev"

const tickDuration = time.Second / 60

func main() {
	connect := flag.String("connect", "127.0.0.1:7777", "host address")
	name := flag.String("name", "rayman", "player name")
	mode := flag.String("render", "auto", "render mode: auto, ascii, halfblock, braille")
	logPath := flag.String("log", "", "log file (empty discards; the terminal belongs to the renderer)")
	flag.Parse()

	if err := setupLogging(*logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(*connect, *name, renderMode(*mode)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(path string) error {
	var sink io.Writer = io.Discard
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		sink = f
	}
	backend := logging.NewLogBackend(sink, "", 0)
	format := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module} %{message}`)
	logging.SetBackend(logging.NewBackendFormatter(backend, format))
	logging.SetLevel(logging.INFO, "")
	return nil
}

func renderMode(mode string) render.Mode {
	switch mode {
	case "ascii":
		return render.ModeASCII
	case "halfblock":
		return render.ModeHalfBlock
	case "braille":
		return render.ModeBraille
	default:
		return render.ModeAuto
	}
}

func run(addr, name string, mode render.Mode) error {
	conn, err := network.DialUDP(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	cl := client.New(client.Config{ServerAddr: addr, PlayerName: name})

	renderer := render.SelectRenderer(render.Detect(), mode)
	if err := renderer.Init(); err != nil {
		return err
	}
	defer renderer.Close()
	renderer.SetTileMap(game.RenderTileMap(cl.TileMap()))

	ticker := time.NewTicker(tickDuration)
	defer ticker.Stop()

	for now := range ticker.C {
		intent, quit := drainInput(renderer)
		if quit {
			return nil
		}
		cl.SetIntent(intent)

		outgoing, err := cl.Update(now)
		if err != nil {
			return err
		}
		if outgoing != nil {
			if err := conn.Send(outgoing); err != nil {
				return err
			}
		}

		for {
			raw, err := conn.Recv(time.Millisecond)
			if err != nil {
				return err
			}
			if raw == nil {
				break
			}
			cl.HandleDatagram(raw, time.Now())
		}

		drawFrame(renderer, cl)
	}
	return nil
}

// drainInput folds every pending input event into one per-frame intent.
// Terminals only report key presses, so a tap drives exactly one tick.
func drainInput(renderer render.GameRenderer) (game.Intent, bool) {
	intent := game.IntentNone
	for {
		ev, ok := renderer.PollInput()
		if !ok {
			return intent, false
		}
		switch ev.Type {
		case render.InputQuit:
			return intent, true
		case render.InputKey:
			intent |= ev.Intent
		}
	}
}

func drawFrame(renderer render.GameRenderer, cl *client.Client) {
	world := cl.PredictedWorld()
	vw, vh := renderer.ViewportSize()
	camera := render.Camera{Width: vw, Height: vh}
	if x, y, ok := world.GetPlayerPosition(); ok {
		camera.X, camera.Y = x, y
	} else {
		camera.X, camera.Y = vw/2, vh/2
	}

	renderer.BeginFrame()
	renderer.RenderWorld(world, camera)
	if cl.Logic().Phase() != netlogic.PhaseSendPredictedSteps {
		renderer.RenderText(2, 1, cl.Logic().Phase().String(), render.ColorYellow)
	}
	renderer.EndFrame()
}
