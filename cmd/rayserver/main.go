// Command rayserver is the dedicated game server: it hosts one rollback
// session over UDP, keeps the authoritative world in step with the produced
// step log, and serves Prometheus metrics.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/andersfylling/rayman-slides/internal/game"
	"github.com/andersfylling/rayman-slides/internal/host"
	"github.com/andersfylling/rayman-slides/internal/network"
	"github.com/andersfylling/rayman-slides/internal/nimbleerr"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

// Version is set at build time
var Version = "dev"

var log = logging.MustGetLogger("rayserver")

// worldProvider serializes the server's authoritative world for joining
// clients.
type worldProvider struct {
	world *game.World
}

func (p *worldProvider) State() (tickid.TickId, []byte) {
	snapshot := p.world.Snapshot()
	return tickid.TickId(p.world.Tick), snapshot.EncodeFull()
}

func main() {
	addr := flag.String("addr", ":7777", "UDP address to listen on")
	metricsAddr := flag.String("metrics", "", "HTTP address for /metrics (empty disables)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	setupLogging(*verbose)
	log.Infof("rayserver %s listening on %s", Version, *addr)

	if err := run(*addr, *metricsAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module} %{message}`)
	logging.SetBackend(logging.NewBackendFormatter(backend, format))
	if verbose {
		logging.SetLevel(logging.DEBUG, "")
	} else {
		logging.SetLevel(logging.INFO, "")
	}
}

func run(addr, metricsAddr string) error {
	world := game.NewWorld()
	world.SetTileMap(game.DemoLevelForViewport(80, 45))
	world.SpawnEnemy("slime", 15, 10)
	world.SpawnEnemy("slime", 28, 14)

	session := host.NewSession[game.Intent](game.StepCodec{}, &worldProvider{world: world}, host.Config{
		RequiredVersion: game.SimulationVersion,
		AnnounceJoins:   true,
	})

	listener, err := network.ListenUDP(addr)
	if err != nil {
		return err
	}
	defer listener.Close()

	registry := prometheus.NewRegistry()
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, registry)
	}

	conns := make(map[string]*host.Connection[game.Intent])
	appliedTick := session.TickToProduce()

	for {
		raw, remote, err := listener.ReadFrom(5 * time.Millisecond)
		if err != nil {
			return err
		}
		if raw != nil {
			handleDatagram(session, listener, registry, conns, remote, raw)
		}
		appliedTick = applyAuthoritative(session, world, appliedTick)
	}
}

func handleDatagram(
	session *host.Session[game.Intent],
	listener *network.UDPListener,
	registry *prometheus.Registry,
	conns map[string]*host.Connection[game.Intent],
	remote net.Addr,
	raw []byte,
) {
	key := remote.String()
	conn, ok := conns[key]
	if !ok {
		created, err := session.CreateConnection()
		if err != nil {
			log.Warningf("rejecting %s: %v", key, err)
			return
		}
		conn = created
		conns[key] = conn
		for _, collector := range conn.Metrics().Collectors() {
			// Best effort: duplicate registration only matters for tests.
			_ = registry.Register(collector)
		}
		log.Infof("new connection %d from %s", conn.Id(), key)
	}

	response, agg := conn.Receive(raw, time.Now())
	for _, e := range agg.Errors {
		switch nimbleerr.SeverityOf(e) {
		case nimbleerr.Critical:
			log.Errorf("connection %d: %v", conn.Id(), e)
		case nimbleerr.Warning:
			log.Warningf("connection %d: %v", conn.Id(), e)
		default:
			log.Debugf("connection %d: %v", conn.Id(), e)
		}
	}
	if agg.HasCritical() {
		session.DestroyConnection(conn)
		delete(conns, key)
		return
	}
	if response != nil {
		if err := listener.WriteTo(response, remote); err != nil {
			log.Warningf("send to %s: %v", key, err)
		}
	}
}

// applyAuthoritative replays newly produced steps into the server's own
// world so the snapshot provider always reflects the log.
func applyAuthoritative(session *host.Session[game.Intent], world *game.World, from tickid.TickId) tickid.TickId {
	for {
		_, steps := session.CollectAuthoritative(from, host.MaxAuthoritativeTicksPerResponse)
		if len(steps) == 0 {
			return from
		}
		for _, s := range steps {
			world.ApplyAuthoritativeStep(s)
			from = from.Add(1)
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics server: %v", err)
	}
}
