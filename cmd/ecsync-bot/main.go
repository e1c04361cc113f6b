package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecsync/server/internal/replication"
	"github.com/ecsync/server/internal/sim"
	"github.com/ecsync/server/internal/transport"
	"go.uber.org/zap"
)

// ecsync-bot connects to a server, mirrors the replicated world, and wanders
// with a random heading. Useful for load poking and end-to-end checks.
func main() {
	var (
		tcpAddr  = flag.String("tcp", "", "server tcp address, e.g. 127.0.0.1:7201")
		wsURL    = flag.String("ws", "", "server websocket url, e.g. ws://127.0.0.1:7202/sync")
		tick     = flag.Duration("tick", 50*time.Millisecond, "client tick interval")
		turnSecs = flag.Int("turn", 3, "seconds between heading changes")
	)
	flag.Parse()

	if err := run(*tcpAddr, *wsURL, *tick, *turnSecs); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(tcpAddr, wsURL string, tick time.Duration, turnSecs int) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	var ch transport.Channel
	switch {
	case tcpAddr != "":
		ch, err = transport.DialTCP(tcpAddr, log)
	case wsURL != "":
		ch, err = transport.DialWS(wsURL, log)
	default:
		return fmt.Errorf("one of -tcp or -ws is required")
	}
	if err != nil {
		return err
	}
	defer ch.Close()

	mirror, err := sim.New(0)
	if err != nil {
		return err
	}
	recon := replication.NewReconciler(
		replication.NewDeserializer(mirror.Schema(), mirror.World), log)
	recon.Attach(ch)
	defer recon.Detach()
	log.Info("已連線", zap.String("tcp", tcpAddr), zap.String("ws", wsURL))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	heading := rng.Float64() * 2 * math.Pi
	turnEvery := time.Duration(turnSecs) * time.Second
	lastTurn := time.Now()
	lastReport := time.Now()

	for {
		select {
		case <-ticker.C:
			if err := recon.Tick(tick); err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			if time.Since(lastTurn) >= turnEvery {
				lastTurn = time.Now()
				heading = rng.Float64() * 2 * math.Pi
			}
			input := sim.EncodeInput(sim.InputState{
				DX: float32(math.Cos(heading)),
				DY: float32(math.Sin(heading)),
			})
			if err := recon.SendInput(input); err != nil {
				return fmt.Errorf("send input: %w", err)
			}
			if time.Since(lastReport) >= 5*time.Second {
				lastReport = time.Now()
				log.Info("鏡像狀態",
					zap.Int("entities", mirror.Networked.Len()),
					zap.Int64("snapshot_frame", recon.SnapshotFrame()),
					zap.Uint64("stale_deltas", recon.StaleDeltas()))
			}
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			return nil
		}
	}
}
