package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ecsync/server/internal/config"
	"github.com/ecsync/server/internal/core/ecs"
	"github.com/ecsync/server/internal/data"
	"github.com/ecsync/server/internal/journal"
	"github.com/ecsync/server/internal/replication"
	"github.com/ecsync/server/internal/sim"
	"github.com/ecsync/server/internal/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             ECSync  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      實體狀態同步伺服器 · Go              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	// Use rune count for CJK width calculation (each CJK char = 2 columns)
	displayWidth := 0
	for _, r := range title {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	lineLen := 46 - displayWidth - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	displayWidth := 0
	for _, r := range label {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	dotsLen := 42 - displayWidth - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("ECSYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 3. Optional frame journal on PostgreSQL
	var frameJournal replication.Journal
	if cfg.Journal.Enabled {
		printSection("資料庫")
		db, err := journal.NewDB(ctx, cfg.Journal, log)
		if err != nil {
			return fmt.Errorf("journal db: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")

		if err := journal.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("資料庫遷移完成")

		rec, err := journal.NewRecorder(context.Background(), db, cfg.Server.Name, cfg.Journal.Compression, log)
		if err != nil {
			return fmt.Errorf("journal recorder: %w", err)
		}
		defer rec.Close()
		frameJournal = rec
		printOK(fmt.Sprintf("影格日誌啟用 (session: %s)", rec.Session()))
		fmt.Println()
	}

	// 4. Load data tables and build the world
	printSection("資料載入")

	archTable, err := data.LoadArchetypeTable(filepath.Join(cfg.Sim.DataDir, "archetype_list.yaml"))
	if err != nil {
		return fmt.Errorf("load archetype table: %w", err)
	}
	printStat("原型模板", archTable.Count())

	spawnList, err := data.LoadSpawnList(filepath.Join(cfg.Sim.DataDir, "spawn_list.yaml"))
	if err != nil {
		return fmt.Errorf("load spawn list: %w", err)
	}

	world, err := sim.New(cfg.Sim.Bounds)
	if err != nil {
		return fmt.Errorf("sim: %w", err)
	}

	// The serializer must observe structural changes, so it exists before
	// anything is spawned.
	ser := replication.NewSerializer(world.Schema(), world.World.Pool(),
		replication.WithEpsilon(cfg.Replication.Epsilon))

	if err := world.Populate(archTable, spawnList, rand.New(rand.NewSource(time.Now().UnixNano()))); err != nil {
		return fmt.Errorf("populate: %w", err)
	}
	printStat("實體生成", world.Agents.Len())

	// 5. Lua behaviors
	engine, err := sim.NewEngine(cfg.Sim.ScriptDir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer engine.Close()
	printOK("Lua 腳本載入完成")
	fmt.Println()

	runner := sim.NewRunner(world, engine)

	// 6. Transport and replication driver
	router := transport.NewRouter(log)
	defer router.Close()

	var repl *replication.Replicator
	repl = replication.NewReplicator(ser, router, replication.ServerHooks{
		Spawn: func(clientID string) ecs.EntityID {
			return world.SpawnPlayer(shortID(clientID))
		},
		Despawn: func(clientID string, entity ecs.EntityID) {
			world.World.Destroy(entity)
		},
		Input: func(clientID string, payload []byte) {
			if entity, ok := repl.Entity(clientID); ok {
				world.ApplyInput(entity, payload)
			}
		},
		Step: runner.Tick,
	}, frameJournal, log)

	tcpLn, err := transport.ListenTCP(cfg.Network.TCPBind, log)
	if err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	defer tcpLn.Close()
	go tcpLn.AcceptLoop(func(ch transport.Channel) { router.AddClient(ch) })

	var wsSrv *http.Server
	if cfg.Network.WSBind != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Network.WSPath, transport.WSHandler(log, func(ch transport.Channel) {
			router.AddClient(ch)
		}))
		wsSrv = &http.Server{Addr: cfg.Network.WSBind, Handler: mux}
		go func() {
			if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("websocket 伺服器中止", zap.Error(err))
			}
		}()
	}

	// 7. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("TCP 監聽 %s", tcpLn.Addr().String()))
	if wsSrv != nil {
		printReady(fmt.Sprintf("WebSocket 監聽 %s%s", cfg.Network.WSBind, cfg.Network.WSPath))
	}
	printReady(fmt.Sprintf("同步迴圈啟動 (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			if err := repl.Tick(cfg.Network.TickRate); err != nil {
				log.Warn("同步回合發生錯誤", zap.Error(err))
			}
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			if wsSrv != nil {
				wsSrv.Close()
			}
			tcpLn.Close()
			log.Info("伺服器已停止", zap.Uint32("frame", repl.Frame()))
			return nil
		}
	}
}

// shortID trims a uuid to its first group for display names.
func shortID(clientID string) string {
	if i := strings.IndexByte(clientID, '-'); i > 0 {
		return clientID[:i]
	}
	return clientID
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
