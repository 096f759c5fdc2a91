// Command governord is the governance pipeline's server binary: it
// loads configuration, wires every pipeline component (policy store,
// ghost-state engine, jury panel, entropy monitor, escrow store,
// ledger, reputation manager), and serves the REST API.
//
// Structural port of
// _examples/Generativebots-ocx-backend-go-svc/cmd/server/main.go's
// wiring order (config, stores, microservices, API gateway, listen).
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ocx/governance-core/internal/api"
	"github.com/ocx/governance-core/internal/config"
	"github.com/ocx/governance-core/internal/coordinator"
	"github.com/ocx/governance-core/internal/entropy"
	"github.com/ocx/governance-core/internal/escrow"
	"github.com/ocx/governance-core/internal/ghoststate"
	"github.com/ocx/governance-core/internal/jury"
	"github.com/ocx/governance-core/internal/ledger"
	"github.com/ocx/governance-core/internal/metrics"
	"github.com/ocx/governance-core/internal/policy"
	"github.com/ocx/governance-core/internal/protocol"
	"github.com/ocx/governance-core/internal/reputation"
	"github.com/ocx/governance-core/internal/security"
	"github.com/ocx/governance-core/internal/signals"
)

func main() {
	slog.Info("governord starting")

	cfgPath := os.Getenv("GOVERNORD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		slog.Error("governord: failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		slog.Error("governord: failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer rdb.Close()

	policies := policy.NewHierarchy(policy.NewPostgresStore(db))
	ledgr := ledger.New(ledger.NewPostgresStore(db))
	ghostEngine := ghoststate.NewEngine()
	snapshots := coordinator.NewSnapshotStore()
	sigCollector := signals.NewCollector(10 * time.Minute)
	entropyWindow := entropy.NewWindow(rdb)
	rep := reputation.NewManager()
	m := metrics.New()
	cfgCache := config.NewCache(nil, cfg.Defaults)

	var sealer *escrow.Sealer
	if cfg.Security.EscrowSealSecret != "" {
		key, err := security.DeriveSessionKey([]byte(cfg.Security.EscrowSealSecret), nil, "escrow-seal")
		if err != nil {
			slog.Error("governord: failed to derive escrow seal key", "error", err)
			os.Exit(1)
		}
		sealer = escrow.NewSealer(key)
	}
	escrowStore := escrow.NewEscrowStore(escrow.NewPostgresStore(db), sealer,
		time.Duration(cfg.Defaults.EscrowTTLSeconds)*time.Second)

	panel := []jury.Weighted{
		{Name: "consistency", Weight: 0.3, Juror: jury.ConsistencyAuditor{}},
		{Name: "safety", Weight: 0.3, Juror: jury.SafetyAuditor{}},
		{Name: "security", Weight: 0.25, Juror: jury.SecurityAuditor{}},
		{Name: "hallucination", Weight: 0.15, Juror: jury.HallucinationAuditor{}},
	}
	juryPanel := jury.New(panel, jury.Config{
		QuorumThreshold:   cfg.Defaults.QuorumThreshold,
		UnanimousRequired: cfg.Defaults.UnanimousRequired,
		JurorTimeout:      time.Duration(cfg.Defaults.JurorTimeoutMs) * time.Millisecond,
	})

	coord := coordinator.New(policies, ghostEngine, snapshots, juryPanel, entropyWindow,
		sigCollector, escrowStore, ledgr, rep, cfgCache, m)

	go escrowStore.RunSweeper(context.Background(), time.Minute)

	if cfg.Server.FramedAddr != "" {
		framed := &protocol.Server{Coordinator: coord, Signals: sigCollector, Escrow: escrowStore}
		go func() {
			if err := framed.Serve(context.Background(), cfg.Server.FramedAddr); err != nil {
				slog.Error("governord: framed listener stopped", "error", err)
			}
		}()
		slog.Info("governord: framed binary RPC listening", "addr", cfg.Server.FramedAddr)
	}

	server := api.NewAPIServer(coord, sigCollector, escrowStore, policies, ledgr)
	port, err := strconv.Atoi(strings.TrimPrefix(cfg.Server.Port, ":"))
	if err != nil {
		slog.Error("governord: invalid server port", "port", cfg.Server.Port, "error", err)
		os.Exit(1)
	}
	if err := server.Start(port); err != nil {
		slog.Error("governord: server stopped", "error", err)
		os.Exit(1)
	}
}
