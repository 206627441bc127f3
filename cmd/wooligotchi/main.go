// Command wooligotchi runs the virtual pet core and its local HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/talgya/wooligotchi/internal/api"
	"github.com/talgya/wooligotchi/internal/chain"
	"github.com/talgya/wooligotchi/internal/config"
	"github.com/talgya/wooligotchi/internal/engine"
	"github.com/talgya/wooligotchi/internal/events"
	"github.com/talgya/wooligotchi/internal/game"
	"github.com/talgya/wooligotchi/internal/lives"
	"github.com/talgya/wooligotchi/internal/logging"
	"github.com/talgya/wooligotchi/internal/metrics"
	"github.com/talgya/wooligotchi/internal/persistence"
	"github.com/talgya/wooligotchi/internal/remote"
	"github.com/talgya/wooligotchi/internal/signing"
	"github.com/talgya/wooligotchi/internal/wool"
)

func main() {
	configPath := flag.String("config", os.Getenv("WOOLIGOTCHI_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup("wooligotchi", logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	slog.Info("Wooligotchi starting", "network_id", cfg.NetworkID, "test_mode", cfg.Wool.TestMode)

	// ── Database ──────────────────────────────────────────────────────
	if err := ensureDataDir(cfg.DBPath); err != nil {
		slog.Warn("could not create data directory", "path", filepath.Dir(cfg.DBPath), "error", err)
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)
	if last, err := db.GetMeta("last_shutdown"); err == nil && last != "" {
		slog.Info("resuming", "last_shutdown", last)
	}

	bus := events.NewBus()
	stopRecording := db.RecordEvents(bus)
	defer stopRecording()
	m := metrics.Default()

	// ── Remote authority ──────────────────────────────────────────────
	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout.Duration)
	client.Metrics = m

	// ── Wallet ────────────────────────────────────────────────────────
	wallet, clock, err := buildWallet(cfg)
	if err != nil {
		slog.Error("wallet setup failed", "error", err)
		os.Exit(1)
	}

	collectorOpts := []wool.Option{
		wool.WithDebounce(cfg.Wool.Debounce.Duration),
		wool.WithTestMode(cfg.Wool.TestMode),
		wool.WithNotifier(bus),
		wool.WithMetrics(m),
	}
	if clock != nil {
		collectorOpts = append(collectorOpts, wool.WithChainClock(clock))
	}

	session := game.NewSession(game.Deps{
		NetworkID: cfg.NetworkID,
		Pets:      db,
		Lives: lives.NewLedger(db,
			lives.WithTTL(cfg.PendingLifeTTL.Duration),
			lives.WithNotifier(bus),
			lives.WithMetrics(m),
		),
		Wool:    wool.NewCollector(db, client, collectorOpts...),
		Remote:  client,
		Bus:     bus,
		Metrics: m,
	})
	if wallet != nil {
		if err := session.Connect(wallet); err != nil {
			slog.Warn("wallet connect failed", "error", err)
		}
	} else {
		slog.Warn("no wallet configured, pet stays frozen until one connects")
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Interval = cfg.TickInterval.Duration
	eng.PollInterval = cfg.PollInterval.Duration
	if tickStr, err := db.GetMeta("last_tick"); err == nil && tickStr != "" {
		if t, err := strconv.ParseUint(tickStr, 10, 64); err == nil {
			eng.Tick = t
		}
	}
	eng.OnTick = session.Tick
	eng.OnPoll = session.Poll

	// ── HTTP API ──────────────────────────────────────────────────────
	apiServer := &api.Server{
		Session:  session,
		Eng:      eng,
		Wallet:   wallet,
		Board:    client,
		Events:   db,
		Addr:     cfg.Listen,
		RelayKey: os.Getenv("WOOLIGOTCHI_RELAY_KEY"),
		TestMode: cfg.Wool.TestMode,
		Limiter:  api.NewRateLimiter(30, time.Minute),
	}
	httpServer := apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Offline play continues while the authority is unreachable.
	go func() {
		if waitForAuthority(ctx, client) {
			session.Poll(ctx, time.Now())
		}
	}()

	fmt.Printf("API: http://localhost%s/api/v1/status\n", cfg.Listen)
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx)

	// ── Shutdown ──────────────────────────────────────────────────────
	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := session.Wait(shutdownCtx); err != nil {
		slog.Warn("receipt waits abandoned", "error", err)
	}
	if err := db.SaveMeta("last_tick", strconv.FormatUint(eng.Tick, 10)); err != nil {
		slog.Error("final save failed", "error", err)
	}
	if err := db.SaveMeta("last_shutdown", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Error("final save failed", "error", err)
	}

	fmt.Println("Wooligotchi stopped. Pet saved.")
}

// buildWallet returns the configured wallet and chain clock. With an RPC
// endpoint it is a full on-chain wallet; with only a key it can sign but not
// transfer; otherwise there is no wallet.
// ensureDataDir creates the directory holding the database file.
func ensureDataDir(dbPath string) error {
	return os.MkdirAll(filepath.Dir(dbPath), 0755)
}

func buildWallet(cfg config.Config) (chain.Wallet, chain.Clock, error) {
	if !cfg.Chain.Enabled() {
		if cfg.Chain.PrivateKey == "" {
			return nil, nil, nil
		}
		signer, err := signing.ParseKeySigner(cfg.Chain.PrivateKey)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("signing-only wallet", "owner", signer.Address())
		return chain.FuncWallet{Owner: signer.Address(), Network: cfg.NetworkID, SignFn: signer.SignMessage}, nil, nil
	}

	signer, err := signing.ParseKeySigner(cfg.Chain.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	backend, err := chain.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	w, err := chain.NewKeyWallet(backend, signer, chain.KeyWalletConfig{
		NetworkID:      cfg.NetworkID,
		Collection:     cfg.Chain.Collection,
		Vault:          cfg.Chain.Vault,
		ReceiptPoll:    cfg.Chain.ReceiptPoll.Duration,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("chain wallet ready", "owner", w.Address(), "vault", cfg.Chain.Vault, "collection", cfg.Chain.Collection)
	return w, chain.NewHeaderClock(backend), nil
}

// waitForAuthority polls the authority health endpoint with exponential
// backoff until it responds or ctx ends.
func waitForAuthority(ctx context.Context, client *remote.Client) bool {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second

	for {
		if err := client.Ready(ctx); err == nil {
			slog.Info("authority is ready", "url", client.BaseURL)
			return true
		}
		slog.Info("authority not ready, retrying...", "backoff", backoff)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
