// Command woolauthority runs the reference lives and WOOL reward authority.
//
//	woolauthority [-config path]                 serve
//	woolauthority grant [-config path] ADDR TX   record a confirmed collateral transfer
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/wooligotchi/internal/api"
	"github.com/talgya/wooligotchi/internal/authority"
	"github.com/talgya/wooligotchi/internal/config"
	"github.com/talgya/wooligotchi/internal/logging"
	"github.com/talgya/wooligotchi/internal/metrics"
	"github.com/talgya/wooligotchi/internal/persistence"
	"github.com/talgya/wooligotchi/internal/remote"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "grant" {
		os.Exit(runGrant(os.Args[2:]))
	}
	os.Exit(runServe(os.Args[1:]))
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	configPath := fs.String("config", os.Getenv("WOOLIGOTCHI_CONFIG"), "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	return config.Load(*configPath)
}

func runServe(args []string) int {
	cfg, err := loadConfig(flag.NewFlagSet("woolauthority", flag.ExitOnError), args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logging.Setup("woolauthority", logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})

	os.MkdirAll(filepath.Dir(cfg.Authority.DBPath), 0755)
	db, err := persistence.Open(cfg.Authority.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return 1
	}
	defer db.Close()

	if cfg.Authority.AdminKey == "" {
		slog.Warn("admin key not set, POST /admin/lives disabled")
	}

	srv := &authority.Server{
		Store:    db,
		AdminKey: cfg.Authority.AdminKey,
		Cap:      cfg.Authority.DailyCap,
		Limiter:  api.NewRateLimiter(cfg.Authority.RatePerMinute, time.Minute),
		Metrics:  metrics.Default(),
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", srv.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Authority.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("authority listening", "addr", cfg.Authority.Listen, "daily_cap", cfg.Authority.DailyCap, "db", cfg.Authority.DBPath)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server error", "error", err)
		return 1
	}
	fmt.Println("Authority stopped.")
	return 0
}

func runGrant(args []string) int {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	url := fs.String("url", "", "authority base URL (defaults to remote.base_url)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logging.Setup("woolauthority", logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: woolauthority grant [-config path] [-url base] ADDRESS TXID")
		return 2
	}
	if cfg.Authority.AdminKey == "" {
		fmt.Fprintln(os.Stderr, "admin key required (authority.admin_key or WOOLAUTHORITY_ADMIN_KEY)")
		return 1
	}
	base := cfg.Remote.BaseURL
	if *url != "" {
		base = *url
	}

	client := remote.NewClient(base, cfg.Remote.Timeout.Duration)
	client.AdminKey = cfg.Authority.AdminKey
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.GrantLives(ctx, remote.GrantRequest{
		Address: fs.Arg(0),
		ChainID: cfg.NetworkID,
		TxID:    fs.Arg(1),
	})
	if err != nil {
		slog.Error("grant failed", "error", err)
		return 1
	}
	slog.Info("grant recorded", "address", fs.Arg(0), "granted", resp.Granted, "applied", resp.Applied)
	return 0
}
