// ABOUTME: Entry point for convertbot
// ABOUTME: Wires config, staging, the conversion backend, history, and the Matrix bridge

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/2389/convertbot/internal/bot"
	"github.com/2389/convertbot/internal/catalog"
	"github.com/2389/convertbot/internal/cloudmersive"
	"github.com/2389/convertbot/internal/config"
	"github.com/2389/convertbot/internal/convert"
	"github.com/2389/convertbot/internal/matrix"
	"github.com/2389/convertbot/internal/stage"
	"github.com/2389/convertbot/internal/store"
)

const banner = `
                                 _   _           _
  ___ ___  _ ____   _____ _ __| |_| |__   ___ | |_
 / __/ _ \| '_ \ \ / / _ \ '__| __| '_ \ / _ \| __|
| (_| (_) | | | \ V /  __/ |  | |_| |_) | (_) | |_
 \___\___/|_| |_|\_/ \___|_|   \__|_.__/ \___/ \__|
`

// shutdownTimeout bounds how long in-flight conversions may finish after a signal.
const shutdownTimeout = 30 * time.Second

var version = "dev"

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = run()
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "version", "--version", "-v":
		fmt.Printf("convertbot %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		printUsage(os.Stderr)
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: convertbot [serve|init|version]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  serve    run the bot (default)")
	fmt.Fprintln(w, "  init     write a config file interactively")
	fmt.Fprintln(w, "  version  print the version")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Config is read from %s (override with CONVERTBOT_CONFIG).\n", config.DefaultPath())
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Backend:    %s\n", cfg.Backend.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Staging:    %s\n", cfg.Staging.Dir)
	if cfg.Matrix.Encryption {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	staging, err := stage.New(cfg.Staging.Dir, cfg.Staging.MaxFileSize, logger)
	if err != nil {
		return fmt.Errorf("creating staging area: %w", err)
	}
	results, err := stage.New(cfg.Staging.ResultDir, 0, logger)
	if err != nil {
		return fmt.Errorf("creating result area: %w", err)
	}

	cat := catalog.Default()
	backend := cloudmersive.New(cfg.Backend.BaseURL, cfg.Backend.APIKey)
	invoker, err := convert.NewInvoker(cat, backend, convert.Options{
		OutputDir:     results.Dir(),
		Timeout:       cfg.Backend.Timeout,
		MaxConcurrent: cfg.Backend.MaxConcurrent,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating invoker: %w", err)
	}

	var history store.HistoryStore
	history, err = store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}
	defer history.Close()
	if stats, err := history.ConversionStats(ctx, ""); err == nil {
		logger.Info("conversion history loaded",
			"total", stats.Total,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed,
		)
	} else {
		logger.Warn("failed to read conversion history", "error", err)
	}

	bridge, err := matrix.NewBridge(matrix.Config{
		Homeserver:      cfg.Matrix.Homeserver,
		UserID:          cfg.Matrix.UserID,
		AccessToken:     cfg.Matrix.AccessToken,
		DeviceID:        cfg.Matrix.DeviceID,
		Username:        cfg.Matrix.Username,
		Password:        cfg.Matrix.Password,
		AllowedRooms:    cfg.Matrix.AllowedRooms,
		AutoJoin:        cfg.Matrix.AutoJoin,
		TypingIndicator: cfg.Matrix.TypingIndicator,
		MaxFileSize:     cfg.Staging.MaxFileSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.Encryption {
		cryptoMgr, err := matrix.SetupCrypto(ctx, bridge.Client(), cfg.Matrix.RecoveryKey, cfg.Matrix.DataDir, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled")
	}

	ctrl, err := bot.New(bot.Deps{
		Catalog:   cat,
		Stage:     staging,
		Invoker:   invoker,
		Transport: bridge,
		History:   history,
	}, bot.Options{
		CommandPrefix: cfg.Bot.CommandPrefix,
		IdleReply:     cfg.Bot.IdleReply,
		HistoryLimit:  cfg.Bot.HistoryLimit,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	logger.Info("starting convertbot",
		"version", version,
		"conversions", cat.Len(),
		"max_file_size", cfg.Staging.MaxFileSize,
	)

	dispatcher := bot.NewDispatcher(ctrl, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(gctx, dispatcher)
	})
	g.Go(func() error {
		runJanitor(gctx, []*stage.Stage{staging, results}, cfg.Staging.TTL, cfg.Staging.SweepInterval, logger)
		return nil
	})
	runErr := g.Wait()

	logger.Info("waiting for in-flight conversions")
	waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer waitCancel()
	if err := dispatcher.Wait(waitCtx); err != nil {
		logger.Warn("events still being handled at shutdown", "error", err)
	}
	if err := ctrl.Wait(waitCtx); err != nil {
		logger.Warn("conversions still running at shutdown", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("convertbot stopped", "sessions", ctrl.Sessions().Len())
	return nil
}

// runJanitor sweeps stale files at startup and then every interval until
// ctx is done.
func runJanitor(ctx context.Context, areas []*stage.Stage, ttl, interval time.Duration, logger *slog.Logger) {
	sweepAll(areas, ttl, logger)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepAll(areas, ttl, logger)
		}
	}
}

func sweepAll(areas []*stage.Stage, ttl time.Duration, logger *slog.Logger) int {
	total := 0
	for _, area := range areas {
		n, err := area.Sweep(ttl)
		total += n
		if err != nil {
			logger.Warn("sweep failed", "dir", area.Dir(), "error", err)
		}
	}
	return total
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
