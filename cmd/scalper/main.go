// Command scalper is the entry point for the density scalper. It loads
// configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
//
//	scalper -config config.toml
//	scalper encrypt-secret -out secret.json   (reads secret and password from env)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/densityscalper/internal/app"
	"github.com/alanyoungcy/densityscalper/internal/config"
	"github.com/alanyoungcy/densityscalper/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-secret" {
		if err := encryptSecret(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-secret: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("density scalper starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = application.Run(ctx)
	application.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("density scalper stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// encryptSecret writes an encrypted broker secret file. The secret and
// password come from SCALPER_BROKER_SECRET and SCALPER_BROKER_SECRET_PASSWORD
// so they never appear in shell history.
func encryptSecret(args []string) error {
	fs := flag.NewFlagSet("encrypt-secret", flag.ContinueOnError)
	out := fs.String("out", "broker_secret.json", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret := os.Getenv("SCALPER_BROKER_SECRET")
	password := os.Getenv("SCALPER_BROKER_SECRET_PASSWORD")
	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stdout, "wrote %s\n", *out)
	return nil
}
