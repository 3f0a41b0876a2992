package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"erpchat/internal/app"
	"erpchat/internal/logging"
)

func main() {
	app.LoadEnv()
	cfg := app.ServerConfigFromEnv()
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address")
	flag.StringVar(&cfg.DB, "db", cfg.DB, "PostgreSQL URL or SQLite path")
	flag.Parse()

	logger := logging.New(cfg.Env, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("addr", handle.Addr()).Str("socket_path", cfg.SocketPath).Msg("erpchat server listening")
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("server error")
	}
}
