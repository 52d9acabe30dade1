package main

import (
	"log/slog"
	"os"

	"dify-portal/golang/config"
	"dify-portal/golang/handlers"
	"dify-portal/golang/relay"
	"dify-portal/golang/store"
	"dify-portal/golang/upstream"
)

// main wires the configuration, the flat-file store, the upstream streaming
// client and the relay into the gin router and serves.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration load failed", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.UsersDir(), 0o755); err != nil {
		logger.Error("users directory create failed", "error", err)
		os.Exit(1)
	}

	st := store.New(store.Config{
		UsersDir:     cfg.UsersDir(),
		NoticePath:   cfg.NoticePath(),
		DefaultModel: cfg.DefaultModel,
		KnownModel:   cfg.IsModel,
		Logger:       logger.With("component", "store"),
	})
	client := upstream.New(cfg.UpstreamBase, cfg.StreamTimeout, logger.With("component", "upstream"))
	rl := relay.New(st, client, logger.With("component", "relay"))

	srv := handlers.New(cfg, st, rl, logger.With("component", "http"))
	r := srv.Router()

	logger.Info("chat portal listening", "addr", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
