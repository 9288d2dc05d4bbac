package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/lalmba/akinyi-chat/internal/api"
	"github.com/lalmba/akinyi-chat/internal/auth"
	"github.com/lalmba/akinyi-chat/internal/chat"
	"github.com/lalmba/akinyi-chat/internal/config"
	"github.com/lalmba/akinyi-chat/internal/logger"
	"github.com/lalmba/akinyi-chat/internal/ollama"
	"github.com/lalmba/akinyi-chat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.L.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	client := ollama.NewClient(cfg.Ollama)
	authSvc := auth.NewService(st, cfg.Session.TTL, cfg.Session.RememberTTL)
	chatSvc := chat.New(st, client)

	server := api.NewServer(*cfg, st, authSvc, chatSvc, client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.L.Info("starting akinyi chat backend",
		"addr", cfg.Server.Host+":"+cfg.Server.Port,
		"ollama", cfg.Ollama.BaseURL,
		"model", cfg.Ollama.Model,
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.L.Error("server exited", "error", err)
		os.Exit(1)
	}
}
