package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/adapters/chat"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/adapters/jira"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
	httpx "github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/http"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/jobs"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/logger"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/repo"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := repo.MustOpen(ctx, cfg, log)
	defer db.Close()
	r := repo.NewRepository(db, log)

	jiraClient := jira.NewClient(cfg, log)
	chatClient := chat.NewClient(cfg, log)
	cycle := services.NewCycle(cfg, jiraClient, chatClient, r, log)

	cr := jobs.NewCron(cfg, log, cycle, r)
	cr.Start()
	defer cr.Stop()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpx.NewRouter(cfg, log, cycle, r),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http: server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http: shutdown")
		os.Exit(1)
	}
}
