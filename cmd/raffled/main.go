// Package main запускает HTTP-сервер сервиса розыгрышей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/raffle-system/internal/config"
	"github.com/mmeshcher/raffle-system/internal/handler"
	"github.com/mmeshcher/raffle-system/internal/participants"
	"github.com/mmeshcher/raffle-system/internal/repository"
	"github.com/mmeshcher/raffle-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	// Без внешнего реестра пул участников берётся из записей в базе.
	var source service.ParticipantSource
	if cfg.ParticipantSourceAddress != "" {
		source = participants.NewClient(cfg.ParticipantSourceAddress)
	}

	var opts []service.Option
	if cfg.DrawSeed != 0 {
		sugar.Warnw("reproducible draws enabled", "seed", cfg.DrawSeed)
		opts = append(opts, service.WithPickerFactory(service.SeededPickers(cfg.DrawSeed)))
	}

	svc := service.NewService(repo, source, logger, opts...)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting raffle server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
