// Package main запускает HTTP-сервер партнёрской консоли.
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

	"github.com/mmeshcher/partner-console/internal/config"
	"github.com/mmeshcher/partner-console/internal/handler"
	"github.com/mmeshcher/partner-console/internal/middleware"
	"github.com/mmeshcher/partner-console/internal/partner"
	"github.com/mmeshcher/partner-console/internal/repository"
	"github.com/mmeshcher/partner-console/internal/service"
	"github.com/mmeshcher/partner-console/internal/ws"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	loc, err := cfg.Location()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	role, err := cfg.Role()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is empty, orders are kept in memory")
		repo = repository.NewMemoryRepository()
	}

	if cfg.PartnerAPIAddress == "" {
		sugar.Warn("PARTNER_API_ADDRESS is empty, order service calls will fail")
	}
	api := partner.NewClient(cfg.PartnerAPIAddress)

	hub := ws.NewHub(logger)

	console := service.NewConsole(api, repo, hub, service.Options{
		UserID:                 cfg.PartnerUserID,
		Role:                   role,
		PollInterval:           cfg.PollInterval,
		BackgroundPollInterval: cfg.BackgroundPollInterval,
		OrderTimeout:           cfg.OrderTimeout,
		GraceDelay:             cfg.NotifyGraceDelay,
		SettleDelay:            cfg.NotifySettleDelay,
		ResolveRetryDelay:      cfg.ResolveRetryDelay,
		ResolveMaxAttempts:     cfg.ResolveMaxAttempts,
		Location:               loc,
	}, logger)
	defer console.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(console, hub, logger, authMiddleware, loc)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	// Опрос заказов и тики сигнала
	g.Go(func() error {
		if err := console.Run(ctx); err != nil {
			sugar.Errorw("console stopped", "error", err.Error())
		}
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting partner console", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
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
