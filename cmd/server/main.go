package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/api-sage/payment-gateway/internal/adapter/http/controller"
	"github.com/api-sage/payment-gateway/internal/adapter/http/middleware"
	"github.com/api-sage/payment-gateway/internal/adapter/http/router"
	"github.com/api-sage/payment-gateway/internal/adapter/repository/postgres"
	"github.com/api-sage/payment-gateway/internal/config"
	"github.com/api-sage/payment-gateway/internal/engine"
	"github.com/api-sage/payment-gateway/internal/logger"
	"github.com/api-sage/payment-gateway/internal/usecase/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrateCtx, cancelMigrate := context.WithTimeout(ctx, 30*time.Second)
	if err := postgres.RunMigrations(migrateCtx, cfg.DatabaseDSN, cfg.MigrationsDir); err != nil {
		cancelMigrate()
		log.Fatalf("run migrations: %v", err)
	}
	cancelMigrate()

	db, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)

	txEngine := engine.New(
		accountRepo,
		transactionRepo,
		engine.WithLanes(cfg.EngineLanes),
		engine.WithLaneCapacity(cfg.LaneCapacity),
		engine.WithMaxAttempts(cfg.MaxAttempts),
		engine.WithAdmissionRate(cfg.AdmissionRate, cfg.AdmissionBurst),
	)
	if err := txEngine.Start(ctx); err != nil {
		log.Fatalf("start transaction engine: %v", err)
	}

	paymentService := services.NewPaymentService(accountRepo, txEngine)

	channelKeyHash, err := middleware.HashChannelKey(cfg.ChannelKey)
	if err != nil {
		log.Fatalf("hash channel key: %v", err)
	}
	authMiddleware := middleware.ChannelAuth(cfg.ChannelID, channelKeyHash)

	mux := router.New(
		controller.NewAccountController(paymentService),
		controller.NewPaymentController(paymentService),
		controller.NewHealthController(paymentService),
		authMiddleware,
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", logger.Fields{"addr": cfg.HTTPAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(server, txEngine, cfg.ShutdownTimeout)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// shutdown stops intake first, then drains the engine, mirroring the
// dependency order: no new submissions once the workers begin to wind down.
func shutdown(server *http.Server, txEngine *engine.Engine, timeout time.Duration) {
	logger.Info("shutting down payment gateway", nil)

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), timeout)
	defer cancelHTTP()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Error("http server shutdown failed", err, nil)
	}

	engineCtx, cancelEngine := context.WithTimeout(context.Background(), timeout)
	defer cancelEngine()
	if err := txEngine.Stop(engineCtx); err != nil {
		logger.Error("engine shutdown failed", err, nil)
	}

	logger.Info("payment gateway shutdown complete", nil)
}
