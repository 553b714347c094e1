package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"veribill/internal/config"
	"veribill/internal/database"
	httpapi "veribill/internal/http"
	"veribill/internal/logger"
	"veribill/internal/repository"
	"veribill/internal/service"
	"veribill/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Redis 不可用时退化为直读库表，不影响启动
	var kv store.KV
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("Redis unavailable, bill cache disabled", zap.Error(err))
	} else {
		kv = store.NewRedisKV(redisClient)
	}
	defer redisClient.Close()

	usersRepo := repository.NewPostgresUsersRepository(db)
	billsRepo := repository.NewPostgresBillsRepository(db)
	verificationsRepo := repository.NewPostgresVerificationsRepository(db)

	var notifier *service.IssuerNotifier
	if cfg.Notify.Enabled {
		notifier = service.NewIssuerNotifier(cfg.Notify, log)
	}

	verificationSvc := service.NewVerificationService(billsRepo, usersRepo, verificationsRepo, kv, notifier, cfg, log)
	billSvc := service.NewBillService(billsRepo, usersRepo, verificationsRepo, kv, cfg, log)
	userSvc := service.NewUserService(usersRepo, log)

	router := httpapi.NewRouter(time.Duration(cfg.HTTP.RequestTimeoutSeconds)*time.Second, log)
	router.RegisterHealthRoute()
	router.RegisterVerifyRoutes(httpapi.NewVerifyHandler(verificationSvc, log))
	router.RegisterBillRoutes(httpapi.NewBillHandler(billSvc, log))
	router.RegisterUserRoutes(httpapi.NewUserHandler(userSvc, log))

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}
