package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"tasksync/internal/config"
	"tasksync/internal/httpserver"
	"tasksync/internal/mapper"
	"tasksync/internal/mq"
	"tasksync/internal/provider"
	"tasksync/internal/remote"
	"tasksync/internal/repository"
	"tasksync/internal/service/notify"
	"tasksync/internal/service/syncer"
	"tasksync/pkg/db"
	"tasksync/pkg/logger"
	"tasksync/pkg/redis"
	"tasksync/pkg/util"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting tasksync engine...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("remote_base_url", cfg.Remote.BaseURL),
		zap.String("provider_mode", cfg.Provider.Mode),
	)

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	// The delivery log runs on database/sql via the pgx stdlib driver.
	sqlDB, err := sql.Open("pgx", db.DSN(cfg.DB))
	if err != nil {
		log.Fatal("Failed to open delivery log connection", zap.Error(err))
	}
	defer sqlDB.Close()

	// Redis (optional, only powers cross-process dedup)
	var deduper *util.Deduper
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(cfg.Redis)
		defer rdb.Close()
		deduper = util.NewDeduper(rdb)
		log.Info("Redis deduper enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		log.Warn("No redis configured, dedup is process-local only")
	}

	// MQ Publisher (optional)
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
	} else {
		log.Warn("No MQ configured, lifecycle events are dropped")
	}

	// Repositories
	taskRepo := repository.NewTaskRepository(dbConn, log)
	deliveryLog := repository.NewDeliveryLogStore(sqlDB, "pgx")

	// Remote client + mapper
	remoteClient := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout.Std(), log)
	fieldMapper := mapper.New(cfg.Mapping, log)

	// Reconciler
	reconciler := syncer.NewReconciler(taskRepo, remoteClient, fieldMapper, publisher, cfg.Sync, log)

	// Messaging provider
	sender, err := provider.New(cfg.Provider, log)
	if err != nil {
		log.Fatal("Failed to init messaging provider", zap.Error(err))
	}

	// Notification pipeline
	queue := notify.NewQueue(cfg.Notify.QueueSize, log)
	resolver := notify.NewResolver(cfg.Mapping.Recipients)
	dispatcher := notify.NewDispatcher(queue, taskRepo, deliveryLog, deduper, sender, publisher, cfg.Notify, log)
	scheduler := notify.NewScheduler(taskRepo, queue, resolver, cfg.Notify, log)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	dispatcher.Start(rootCtx)
	if err := scheduler.Start(rootCtx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// HTTP Server
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	log.Info("Initializing HTTP server...", zap.String("port", port))
	router := httpserver.NewRouter(reconciler, deliveryLog, dbConn, publisher, *cfg, log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("tasksync engine is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down tasksync engine gracefully...")

	scheduler.Stop()
	rootCancel()
	dispatcher.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("tasksync engine shutdown complete")
}
