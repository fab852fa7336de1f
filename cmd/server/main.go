package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posledger/internal/config"
	"posledger/internal/handler"
	"posledger/internal/infrastructure/cache"
	"posledger/internal/infrastructure/database"
	"posledger/internal/infrastructure/lock"
	"posledger/internal/infrastructure/mq"
	"posledger/internal/job"
	"posledger/pkg/idgen"
)

func main() {
	cfg := config.LoadConfig("config/config.yaml")

	idgen.Init(1)

	db := database.InitMySQL(&cfg.MySQL)

	// Settlement lock: Redis when configured, otherwise in-process.
	var locker lock.Locker
	if cfg.Redis.Host != "" {
		redisClient := cache.InitRedis(&cfg.Redis)
		locker = lock.NewRedisLocker(
			redisClient,
			time.Duration(cfg.Business.LockTTLSeconds)*time.Second,
			time.Duration(cfg.Business.LockRetryMillis)*time.Millisecond,
			cfg.Business.LockMaxRetries,
		)
	} else {
		log.Println("redis not configured, using in-process settlement lock")
		locker = lock.NewLocalLocker()
	}

	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		log.Fatalf("create kafka producer: %v", err)
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, producer, cfg)
	go outboxSender.Start(ctx)

	auditJob := job.NewLedgerAuditJob(db, locker, cfg)
	go auditJob.Start(ctx)

	router := handler.SetupRouter(db, locker, cfg)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	log.Println("server stopped")
}
