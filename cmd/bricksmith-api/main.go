package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"bricksmith/internal/config"
	server "bricksmith/internal/http"
	"bricksmith/internal/jobs"
	"bricksmith/internal/migrate"
	"bricksmith/internal/queue"
	"bricksmith/internal/services"
	"bricksmith/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	cfg := config.Load(*configPath)

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	// Create a shared *sql.DB with pooling for the Store
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	st := store.New(db)

	// Ensure initial admin API key if configured
	if cfg.Auth.Enabled && cfg.Auth.InitialAdminKey != "" {
		if _, err := st.EnsureAdminAPIKey(context.Background(), cfg.Auth.InitialAdminKey, "initial-admin"); err != nil {
			log.Fatalf("ensure admin api key failed: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	rootCtx := context.Background()

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	rdb := redis.NewClient(opt)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "bricksmith"
	}
	minIdle := time.Duration(cfg.Queue.VisibilityTimeoutMs) * time.Millisecond

	requests, err := queue.NewRedisQueue(rootCtx, rdb, cfg.Queue.RequestStream, cfg.Queue.Group, hostname, minIdle)
	if err != nil {
		log.Fatalf("request queue init failed: %v", err)
	}
	results, err := queue.NewRedisQueue(rootCtx, rdb, cfg.Queue.ResultStream, cfg.Queue.Group, hostname, minIdle)
	if err != nil {
		log.Fatalf("result queue init failed: %v", err)
	}

	gen := services.NewGenerateService(cfg, st, requests, logger)
	control := services.NewJobControlService(st, gen, logger)

	consumer := jobs.NewConsumer(st, results, logger, jobs.ConsumerOptions{
		PollWait:    time.Duration(cfg.Worker.PollWaitMs) * time.Millisecond,
		MaxMessages: cfg.Worker.MaxMessages,
		DedupSize:   cfg.Worker.DedupCacheSize,
	})

	switch *role {
	case "api":
		s := server.NewServer(cfg, st, gen, control, logger)
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case "worker":
		// Result-consumer only: no HTTP listener.
		consumer.Start(rootCtx)
	case "all":
		go consumer.Start(rootCtx)
		s := server.NewServer(cfg, st, gen, control, logger)
		if err := s.Listen(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	default:
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}
}
