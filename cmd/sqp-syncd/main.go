// sqp-syncd is the long-running sync daemon: cron-scheduled warehouse
// extraction plus the HTTP status API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/sqp-sync/internal/api"
	"github.com/ignite/sqp-sync/internal/config"
	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/pkg/distlock"
	"github.com/ignite/sqp-sync/internal/pkg/logger"
	"github.com/ignite/sqp-sync/internal/scheduler"
	"github.com/ignite/sqp-sync/internal/store"
	"github.com/ignite/sqp-sync/internal/syncer"
	"github.com/ignite/sqp-sync/internal/validate"
	"github.com/ignite/sqp-sync/internal/warehouse"
)

const syncLockKey = "sqp:sync:lock"

// checkPortAvailable verifies the target port is free before any expensive
// initialization, so a stale daemon is caught immediately.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use: %v", port, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := "config/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("pre-flight check failed: %v", err)
	}

	periodType, _ := domain.ParsePeriodType(cfg.Sync.PeriodType)

	wh, err := warehouse.NewClient(warehouse.Config{
		Account:        cfg.Warehouse.Account,
		User:           cfg.Warehouse.User,
		Password:       cfg.Warehouse.Password,
		Database:       cfg.Warehouse.Database,
		Schema:         cfg.Warehouse.Schema,
		Warehouse:      cfg.Warehouse.Warehouse,
		SourceTable:    cfg.Warehouse.SourceTable,
		MaxConnections: cfg.Warehouse.MaxConnections,
		IdleTimeout:    time.Duration(cfg.Warehouse.IdleTimeoutMillis) * time.Millisecond,
		QueryTimeout:   time.Duration(cfg.Warehouse.QueryTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("warehouse: %v", err)
	}
	defer wh.Close()
	logger.Info("warehouse connected",
		"account", cfg.Warehouse.Account, "database", cfg.Warehouse.Database, "schema", cfg.Warehouse.Schema)

	st, err := store.Open(cfg.Store.DatabaseURL, cfg.Sync.SummaryTable, cfg.Store.MaxOpenConns, cfg.Store.MaxIdleConns)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()
	logger.Info("store connected", "dsn", logger.RedactDSN(cfg.Store.DatabaseURL))

	// Redis is optional; without it cross-host locking falls back to PG
	// advisory locks on the store.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, using pg advisory locks", "error", err.Error())
			redisClient = nil
		}
		cancel()
	}

	lock := distlock.NewLock(redisClient, st.DB(), syncLockKey,
		time.Duration(cfg.Scheduler.LockTTLSeconds)*time.Second)

	validator := validate.New(st, wh)
	svc := syncer.New(wh, st, validator, cfg.Sync.BatchSize)

	sched, err := scheduler.New(cfg, svc, st, lock)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	if err := sched.Start(); err != nil {
		log.Fatalf("scheduler start: %v", err)
	}

	server := api.NewServer(cfg.Server, st, sched, periodType)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Info("status api listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("status api: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("status api shutdown failed", "error", err.Error())
	}
	sched.Stop()
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("shutdown complete")
}
