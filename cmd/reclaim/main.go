package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"burnbox/backend/internal/config"
	"burnbox/backend/internal/logger"
	"burnbox/backend/internal/scheduler"
	"burnbox/backend/internal/storage/postgres"
	sqlstore "burnbox/backend/internal/storage/sql"
)

// main 对数据库执行一次回收周期并输出报告，供 cron 或运维手动调用。
func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "整个周期的超时时间")
	statsOnly := flag.Bool("stats", false, "只输出统计信息，不执行回收")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	if cfg.Database.Type != "mysql" && cfg.Database.Type != "postgres" {
		log.Fatal("reclaim requires a database store", zap.String("type", cfg.Database.Type))
	}

	store, err := sqlstore.Open(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	out := map[string]any{}

	if !*statsOnly {
		reclaimer := scheduler.NewReclaimer(store, cfg.Retention, log)
		report, err := reclaimer.ForceCycle(ctx)
		if err != nil {
			log.Error("reclamation cycle failed", zap.Error(err))
			os.Exit(1)
		}
		out["report"] = report
	}

	stats, err := store.SystemStats(ctx)
	if err != nil {
		log.Error("failed to read system stats", zap.Error(err))
		os.Exit(1)
	}
	out["stats"] = stats.WithAges(time.Now().UTC())

	if cfg.Database.Type == "postgres" {
		pg, err := postgres.New(&cfg.Database, log.Named("postgres"))
		if err != nil {
			log.Warn("postgres probe unavailable", zap.Error(err))
		} else {
			defer pg.Close()
			if rows, err := pg.TableRows(ctx); err == nil {
				out["tableRows"] = rows
			} else {
				log.Warn("failed to read table stats", zap.Error(err))
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal("failed to write report", zap.Error(err))
	}
}
