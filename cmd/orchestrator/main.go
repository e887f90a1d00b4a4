// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"meridian/platform/orchestrator"
	"meridian/platform/orchestrator/cost"
	"meridian/platform/shared/logger"
)

// fileConfig is the YAML shape of the optional config file. Durations
// are strings in Go duration syntax ("30s", "2m"). Zero values fall
// back to the orchestrator defaults.
type fileConfig struct {
	Addr         string `yaml:"addr"`
	DemoBackends bool   `yaml:"demo_backends"`

	Profile                string  `yaml:"profile"`
	CostCeiling            float64 `yaml:"cost_ceiling"`
	SimilarityThreshold    float64 `yaml:"similarity_threshold"`
	CacheMaxSize           int     `yaml:"cache_max_size"`
	CacheTTL               string  `yaml:"cache_ttl"`
	DecompositionThreshold float64 `yaml:"decomposition_threshold"`
	MinCacheableLength     int     `yaml:"min_cacheable_length"`
	MaxParallel            int     `yaml:"max_parallel"`
	CallTimeout            string  `yaml:"call_timeout"`
	RequestTimeout         string  `yaml:"request_timeout"`
	MemoryLimitMB          float64 `yaml:"memory_limit_mb"`
	CPULimitPercent        float64 `yaml:"cpu_limit_percent"`
	GoroutineLimit         int     `yaml:"goroutine_limit"`
	MonitorInterval        string  `yaml:"monitor_interval"`
	BreakerThreshold       int     `yaml:"breaker_threshold"`
	BreakerTimeout         string  `yaml:"breaker_timeout"`

	Budget struct {
		LimitUSD       float64 `yaml:"limit_usd"`
		Window         string  `yaml:"window"`
		AlertThreshold float64 `yaml:"alert_threshold"`
	} `yaml:"budget"`
}

func loadConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config: %w", err)
	}
	return fc, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func (fc fileConfig) orchestratorConfig() (orchestrator.Config, error) {
	cfg := orchestrator.Config{
		Profile:                orchestrator.Profile(fc.Profile),
		CostCeiling:            fc.CostCeiling,
		SimilarityThreshold:    fc.SimilarityThreshold,
		CacheMaxSize:           fc.CacheMaxSize,
		DecompositionThreshold: fc.DecompositionThreshold,
		MinCacheableLength:     fc.MinCacheableLength,
		MaxParallel:            fc.MaxParallel,
		MemoryLimitMB:          fc.MemoryLimitMB,
		CPULimitPercent:        fc.CPULimitPercent,
		GoroutineLimit:         fc.GoroutineLimit,
		BreakerThreshold:       fc.BreakerThreshold,
	}
	var err error
	if cfg.CacheTTL, err = parseDuration(fc.CacheTTL, 0); err != nil {
		return cfg, fmt.Errorf("cache_ttl: %w", err)
	}
	if cfg.CallTimeout, err = parseDuration(fc.CallTimeout, 0); err != nil {
		return cfg, fmt.Errorf("call_timeout: %w", err)
	}
	if cfg.RequestTimeout, err = parseDuration(fc.RequestTimeout, 0); err != nil {
		return cfg, fmt.Errorf("request_timeout: %w", err)
	}
	if cfg.MonitorInterval, err = parseDuration(fc.MonitorInterval, 0); err != nil {
		return cfg, fmt.Errorf("monitor_interval: %w", err)
	}
	if cfg.BreakerTimeout, err = parseDuration(fc.BreakerTimeout, 0); err != nil {
		return cfg, fmt.Errorf("breaker_timeout: %w", err)
	}
	return cfg, nil
}

func main() {
	log := logger.New("orchestrator")

	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	fc, err := loadConfig(configPath)
	if err != nil {
		log.ErrorWithErr("", "failed to load config", err, nil)
		os.Exit(1)
	}

	cfg, err := fc.orchestratorConfig()
	if err != nil {
		log.ErrorWithErr("", "invalid config", err, nil)
		os.Exit(1)
	}

	if !fc.DemoBackends {
		log.Error("", "no backends configured", map[string]interface{}{
			"hint": "set demo_backends: true, or embed the orchestrator package with real pipelines",
		})
		os.Exit(1)
	}

	orch, err := orchestrator.New(cfg, demoBackends(), log)
	if err != nil {
		log.ErrorWithErr("", "failed to build orchestrator", err, nil)
		os.Exit(1)
	}

	if sink, cleanup := usageSink(fc, log); sink != nil {
		defer cleanup()
		orch.SetUsageSink(sink)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	defer orch.Shutdown(context.Background())

	addr := fc.Addr
	if addr == "" {
		addr = ":" + getEnv("PORT", "8081")
	}
	server := orchestrator.NewServer(orch, addr, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Info("", "shutdown signal received", nil)
	case err := <-errCh:
		if err != nil {
			log.ErrorWithErr("", "http server failed", err, nil)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.ErrorWithErr("", "http shutdown failed", err, nil)
	}
}

// usageSink chooses Postgres metering when DATABASE_URL is set and
// in-memory metering otherwise. The cleanup closes the database handle.
func usageSink(fc fileConfig, log *logger.Logger) (*cost.Service, func()) {
	budget := cost.Budget{
		LimitUSD:       fc.Budget.LimitUSD,
		AlertThreshold: fc.Budget.AlertThreshold,
	}
	if w, err := parseDuration(fc.Budget.Window, 0); err == nil {
		budget.Window = w
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return cost.NewService(cost.NewInMemoryRepository(), budget, log), func() {}
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.ErrorWithErr("", "failed to open usage database, metering in memory", err, nil)
		return cost.NewService(cost.NewInMemoryRepository(), budget, log), func() {}
	}
	return cost.NewService(cost.NewPostgresRepository(db), budget, log), func() { _ = db.Close() }
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
