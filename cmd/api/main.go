package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcclellann/casafacil/pkg/auth"
	"github.com/mcclellann/casafacil/pkg/cache"
	"github.com/mcclellann/casafacil/pkg/config"
	"github.com/mcclellann/casafacil/pkg/ledger"
	"github.com/mcclellann/casafacil/pkg/ratelimit"
	"github.com/mcclellann/casafacil/pkg/simulation"
	"github.com/mcclellann/casafacil/pkg/store"
	"go.uber.org/zap"
)

func main() {
	configLocation := flag.String("config", config.DefaultConfigFile, "path to configuration file")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": %q}\n", *configLocation, err.Error())
		os.Exit(1)
	}

	logger, err := config.NewLogger(conf.Logging)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": %q}\n", err.Error())
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(conf, logger); err != nil {
		logger.Fatal("server stopped", zap.String("op", "main"), zap.Error(err))
	}
}

func run(conf *config.Configuration, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize SQLite Store
	sqliteStore, err := store.NewSQLiteStore(conf.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	defer sqliteStore.Close()

	rules, err := conf.Simulation.Rules()
	if err != nil {
		return err
	}
	engine, err := simulation.NewEngine(rules)
	if err != nil {
		return err
	}

	var statsCache cache.Cache = cache.NewMemoryCache()
	if conf.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, conf.Cache.RedisAddr, "casafacil:")
		if err != nil {
			return err
		}
		defer redisCache.Close()
		statsCache = redisCache
		logger.Info("using redis cache", zap.String("op", "main"), zap.String("addr", conf.Cache.RedisAddr))
	}

	issuer, err := auth.NewIssuer(conf.Auth.JWTSecret, conf.Auth.TokenTTL)
	if err != nil {
		return err
	}
	authService := auth.NewService(sqliteStore, issuer, logger)
	if conf.Auth.AdminPassword != "" {
		if err := authService.EnsureAdmin(ctx, conf.Auth.AdminEmail, conf.Auth.AdminPassword); err != nil {
			return err
		}
	} else {
		logger.Warn("auth.admin_password not set; no admin account seeded", zap.String("op", "main"))
	}

	limiter := ratelimit.New(conf.RateLimit.Capacity, conf.RateLimit.Refill, logger)
	defer limiter.Stop()

	l := ledger.NewLedger(sqliteStore, engine, statsCache, conf.Cache.StatsTTL, logger)
	server := NewServer(l, authService, limiter, logger, conf.Auth.CookieSecure)

	httpServer := &http.Server{
		Addr:         conf.Server.Address,
		Handler:      server.Router(),
		ReadTimeout:  conf.Server.ReadTimeout,
		WriteTimeout: conf.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("op", "main"), zap.String("addr", conf.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case <-quit:
		logger.Info("shutting down server", zap.String("op", "main"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during server shutdown: %w", err)
	}

	logger.Info("server exited", zap.String("op", "main"))
	return nil
}
