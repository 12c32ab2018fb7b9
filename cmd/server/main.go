package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/categorize"
	"gmaildispatch/internal/cleanup/policy"
	"gmaildispatch/internal/cleanup/scheduler"
	"gmaildispatch/internal/config"
	"gmaildispatch/internal/dispatch"
	"gmaildispatch/internal/jobs"
	"gmaildispatch/internal/rpc/stdio"
	"gmaildispatch/internal/session"
	"gmaildispatch/internal/storage"
	"gmaildispatch/internal/worker"
	"gmaildispatch/pkg/auth"
	"gmaildispatch/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	loggerConfig := &logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		Format:     "json",
		OutputPath: "stdout",
		ErrorPath:  "stderr",
	}
	if err := logger.InitLogger(loggerConfig); err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	log := logger.L().Named("main")

	bundle, pool, sched, tokens, cleanup, err := build(cfg, log)
	if err != nil {
		log.Fatal("failed to build resource bundle", zap.Error(err))
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool.Start(cfg.JobWorkerCount)
	sched.Start()

	router := setupDebugRouter(cfg, bundle, tokens)
	srv := &http.Server{Addr: cfg.Addr(), Handler: router}
	go func() {
		log.Info("debug http server listening", zap.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("debug http server error", zap.Error(err))
		}
	}()

	dispatcher := dispatch.New(bundle)
	rpcServer := stdio.New(dispatcher, os.Stdin, os.Stdout)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- rpcServer.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("stdio transport exited with error", zap.Error(err))
		} else {
			log.Info("stdio transport exited (stdin closed)")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("debug http server shutdown error", zap.Error(err))
	}

	pool.Stop()
	sched.Stop()
	log.Info("shutdown complete")
}

// build constructs the full process-scoped resource bundle: user cache,
// storage factory, job store/queue, session store, cleanup policy engine,
// categorization orchestrator, worker pool, and cleanup scheduler. Every
// component is constructed once here and passed explicitly to the parts
// that need it (design note: "process-scoped resource bundle", never a
// package-level global).
func build(cfg *config.AppConfig, log *zap.Logger) (*dispatch.Bundle, *worker.Pool, *scheduler.Scheduler, *auth.TokenStore, func(), error) {
	userCache := cache.New(time.Minute)
	factory := storage.NewFactory(cfg.StoragePath)
	jobStore := jobs.NewStore(factory)
	queue := jobs.NewQueue()
	sessions := session.NewStore(cfg.SessionTTL)
	policies := policy.NewEngine(factory, jobStore, queue)

	categorizeCfg := categorize.DefaultConfig()
	if cfg.RulesConfigPath != "" {
		loadedRules, err := categorize.LoadRulesFromFile(cfg.RulesConfigPath)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		categorizeCfg.Rules = loadedRules
	}
	categorizeFactory, err := categorize.NewFactory(categorizeCfg, userCache)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	analyzers, err := categorizeFactory.BuildAll()
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	orchestrator := categorize.NewOrchestrator(factory, userCache, analyzers, categorizeCfg, categorize.ModeParallel)

	var tokens *auth.TokenStore
	if cfg.TokenEncryptionKey != "" {
		tokens, err = auth.NewTokenStore(cfg.StoragePath, cfg.TokenEncryptionKey)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
	} else {
		log.Warn("TOKEN_ENCRYPTION_KEY not set; gmail-side cleanup jobs will fail until it is configured")
	}

	oauthConfig, err := auth.NewGoogleOAuth2Config()
	if err != nil {
		log.Warn("google oauth2 env vars not configured; authenticate/login routes will error until set", zap.Error(err))
	}

	pool := worker.NewPool(queue, jobStore, orchestrator, factory, tokens, oauthConfig)

	sched := scheduler.New(factory, policies)
	knownUsers, err := factory.KnownUserIDs()
	if err != nil {
		log.Warn("failed to read user registry; no schedules loaded at startup", zap.Error(err))
	}
	for _, userID := range knownUsers {
		if err := sched.LoadUser(userID); err != nil {
			log.Error("failed to load user's cleanup schedules", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if err := jobs.Reconcile(factory, jobStore, queue); err != nil {
		log.Error("startup job reconciliation failed", zap.Error(err))
	}

	bundle := &dispatch.Bundle{
		Sessions:     sessions,
		Storage:      factory,
		Cache:        userCache,
		Jobs:         jobStore,
		Queue:        queue,
		Policies:     policies,
		Orchestrator: orchestrator,
		Tokens:       tokens,
		OAuthConfig:  oauthConfig,
	}

	cleanup := func() {
		if err := factory.CloseAll(); err != nil {
			log.Error("error closing user databases", zap.Error(err))
		}
		userCache.Close()
		_ = log.Sync()
	}

	return bundle, pool, sched, tokens, cleanup, nil
}
