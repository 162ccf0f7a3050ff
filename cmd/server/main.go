package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/donmunna435-dev/Deep-yt/internal/api"
	"github.com/donmunna435-dev/Deep-yt/internal/api/handler"
	"github.com/donmunna435-dev/Deep-yt/internal/bot"
	"github.com/donmunna435-dev/Deep-yt/internal/config"
	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/internal/downloader"
	"github.com/donmunna435-dev/Deep-yt/internal/logging"
	"github.com/donmunna435-dev/Deep-yt/internal/repository"
	"github.com/donmunna435-dev/Deep-yt/internal/service"
	"github.com/donmunna435-dev/Deep-yt/internal/worker"
	"github.com/donmunna435-dev/Deep-yt/internal/youtube"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	credentialFile = "tokens.json"
	credentialDB   = "tokens.db"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("deep-yt %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting deep-yt",
		"version", Version,
		"build_time", BuildTime,
	)

	if err := os.MkdirAll(cfg.Storage.PersistPath, 0o700); err != nil {
		logger.Error("failed to create persist directory", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Storage.TempPath, 0o755); err != nil {
		logger.Error("failed to create temp directory", "error", err)
		os.Exit(1)
	}

	creds, closeCreds, err := openCredentialStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer closeCreds()

	sessions, closeSessions, err := openSessionStore(cfg.Session)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	dl, err := downloader.NewHTTPDownloader(cfg.Download, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to create downloader", "error", err)
		os.Exit(1)
	}
	logger.Info("scratch directory ready",
		"path", dl.TempDir(),
		"free_bytes", dl.FreeSpace(),
		"max_file_size", cfg.Storage.MaxFileSize,
	)

	oauth := youtube.NewOAuth(cfg.Google)
	gateway := youtube.NewGateway(oauth, creds, cfg.YouTube, logger)

	limiter := bot.NewUserLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, 0)
	tg, err := bot.New(cfg.Telegram, nil, limiter, logger)
	if err != nil {
		logger.Error("failed to start telegram bot", "error", err)
		os.Exit(1)
	}

	authSvc := service.NewAuthService(oauth, creds, cfg.Google.StateTTL, logger)
	flowSvc := service.NewFlowService(
		sessions,
		creds,
		authSvc,
		dl,
		gateway,
		tg,
		service.FlowConfig{
			MaxFileSize:  cfg.Storage.MaxFileSize,
			AdminUserIDs: cfg.Telegram.AdminUserIDs,
			EditInterval: cfg.Telegram.EditInterval,
			SendAuthQR:   cfg.Telegram.SendAuthQR,
		},
		logger,
	)

	dispatcher := worker.NewDispatcher(
		worker.Config{
			Workers:   cfg.Worker.Count,
			QueueSize: cfg.Worker.QueueSize,
		},
		flowSvc.Handle,
		logger,
	)

	// Completions that arrive after the dispatcher stopped are still
	// handled so that their files are removed.
	flowSvc.SetEmitter(func(ev domain.Event) {
		if err := dispatcher.Submit(ev); err != nil {
			if herr := flowSvc.Handle(context.Background(), ev); herr != nil {
				logger.Warn("late completion failed", "user_id", ev.UserID.String(), "error", herr)
			}
		}
	})

	sweeper := worker.NewSweeper(dl.Sweep, cfg.Cleanup.Interval, cfg.Cleanup.MaxAge, logger)
	sweeper.Start()

	checks := map[string]handler.Pinger{"credentials": creds}
	if p, ok := sessions.(handler.Pinger); ok {
		checks["sessions"] = p
	}
	healthHandler := handler.NewHealthHandler(checks, flowSvc, dispatcher, dl)
	oauthHandler := handler.NewOAuthHandler(flowSvc, tg.Username(), logger)

	router := api.NewRouter(healthHandler, oauthHandler, cfg.Server.APIKey, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	botCtx, stopBot := context.WithCancel(context.Background())
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		if err := tg.Run(botCtx, dispatcher.Submit); err != nil {
			logger.Error("telegram polling stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	stopBot()
	<-botDone

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	flowSvc.Close()

	if err := dispatcher.Stop(25 * time.Second); err != nil {
		logger.Error("dispatcher shutdown error", "error", err)
	}

	if err := sweeper.Stop(5 * time.Second); err != nil {
		logger.Error("sweeper shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}

// credentialStore is a CredentialStore that can report its health.
type credentialStore interface {
	repository.CredentialStore
	handler.Pinger
}

func openCredentialStore(cfg config.StorageConfig) (credentialStore, func(), error) {
	switch cfg.CredentialBackend {
	case "sqlite":
		if cfg.CredentialPassphrase != "" {
			return nil, nil, errors.New("CREDENTIAL_PASSPHRASE is only supported by the file backend")
		}
		s, err := repository.NewSQLiteCredentialStore(filepath.Join(cfg.PersistPath, credentialDB))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := repository.NewFileCredentialStore(filepath.Join(cfg.PersistPath, credentialFile), cfg.CredentialPassphrase)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

func openSessionStore(cfg config.SessionConfig) (repository.SessionStore, func(), error) {
	if cfg.Backend != "redis" {
		return repository.NewInMemorySessionStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	s, err := repository.NewRedisSessionStore(client, cfg.KeyPrefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return s, func() { _ = client.Close() }, nil
}
