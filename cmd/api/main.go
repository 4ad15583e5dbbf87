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

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/freieslabor/prepaid-mate/internal/api"
	"github.com/freieslabor/prepaid-mate/internal/config"
	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/logger"
	"github.com/freieslabor/prepaid-mate/internal/queue"
	"github.com/freieslabor/prepaid-mate/internal/security"
	"github.com/freieslabor/prepaid-mate/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer store.Close()

	hasher, err := security.NewHasher(cfg.Security.BcryptCost)
	if err != nil {
		return err
	}

	opts := service.Options{
		SuperuserSecret: cfg.SuperuserPassword,
		Timeout:         cfg.Database.Timeout,
		UnknownCodeTTL:  cfg.UnknownCodeTTL,
	}

	// Event publishing is optional
	if cfg.RabbitMQ.URI != "" {
		zlog.Info("connecting to RabbitMQ")
		rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URI, zlog)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer rabbitmq.Close()
		opts.Publisher = rabbitmq
	} else {
		zlog.Info("rabbitmq.uri not set, ledger events will not be published")
	}

	engine := service.NewEngine(store, hasher, opts, zlog)

	// Create router and set up routes
	router := mux.NewRouter()
	api.SetupRoutes(router, engine, zlog)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		zlog.Info("starting server", zap.String("port", cfg.Server.Port), zap.String("driver", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	zlog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	zlog.Info("server shut down successfully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (db.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverBolt:
		zlog.Info("opening bolt database", zap.String("path", cfg.Database.BoltPath))
		return db.NewBolt(cfg.Database.BoltPath)

	case config.DriverPostgres:
		zlog.Info("connecting to PostgreSQL")
		postgres, err := db.NewPostgres(db.PostgresConfig{
			URI:             cfg.Database.PostgresURI,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, zlog)
		if err != nil {
			return nil, err
		}

		zlog.Info("creating the schema")
		if err := postgres.InitSchema(ctx); err != nil {
			postgres.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		return postgres, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
