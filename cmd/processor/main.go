package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/freieslabor/prepaid-mate/internal/config"
	"github.com/freieslabor/prepaid-mate/internal/db"
	"github.com/freieslabor/prepaid-mate/internal/logger"
	"github.com/freieslabor/prepaid-mate/internal/models"
	"github.com/freieslabor/prepaid-mate/internal/queue"
)

// The processor archives committed ledger events from RabbitMQ into MongoDB.
func main() {
	cfg, err := config.LoadProcessor()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to MongoDB
	zlog.Info("connecting to MongoDB")
	mongodb, err := db.NewMongoDB(cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		zlog.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		mongodb.Close(closeCtx)
	}()

	// Connect to RabbitMQ
	zlog.Info("connecting to RabbitMQ")
	rabbitmq, err := queue.NewRabbitMQ(cfg.RabbitMQ.URI, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitmq.Close()

	archive := func(ctx context.Context, e *models.LedgerEvent) error {
		archived, err := mongodb.InsertEvent(ctx, e)
		if err != nil {
			return err
		}
		if !archived {
			zlog.Debug("event already archived", zap.String("event_id", e.ID))
			return nil
		}
		zlog.Info("event archived",
			zap.String("event_id", e.ID),
			zap.String("type", string(e.Type)),
			zap.String("account_id", e.AccountID),
			zap.Int64("amount", e.Amount),
			zap.Int64("balance_after", e.BalanceAfter),
		)
		return nil
	}

	done := make(chan error, 1)
	go func() {
		zlog.Info("starting event processor")
		done <- rabbitmq.ConsumeEvents(ctx, archive)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		zlog.Info("shutting down processor")
		cancel()
		<-done
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("event processor stopped", zap.Error(err))
		}
	}

	zlog.Info("processor shut down successfully")
}
