package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"

	"github.com/manurov/card-service/internal/cache"
	"github.com/manurov/card-service/internal/cardnum"
	"github.com/manurov/card-service/internal/config"
	"github.com/manurov/card-service/internal/handler"
	"github.com/manurov/card-service/internal/notify"
	"github.com/manurov/card-service/internal/repository"
	"github.com/manurov/card-service/internal/service"
)

const cardViewTTL = 5 * time.Minute

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Optional card view cache
	var cardCache service.CardCache
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		cardCache = cache.NewCardViews(rdb, cardViewTTL, logger)
	}

	// Optional email notifications
	var notifier service.Notifier
	if cfg.SMTPHost != "" {
		notifier = notify.NewSender(cfg, logger)
	}

	codec, err := cardnum.New(cfg.EncryptionKey, cfg.CardPrefix)
	if err != nil {
		logger.Fatalf("Failed to initialize card number codec: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	access := service.NewAccess(repo)
	cards := service.NewCardService(repo, codec, access, cardCache, logger, cfg.CardExpiryYears)
	apps := service.NewApplicationService(repo, cards, notifier, logger)
	blocks := service.NewBlockRequestService(repo, cards, access, notifier, logger)
	transfers := service.NewTransferService(repo, cards, access, logger)
	h := handler.NewHandler(cards, apps, blocks, transfers, logger)

	// Scheduled expiry sweep
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := cards.SweepExpired(ctx, time.Now().UTC())
		if err != nil {
			logger.Errorf("Expiry sweep failed: %v", err)
			return
		}
		if n > 0 {
			logger.Infof("Expiry sweep marked %d cards expired", n)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule expiry sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      h.Router(cfg.JWTSecret),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown failed: %v", err)
	}
}
