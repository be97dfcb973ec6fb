package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/app"
	"github.com/mmdatafocus/rift_backend/config"
	"github.com/mmdatafocus/rift_backend/handlers"
	"github.com/mmdatafocus/rift_backend/middlewares"
	"github.com/mmdatafocus/rift_backend/models"
)

const defaultPort = "8080"

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			cfg.AllowOrigins = []string{}
		} else {
			cfg.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	cfg.AllowCredentials = true
	return cfg
}

// rateLimit is installed before redis is connected; it passes requests through until a limiter is set.
func rateLimit(limiter *atomic.Pointer[middlewares.RateLimiter]) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl := limiter.Load(); rl != nil {
			rl.RateLimitMiddleware(c)
			return
		}
		c.Next()
	}
}

func envInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	logger := config.GetLogger()
	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Routes are registered before dependencies connect; the readiness gate answers 503 until
	// the handler is wired.
	h := handlers.New(nil, nil, nil, logger)
	pushToken, err := config.PubSubPushToken()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Fatal(err.Error())
	}
	h.PushToken = pushToken
	var ready atomic.Bool
	var limiter atomic.Pointer[middlewares.RateLimiter]

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.ReadinessGate(func() bool {
		return ready.Load() && config.GetDB() != nil
	}))
	r.Use(cors.New(corsConfig()))
	r.Use(middlewares.AuthMiddleware())
	r.Use(rateLimit(&limiter))
	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())
	h.Register(r)
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(sigCtx)

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; SKIP_MIGRATIONS=true moves it to a separate job.
	if !config.SkipMigrations() {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	svc, err := app.Build(sigCtx, db, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Fatal(err.Error())
	}
	h.Engine = svc.Engine
	h.Ledger = svc.Ledger
	h.Sweeper = svc.Sweeper

	if config.EnvBool("RATE_LIMIT_ENABLED", false) {
		if rdb := config.GetRedisDB(); rdb != nil {
			window := time.Duration(envInt64("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
			limiter.Store(middlewares.NewRateLimiter(rdb, envInt64("RATE_LIMIT_MAX_REQUESTS", 600), window))
		}
	}
	ready.Store(true)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	// Publishes domain events after commit.
	if config.OutboxDispatcherEnabled() {
		topicCtx, cancelTopic := context.WithTimeout(sigCtx, 30*time.Second)
		if err := config.EnsureEventTopic(topicCtx); err != nil {
			logger.WithFields(logrus.Fields{"field": "pubsub"}).Warn("event topic not verified: " + err.Error())
		}
		cancelTopic()
		go svc.Dispatcher.Run(workerCtx)
	}
	if config.InProcessAutoRelease() {
		go svc.Sweeper.Run(workerCtx)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("rift api listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
