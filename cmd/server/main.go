package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/furgotrack/furgotrack-sync-service/config"
	"github.com/furgotrack/furgotrack-sync-service/internal/database"
	"github.com/furgotrack/furgotrack-sync-service/internal/feed"
	"github.com/furgotrack/furgotrack-sync-service/internal/hub"
	"github.com/furgotrack/furgotrack-sync-service/internal/logger"
	"github.com/furgotrack/furgotrack-sync-service/internal/metrics"
	"github.com/furgotrack/furgotrack-sync-service/internal/remote"
	syncengine "github.com/furgotrack/furgotrack-sync-service/internal/sync"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load() // Load .env file if it exists
	cfg := config.LoadEnv()

	// 2. Initialize Logger
	logConfig := &logger.Config{
		IsDevelopment:     false,
		Encoding:          "json",
		Level:             "info",
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	}
	if cfg.Server.AppEnv == "development" || cfg.Server.AppEnv == "dev" {
		logConfig.IsDevelopment = true
		logConfig.Encoding = "console"
		logConfig.Level = "debug"
	}
	appLogger := logger.New(logConfig)
	defer appLogger.Sync()

	// 3. Connect to Database
	db, err := database.NewPostgres(&database.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		DBName:          cfg.Postgres.DBName,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Postgres.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Postgres.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		appLogger.Fatal("Could not connect to database", zap.Error(err))
	}
	defer db.Close()
	appLogger.Info("Connected to PostgreSQL database", zap.String("db_name", cfg.Postgres.DBName))

	// 4. Initialize Redis (activation lock)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	var locker syncengine.Locker = &syncengine.RedisLocker{Client: redisClient}
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		appLogger.Warn("Could not connect to Redis, activation lock disabled", zap.Error(err))
		locker = syncengine.NopLocker{}
	} else {
		appLogger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// 5. Initialize Engine
	persistence := remote.NewPGService(db)
	engine := syncengine.New(persistence, locker, appLogger)
	engine.SetLockTTL(time.Duration(cfg.Sync.LockTTL) * time.Second)

	changeHub := hub.New(appLogger)
	defer changeHub.Close()
	engine.OnChange = changeHub.Broadcast

	// 6. Initial load from the store of record
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Duration(cfg.Sync.ResyncTimeout)*time.Second)
	if err := engine.Resync(loadCtx); err != nil {
		cancelLoad()
		appLogger.Fatal("Initial load failed", zap.Error(err))
	}
	cancelLoad()

	// 7. Initialize Change Feed
	var source feed.Source
	switch cfg.Feed.Driver {
	case "websocket":
		source = feed.NewWebSocketSource(cfg.Feed.WebSocketURL)
		appLogger.Info("Using WebSocket change feed", zap.String("url", cfg.Feed.WebSocketURL))
	default:
		source = feed.NewKafkaSource(&feed.KafkaConfig{
			Brokers: cfg.Feed.Brokers,
			Topic:   cfg.Feed.Topic,
			GroupID: cfg.Feed.GroupID,
		})
		appLogger.Info("Using Kafka change feed",
			zap.Strings("brokers", cfg.Feed.Brokers), zap.String("topic", cfg.Feed.Topic))
	}
	defer source.Close()

	listener := feed.NewListener(source, engine, appLogger)
	listener.OnStateChange = func(state feed.ConnState) {
		if state == feed.Connected {
			metrics.FeedConnected.Set(1)
		} else {
			metrics.FeedConnected.Set(0)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Start(ctx)

	// 8. Start HTTP server: change stream for UI clients + metrics
	port := cfg.Server.HTTPPort
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	mux := http.NewServeMux()
	mux.Handle("/changes", changeHub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: port, Handler: mux}
	appLogger.Info("Starting HTTP server", zap.String("port", port))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("failed to serve", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	appLogger.Info("Server stopped")
}
