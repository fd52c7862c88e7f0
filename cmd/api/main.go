package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tvlink/server/internal/access"
	"github.com/tvlink/server/internal/auth"
	"github.com/tvlink/server/internal/config"
	"github.com/tvlink/server/internal/db"
	"github.com/tvlink/server/internal/dispatch"
	httphandler "github.com/tvlink/server/internal/http"
	"github.com/tvlink/server/internal/http/handlers"
	"github.com/tvlink/server/internal/logging"
	"github.com/tvlink/server/internal/middleware"
	"github.com/tvlink/server/internal/pairing"
	"github.com/tvlink/server/internal/push"
	"github.com/tvlink/server/internal/repo"
)

const sweepInterval = time.Minute

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.DevMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistent store
	var (
		store    repo.Store
		database *sql.DB
	)
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		database, err = db.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer database.Close()

		if err := db.Migrate(database); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		store = repo.NewPostgresStore(database)
	default:
		logger.Warn("using in-memory store; state is lost on restart")
		store = repo.NewMemoryStore()
	}

	// Pending command table
	var pending dispatch.PendingTable
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("failed to reach redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		pending = dispatch.NewRedisTable(rdb, cfg.PendingHorizon)
		logger.Info("pending commands shared through redis", zap.String("addr", cfg.RedisAddr))
	} else {
		pending = dispatch.NewMemoryTable(cfg.PendingHorizon)
	}

	// Push gateway
	var gateway push.Gateway
	if cfg.FirebaseCredentialsFile != "" {
		fcm, err := push.NewFCMGateway(ctx, cfg.FirebaseCredentialsFile, cfg.FirebaseProjectID, logger)
		if err != nil {
			logger.Fatal("failed to initialize FCM", zap.Error(err))
		}
		gateway = fcm
	} else {
		logger.Warn("FIREBASE_CREDENTIALS_FILE not set; push messages are only logged")
		gateway = push.NewLogGateway(logger)
	}

	// Services
	pairingService := pairing.NewService(store.Pairing, cfg.PairingCodeTTL, logger)
	deviceService := auth.NewDeviceService(store.Devices, pairingService, logger)
	accessService := access.NewService(store.Devices, store.Links, logger)
	dispatcher := dispatch.NewDispatcher(store.Devices, accessService, gateway, pending, dispatch.Options{
		AckWait:      cfg.AckWait,
		PollInterval: cfg.AckPollInterval,
	}, logger)

	go runPairingSweeper(ctx, pairingService, logger)

	health := handlers.NewHealthHandler(nil)
	if database != nil {
		health = handlers.NewHealthHandler(database)
	}

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Devices:       handlers.NewDeviceHandler(deviceService, accessService, dispatcher, logger),
		Users:         handlers.NewUserHandler(pairingService, accessService, dispatcher, logger),
		Health:        health,
		DeviceAuth:    deviceService,
		UserVerifier:  auth.NewJWTVerifier(cfg.UserAuthSecret),
		RegisterLimit: middleware.NewRateLimiter(cfg.RateLimitRegisterPerMin, burstFor(cfg.RateLimitRegisterPerMin)),
		PairLimit:     middleware.NewRateLimiter(cfg.RateLimitPairPerMin, burstFor(cfg.RateLimitPairPerMin)),
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10*time.Second + cfg.AckWait,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// runPairingSweeper deletes expired pairing codes until ctx is done
func runPairingSweeper(ctx context.Context, svc *pairing.Service, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.Sweep(ctx)
			if err != nil {
				logger.Warn("pairing code sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("expired pairing codes removed", zap.Int64("count", n))
			}
		}
	}
}

func burstFor(perMinute int) int {
	if b := perMinute / 4; b > 1 {
		return b
	}
	return 1
}
