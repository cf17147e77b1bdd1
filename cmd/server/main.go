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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"connection_coordinator/internal/broadcast"
	"connection_coordinator/internal/config"
	"connection_coordinator/internal/coordinator"
	"connection_coordinator/internal/domain"
	"connection_coordinator/internal/handler"
	"connection_coordinator/internal/middleware"
	"connection_coordinator/internal/repository"
	"connection_coordinator/internal/service"
	"connection_coordinator/internal/transport"
	"connection_coordinator/pkg/logger"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger := logger.New(cfg.Log.Level)

	// Подключение к Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	// PostgreSQL опционален - без него audit-записи просто не пишутся
	var dbPool *pgxpool.Pool
	if cfg.Database.DSN != "" {
		dbPool, err = pgxpool.New(context.Background(), cfg.Database.DSN)
		if err != nil {
			appLogger.Fatal("Failed to connect to database", "error", err)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(context.Background()); err != nil {
			appLogger.Fatal("Failed to ping database", "error", err)
		}
		appLogger.Info("Database connection established")
	}

	// Инициализация репозиториев и сервисов
	repos := repository.NewRepositories(rdb, dbPool, appLogger)
	services := service.NewServices(repos, cfg, appLogger)

	hub := transport.NewHub(appLogger)
	broadcaster := broadcast.New(hub, services.Room, appLogger)

	coord := coordinator.New(services.Session, services.Room, services.RateLimit, broadcaster, hub, appLogger)
	coord.RegisterDefaultHandlers()

	// Истечение TTL комнаты становится наблюдаемым событием: сначала
	// уведомляем участников, потом сервис удаляет запись.
	services.Room.SetOnExpired(func(room *domain.Room) {
		broadcaster.NotifyRoomExpired(room)
	})

	daemonCtx, stopDaemons := context.WithCancel(context.Background())
	defer stopDaemons()

	notifier := service.NewRedisExpiryNotifier(rdb, cfg.Redis.DB, func(roomID string) {
		services.Room.HandleExpiredRoom(daemonCtx, roomID)
	}, appLogger)
	if err := notifier.Start(daemonCtx); err != nil {
		appLogger.Fatal("Failed to start expiry notifier", "error", err)
	}

	go runSweeper(daemonCtx, cfg.Session.SweepInterval, func(ctx context.Context) {
		if _, err := services.Session.SweepStale(ctx, cfg.Session.MaxInactive); err != nil {
			appLogger.Error("Session sweep failed", "error", err)
		}
	})
	go runSweeper(daemonCtx, cfg.Room.SweepInterval, func(ctx context.Context) {
		if _, err := services.Room.SweepStale(ctx); err != nil {
			appLogger.Error("Room sweep failed", "error", err)
		}
	})

	// Инициализация middleware и handlers
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, appLogger)
	authMiddleware := middleware.NewAuthMiddleware(services.Verifier, appLogger)
	handlers := handler.NewHandlers(services, coord, hub, cfg, appLogger)

	router := setupRouter(handlers, rateLimitMiddleware, authMiddleware, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск HTTP сервера
	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	stopDaemons()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatal("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

func runSweeper(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

func setupRouter(
	handlers *handler.Handlers,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	authMiddleware *middleware.AuthMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler())

	// Health check
	router.GET("/health", handlers.Health.Check)
	router.GET("/stats", authMiddleware.RequireAuth(), handlers.Health.Stats)
	router.GET("/rooms/:id/history", authMiddleware.RequireAuth(), handlers.Room.History)

	// Лимит на upgrade проверяется здесь, лимит на события - внутри
	// координатора на каждое сообщение.
	router.GET("/ws", rateLimitMiddleware.Limit(), handlers.WebSocket.Handle)

	return router
}
