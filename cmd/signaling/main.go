package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/livecast/config"
	"github.com/mossy-p/livecast/internal/directory"
	"github.com/mossy-p/livecast/internal/handlers"
	"github.com/mossy-p/livecast/internal/logging"
	"github.com/mossy-p/livecast/internal/middleware"
	"github.com/mossy-p/livecast/internal/redis"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	loggerFactory := logging.NewFactory(cfg.LogLevel, nil)
	log := loggerFactory.NewLogger("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	log.Info("Redis connection established")

	dir := directory.NewRedis(client, directory.RedisOptions{
		Limit:         cfg.Discovery.ListLimit,
		LoggerFactory: loggerFactory,
	})
	hub := handlers.NewHub(client, loggerFactory)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Connections()})
	})

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// List live streamers (public, caller excluded when a token is sent)
		apiGroup.GET("/live", middleware.OptionalJWT(cfg.JWTSecret), handlers.ListLive(dir))

		// Toggle the caller's live flag (requires JWT)
		apiGroup.POST("/live", middleware.JWTAuth(cfg.JWTSecret), handlers.SetLive(dir))
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		// One topic per streamer: live-<streamerId>
		wsGroup.GET("/signal/:topic", hub.HandleSignaling)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	// Start server
	log.Infof("Starting live signaling server on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
