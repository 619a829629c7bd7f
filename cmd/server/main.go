package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/gigboard/marketplace/internal/api"
	"github.com/gigboard/marketplace/internal/attachments"
	"github.com/gigboard/marketplace/internal/auth"
	"github.com/gigboard/marketplace/internal/config"
	"github.com/gigboard/marketplace/internal/database"
	"github.com/gigboard/marketplace/internal/logger"
	"github.com/gigboard/marketplace/internal/messaging"
	"github.com/gigboard/marketplace/internal/metrics"
	"github.com/gigboard/marketplace/internal/push"
)

var log = logger.New("server")

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logCloser, err := logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Error("Failed to initialize logging: %v", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	auth.InitJWTKey([]byte(cfg.JWTSecret))

	dbType := database.DatabaseType(cfg.Database.Type)
	db, err := database.NewDatabase(dbType, cfg.ConnString())
	if err != nil {
		log.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Error("Failed to migrate database: %v", err)
		os.Exit(1)
	}
	log.Info("Connected to %s database successfully", dbType)

	storage, err := attachments.NewLocalStorage(cfg.Uploads.Dir, cfg.Uploads.BaseURL)
	if err != nil {
		log.Error("Failed to prepare upload storage: %v", err)
		os.Exit(1)
	}
	pipeline := attachments.NewPipeline(storage, attachments.Policy{
		MaxFileSize: cfg.Uploads.MaxFileSize.Int64(),
		MaxFiles:    cfg.Uploads.MaxFiles,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Uploads.SweepCron != "" {
		sweeper := attachments.NewSweeper(storage, db, cfg.Uploads.GracePeriod.Duration())
		if err := sweeper.Start(ctx, cfg.Uploads.SweepCron); err != nil {
			log.Error("Failed to start orphan sweeper: %v", err)
			os.Exit(1)
		}
	}

	pushManager := push.NewManager(push.Options{
		RateLimit:   rate.Limit(cfg.Push.RateLimit),
		RateBurst:   cfg.Push.RateBurst,
		CheckOrigin: originChecker(cfg.AllowedOrigins),
	})
	defer pushManager.Close()

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	api.Routes{
		Auth:            api.NewAuthHandler(db),
		Messages:        api.NewMessageHandler(messaging.NewService(db, pushManager)),
		Uploads:         api.NewUploadHandler(pipeline),
		Push:            pushManager,
		UploadRateLimit: rate.Limit(cfg.Uploads.RateLimit),
		UploadRateBurst: cfg.Uploads.RateBurst,
	}.Register(router)

	// an absolute base URL means files are served by something in front of us
	if strings.HasPrefix(cfg.Uploads.BaseURL, "/") {
		router.Static(cfg.Uploads.BaseURL, cfg.Uploads.Dir)
	}
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to start server: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited properly")
}

// corsConfig allows the configured origins with credentials. Without any
// configured origin every origin is allowed, but without credentials.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// originChecker accepts websocket upgrades from the CORS origins. Requests
// without an Origin header are not from a browser and pass.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
