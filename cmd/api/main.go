package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sakani/sakani_backend/attachments"
	"github.com/sakani/sakani_backend/cache"
	config "github.com/sakani/sakani_backend/configs"
	"github.com/sakani/sakani_backend/database"
	"github.com/sakani/sakani_backend/handlers"
	"github.com/sakani/sakani_backend/jobs"
	"github.com/sakani/sakani_backend/logger"
	"github.com/sakani/sakani_backend/routes"
	"github.com/sakani/sakani_backend/services"
	"github.com/sakani/sakani_backend/websocket"
	"go.uber.org/zap"
)

func main() {
	settings := config.Load()
	if err := logger.Init(settings.LogLevel); err != nil {
		log.Fatalf("🔥 Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if settings.JWTSecret == "" {
		logger.Log.Fatal("JWT_SECRET is required")
	}

	db, err := database.ConnectDB(settings.DBDriver, settings.DatabaseURL)
	if err != nil {
		logger.Log.Fatal("database_connect_failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Log.Fatal("database_migrate_failed", zap.Error(err))
	}

	unreadCache := newUnreadCache(settings.RedisURL)
	defer unreadCache.Close()

	storage, err := newStorage(settings)
	if err != nil {
		logger.Log.Fatal("attachment_storage_failed", zap.Error(err))
	}

	registry := websocket.NewRegistry()
	chat := services.NewChatService(database.NewMessageStore(db), registry, unreadCache, settings.UnreadCacheTTL)
	handler := &handlers.ChatHandler{
		Chat:       chat,
		Storage:    storage,
		Registry:   registry,
		JWTSecret:  settings.JWTSecret,
		SendBuffer: settings.WSSendBuffer,
	}

	c := cron.New()
	if _, err := c.AddFunc(settings.ActivityCron, jobs.ReportChatActivity(registry, chat)); err != nil {
		logger.Log.Fatal("cron_schedule_failed", zap.String("spec", settings.ActivityCron), zap.Error(err))
	}
	c.Start()
	logger.Log.Info("✅ Chat activity report scheduled", zap.String("spec", settings.ActivityCron))

	app := fiber.New(fiber.Config{
		Prefork:       false,
		AppName:       "Sakani Chat",
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		ErrorHandler:  handlers.ErrorHandler,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  settings.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "Content-Length, Authorization",
		MaxAge:        86400,
	}))
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		TimeFormat: "2006-01-02 15:04:05",
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Static("/uploads", settings.UploadDir)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	routes.ChatRoutes(app, handler)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		logger.Log.Info("shutting_down")
		registry.Shutdown()
		<-c.Stop().Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Error("server_shutdown_failed", zap.Error(err))
		}
	}()

	logger.Log.Info("✅ Server is running", zap.Int("port", settings.Port))
	if err := app.Listen(fmt.Sprintf(":%d", settings.Port)); err != nil {
		logger.Log.Fatal("🔥 Server failed to start", zap.Error(err))
	}
}

func newUnreadCache(redisURL string) cache.Cache {
	if redisURL == "" {
		return cache.Noop{}
	}
	rc, err := cache.NewRedisCache(context.Background(), redisURL)
	if err != nil {
		logger.Log.Warn("redis_unavailable_using_noop_cache", zap.Error(err))
		return cache.Noop{}
	}
	return rc
}

func newStorage(settings config.Settings) (attachments.Storage, error) {
	if settings.CloudinaryURL != "" {
		return attachments.NewCloudinaryStorage(settings.CloudinaryURL)
	}
	return attachments.NewLocalStorage(settings.UploadDir)
}
