package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var loadEnv sync.Once

// Config returns the value of key, reading .env once before falling back to the process environment.
func Config(key string) string {
	loadEnv.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("Warning: .env file not found, reading from system environment variables")
		}
	})

	return os.Getenv(key)
}

type Settings struct {
	Port           int
	DBDriver       string
	DatabaseURL    string
	JWTSecret      string
	RedisURL       string
	UnreadCacheTTL time.Duration
	CloudinaryURL  string
	UploadDir      string
	LogLevel       string
	WSSendBuffer   int
	ActivityCron   string
	CORSOrigins    string
}

func Load() Settings {
	return Settings{
		Port:           intOr("PORT", 8080),
		DBDriver:       strings.ToLower(stringOr("DB_DRIVER", "postgres")),
		DatabaseURL:    Config("DATABASE_URL"),
		JWTSecret:      Config("JWT_SECRET"),
		RedisURL:       Config("REDIS_URL"),
		UnreadCacheTTL: durationOr("UNREAD_CACHE_TTL", 30*time.Second),
		CloudinaryURL:  Config("CLOUDINARY_URL"),
		UploadDir:      stringOr("UPLOAD_DIR", "uploads"),
		LogLevel:       stringOr("LOG_LEVEL", "info"),
		WSSendBuffer:   intOr("WS_SEND_BUFFER", 64),
		ActivityCron:   stringOr("ACTIVITY_CRON", "*/5 * * * *"),
		CORSOrigins:    stringOr("CORS_ORIGINS", "*"),
	}
}

func stringOr(key, fallback string) string {
	if v := strings.TrimSpace(Config(key)); v != "" {
		return v
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := strings.TrimSpace(Config(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(Config(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
		log.Printf("Warning: invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}
