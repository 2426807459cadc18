package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. Values come from the
// environment (optionally seeded from a .env file) with sane defaults for
// local development.
type Config struct {
	// HTTP
	ListenAddr string

	// MySQL (membership store, SQL lock backend)
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis (catalog store, locks, queue, rate limiter)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Track storage
	StorageBackend string // "local" or "minio"
	MusicDir       string // final storage root for the local backend
	StagingDir     string // scratch area for in-flight fetches

	// MinIO (object storage backend)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// External providers
	MetadataAPIURL  string
	MediaAPIURL     string
	ProviderTimeout time.Duration
	MediaFetchRate  float64 // media fetches per second, 0 disables pacing

	// Scheduler / orchestration
	WorkerCount   int
	QueueName     string
	LockTTL       time.Duration
	LockBackend   string // "redis", "mysql" or "file"
	LockDir       string // lock file directory for the file backend
	MaxRetries    int
	RetryBaseWait time.Duration

	// Reclaimer
	ReclaimInterval    time.Duration
	StalenessThreshold time.Duration

	// Rate limiting
	RateLimitRulesFile string // optional JSON rules file, hot reloaded

	// Identity
	JWTSecret string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration reads a duration in seconds.
func getEnvDuration(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load does not override variables already set in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "echofm"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "echofm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		MusicDir:       getEnv("MUSIC_DIR", "./data/music"),
		StagingDir:     getEnv("STAGING_DIR", "./data/staging"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "echofm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		MetadataAPIURL:  getEnv("METADATA_API_URL", "http://localhost:3000"),
		MediaAPIURL:     getEnv("MEDIA_API_URL", "http://localhost:3001"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT_SECONDS", 30),
		MediaFetchRate:  getEnvFloat("MEDIA_FETCH_RATE", 1),

		WorkerCount:   getEnvInt("WORKER_COUNT", 4),
		QueueName:     getEnv("QUEUE_NAME", "acquire"),
		LockTTL:       getEnvDuration("LOCK_TTL_SECONDS", 3600),
		LockBackend:   getEnv("LOCK_BACKEND", "redis"),
		LockDir:       getEnv("LOCK_DIR", "./data/locks"),
		MaxRetries:    getEnvInt("MAX_RETRIES", 3),
		RetryBaseWait: getEnvDuration("RETRY_BASE_WAIT_SECONDS", 60),

		ReclaimInterval:    getEnvDuration("RECLAIM_INTERVAL_SECONDS", 1800),
		StalenessThreshold: getEnvDuration("STALENESS_THRESHOLD_SECONDS", 3600),

		RateLimitRulesFile: getEnv("RATE_LIMIT_RULES_FILE", ""),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-do-not-use"),
	}
}
