package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	Environment string
	CORSOrigin  string
	// Report store: "postgres" or "sqlite"
	DatabaseDriver string
	DatabaseURL    string
	// External collaborators
	LabelServiceURL string
	ChatServiceURL  string
	UpstreamTimeout time.Duration
	LabelCacheTTL   time.Duration
	// Workspace sessions
	SessionIdleTTL   time.Duration
	ScrollDelay      time.Duration
	AutosaveInterval time.Duration
	// Optional infrastructure, disabled when empty
	RedisURL       string
	DraftTTL       time.Duration
	RevisionsDir   string
	MeiliURL       string
	MeiliMasterKey string
	BlobEndpoint   string
	BlobAccessKey  string
	BlobSecretKey  string
	BlobBucket     string
	BlobUseSSL     bool
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Logging
	LogFilePath string
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:             getenv("API_ADDR", ":8788"),
		Environment:      getenv("APP_ENV", "development"),
		CORSOrigin:       getenv("CORS_ORIGIN", "*"),
		DatabaseDriver:   getenv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:      getenv("DATABASE_URL", "file:./data/labelscope.db?_pragma=busy_timeout(5000)"),
		LabelServiceURL:  getenv("LABEL_SERVICE_URL", "http://localhost:8000/api/drugs"),
		ChatServiceURL:   getenv("CHAT_SERVICE_URL", "http://localhost:8000/api/chat"),
		UpstreamTimeout:  getenvDuration("UPSTREAM_TIMEOUT", 20*time.Second),
		LabelCacheTTL:    getenvDuration("LABEL_CACHE_TTL", 10*time.Minute),
		SessionIdleTTL:   getenvDuration("SESSION_IDLE_TTL", 2*time.Hour),
		ScrollDelay:      getenvDuration("RESTORE_SCROLL_DELAY", 100*time.Millisecond),
		AutosaveInterval: getenvDuration("AUTOSAVE_INTERVAL", 30*time.Second),
		RedisURL:         getenv("REDIS_URL", ""),
		DraftTTL:         time.Duration(getenvInt("DRAFT_TTL_SECONDS", 86400)) * time.Second,
		RevisionsDir:     getenv("REVISIONS_DIR", "./data/revisions"),
		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		BlobEndpoint:     getenv("BLOB_ENDPOINT", ""),
		BlobAccessKey:    getenv("BLOB_ACCESS_KEY", ""),
		BlobSecretKey:    getenv("BLOB_SECRET_KEY", ""),
		BlobBucket:       getenv("BLOB_BUCKET", "labelscope-exports"),
		BlobUseSSL:       getenvBool("BLOB_USE_SSL", false),
		// SMTP - empty by default, sharing disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Label Workspace"),
		LogFilePath:  getenv("LOG_FILE_PATH", "./data/labelscope.log"),
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
