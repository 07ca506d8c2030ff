package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIURL      string
	APIPrefix   string
	AccessToken string
	HTTPTimeout time.Duration
	// Event stream
	EventsPath     string
	ReconnectDelay time.Duration
	// Analysis reconciliation
	AnalysisTimeout    time.Duration
	StatusCheckTimeout time.Duration
	// Local state
	RedisURL       string
	CacheTTL       time.Duration
	MeiliURL       string
	MeiliMasterKey string
	SearchDBPath   string
	DraftsDir      string
	Author         string
	BridgeAddr     string
	CORSOrigin     string
	// Export upload (S3 compatible), disabled when the endpoint is empty
	ExportS3Endpoint  string
	ExportS3AccessKey string
	ExportS3SecretKey string
	ExportS3Bucket    string
	ExportS3UseSSL    bool
}

func Load() Config {
	return Config{
		APIURL:             strings.TrimRight(getenv("ZENTEL_API_URL", "http://localhost:6000"), "/"),
		APIPrefix:          getenv("ZENTEL_API_PREFIX", "/api/v1"),
		AccessToken:        getenv("ZENTEL_ACCESS_TOKEN", ""),
		HTTPTimeout:        time.Duration(getenvInt("ZENTEL_HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		EventsPath:         getenv("ZENTEL_EVENTS_PATH", "/temp-memos/analysis-events"),
		ReconnectDelay:     time.Duration(getenvInt("ZENTEL_RECONNECT_SECONDS", 3)) * time.Second,
		AnalysisTimeout:    time.Duration(getenvInt("ZENTEL_ANALYSIS_TIMEOUT_SECONDS", 150)) * time.Second,
		StatusCheckTimeout: time.Duration(getenvInt("ZENTEL_STATUS_CHECK_TIMEOUT_SECONDS", 10)) * time.Second,
		// Redis is optional; an empty URL keeps the cache in process memory
		RedisURL:       getenv("REDIS_URL", ""),
		CacheTTL:       time.Duration(getenvInt("ZENTEL_CACHE_TTL_SECONDS", 3600)) * time.Second,
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		SearchDBPath:   getenv("ZENTEL_SEARCH_DB", defaultDataPath("search.db")),
		DraftsDir:      getenv("ZENTEL_DRAFTS_DIR", defaultDataPath("drafts")),
		Author:         getenv("ZENTEL_AUTHOR", "zentel"),
		BridgeAddr:     getenv("ZENTEL_BRIDGE_ADDR", "127.0.0.1:8788"),
		CORSOrigin:     getenv("ZENTEL_CORS_ORIGIN", "*"),
		// Export upload
		ExportS3Endpoint:  getenv("EXPORT_S3_ENDPOINT", ""),
		ExportS3AccessKey: getenv("EXPORT_S3_ACCESS_KEY", ""),
		ExportS3SecretKey: getenv("EXPORT_S3_SECRET_KEY", ""),
		ExportS3Bucket:    getenv("EXPORT_S3_BUCKET", "zentel-exports"),
		ExportS3UseSSL:    getenvBool("EXPORT_S3_USE_SSL", true),
	}
}

// BaseURL joins the API origin and version prefix.
func (c Config) BaseURL() string {
	return c.APIURL + "/" + strings.Trim(c.APIPrefix, "/")
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

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data/" + name
	}
	return home + "/.zentel/" + name
}
