package config

import (
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
)

// Config holds runtime settings for the mediasync CLI.
type Config struct {
	BlogID string

	DBDriver string
	DSN      string

	CacheDir              string
	ThumbnailCacheEntries int
	ThumbnailEdge         int

	S3Region        string
	S3Endpoint      string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	PresignTTL      time.Duration

	UploadConcurrency int
	Workers           int
	SyncRetries       int
	SyncBackoff       time.Duration
	JanitorInterval   time.Duration

	// HealthAddr is probed with the gRPC health protocol. Empty means the
	// bucket itself is probed.
	HealthAddr          string
	OnlineCheckInterval time.Duration

	MetricsAddr string
	LogLevel    string
}

// LoadDefaults populates c with development defaults (local MinIO, SQLite).
func (c *Config) LoadDefaults() {
	c.BlogID = "main"
	c.DBDriver = "sqlite"
	c.DSN = "media.db"
	c.CacheDir = "cache"
	c.ThumbnailCacheEntries = 256
	c.ThumbnailEdge = common.DefaultThumbnailEdge
	c.S3Region = "us-east-1"
	c.S3Endpoint = "http://127.0.0.1:9000"
	c.S3Bucket = "media"
	c.S3AccessKey = "admin"
	c.S3SecretKey = "secretpassword"
	c.S3UsePathStyle = true
	c.PresignTTL = 15 * time.Minute
	c.UploadConcurrency = 4
	c.Workers = 2
	c.SyncRetries = 3
	c.SyncBackoff = 200 * time.Millisecond
	c.JanitorInterval = 10 * time.Minute
	c.OnlineCheckInterval = 3 * time.Second
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
