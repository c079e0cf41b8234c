package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/mediasync/internal/flagx"
	"github.com/dmitrijs2005/mediasync/internal/timex"
)

// JsonConfig is the on-disk form of Config. Absent fields keep the value
// already in Config.
type JsonConfig struct {
	BlogID                string         `json:"blog_id"`
	DBDriver              string         `json:"db_driver"`
	DSN                   string         `json:"dsn"`
	CacheDir              string         `json:"cache_dir"`
	ThumbnailCacheEntries int            `json:"thumbnail_cache_entries"`
	ThumbnailEdge         int            `json:"thumbnail_edge"`
	S3Region              string         `json:"s3_region"`
	S3Endpoint            string         `json:"s3_endpoint"`
	S3Bucket              string         `json:"s3_bucket"`
	S3AccessKey           string         `json:"s3_access_key"`
	S3SecretKey           string         `json:"s3_secret_key"`
	S3PublicBaseURL       string         `json:"s3_public_base_url"`
	S3UsePathStyle        *bool          `json:"s3_use_path_style"`
	PresignTTL            timex.Duration `json:"presign_ttl"`
	UploadConcurrency     int            `json:"upload_concurrency"`
	Workers               int            `json:"workers"`
	SyncRetries           *int           `json:"sync_retries"`
	SyncBackoff           timex.Duration `json:"sync_backoff"`
	JanitorInterval       timex.Duration `json:"janitor_interval"`
	HealthAddr            string         `json:"health_addr"`
	OnlineCheckInterval   timex.Duration `json:"online_check_interval"`
	MetricsAddr           string         `json:"metrics_addr"`
	LogLevel              string         `json:"log_level"`
}

// parseJson overlays cfg with the JSON file named by -c/-config or
// $MEDIASYNC_CONFIG. It panics on unreadable or malformed files.
func parseJson(cfg *Config) {
	path := flagx.ConfigPath(os.Args[1:])
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}
	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.BlogID, jc.BlogID)
	setString(&cfg.DBDriver, jc.DBDriver)
	setString(&cfg.DSN, jc.DSN)
	setString(&cfg.CacheDir, jc.CacheDir)
	setInt(&cfg.ThumbnailCacheEntries, jc.ThumbnailCacheEntries)
	setInt(&cfg.ThumbnailEdge, jc.ThumbnailEdge)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3PublicBaseURL, jc.S3PublicBaseURL)
	if jc.S3UsePathStyle != nil {
		cfg.S3UsePathStyle = *jc.S3UsePathStyle
	}
	if jc.PresignTTL.Duration > 0 {
		cfg.PresignTTL = jc.PresignTTL.Duration
	}
	setInt(&cfg.UploadConcurrency, jc.UploadConcurrency)
	setInt(&cfg.Workers, jc.Workers)
	if jc.SyncRetries != nil {
		cfg.SyncRetries = *jc.SyncRetries
	}
	if jc.SyncBackoff.Duration > 0 {
		cfg.SyncBackoff = jc.SyncBackoff.Duration
	}
	if jc.JanitorInterval.Duration > 0 {
		cfg.JanitorInterval = jc.JanitorInterval.Duration
	}
	setString(&cfg.HealthAddr, jc.HealthAddr)
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	setString(&cfg.LogLevel, jc.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
