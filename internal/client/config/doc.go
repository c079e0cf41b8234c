// Package config loads runtime configuration for the mediasync CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected with -c/-config or
//     $MEDIASYNC_CONFIG.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string        host:port of the gRPC health endpoint of the media service
//	-i int           online status check interval (seconds)
//	-b string        blog the CLI works on
//	-driver string   database driver: sqlite or pgx
//	-d string        database DSN
//	-cache string    cache directory
//	-bucket string   S3 bucket
//	-g string        S3 region
//	-e string        S3 endpoint
//	-u string        S3 access key
//	-p string        S3 secret key
//	-public string   public base URL of stored media
//	-j int           parallel uploads
//	-janitor int     orphan cleaning interval (seconds, 0 disables)
//	-m string        address to serve Prometheus metrics on
//	-l string        log level
//
// # JSON schema
//
// Intervals use timex.Duration, so they can be strings like "3s" or integer
// nanoseconds:
//
//	{
//	  "blog_id": "main",
//	  "db_driver": "sqlite",
//	  "dsn": "media.db",
//	  "cache_dir": "cache",
//	  "s3_bucket": "media",
//	  "s3_region": "us-east-1",
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "upload_concurrency": 4,
//	  "online_check_interval": "3s",
//	  "sync_backoff": "200ms"
//	}
package config
