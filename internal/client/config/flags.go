package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/flagx"
)

var knownFlags = []string{
	"-a", "-i", "-b", "-driver", "-d", "-cache", "-bucket", "-g", "-e",
	"-u", "-p", "-public", "-j", "-janitor", "-m", "-l",
}

// parseFlags overlays cfg with the command-line flags it owns (see the
// package doc). Other arguments are left for other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.HealthAddr, "a", cfg.HealthAddr, "gRPC health endpoint of the media service")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.BlogID, "b", cfg.BlogID, "blog id")
	fs.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "database driver (sqlite or pgx)")
	fs.StringVar(&cfg.DSN, "d", cfg.DSN, "database DSN")
	fs.StringVar(&cfg.CacheDir, "cache", cfg.CacheDir, "cache directory")
	fs.StringVar(&cfg.S3Bucket, "bucket", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Region, "g", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "e", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3AccessKey, "u", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "p", cfg.S3SecretKey, "S3 secret key")
	fs.StringVar(&cfg.S3PublicBaseURL, "public", cfg.S3PublicBaseURL, "public base URL of stored media")
	fs.IntVar(&cfg.UploadConcurrency, "j", cfg.UploadConcurrency, "parallel uploads")
	janitorInterval := fs.Int("janitor", int(cfg.JanitorInterval.Seconds()), "orphan cleaning interval (in seconds, 0 disables)")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "address to serve metrics on")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.JanitorInterval = time.Duration(*janitorInterval) * time.Second
}
