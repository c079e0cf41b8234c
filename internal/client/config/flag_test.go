package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd",
				"-a", "127.0.0.1:9090", "-i", "10", "-b", "travel", "-driver", "pgx", "-d", "postgres://x",
				"-cache", "/tmp/c", "-bucket", "b", "-g", "eu-west-1", "-e", "http://s3", "-u", "user",
				"-p", "pass", "-public", "https://cdn", "-j", "8", "-janitor", "60", "-m", ":9100", "-l", "debug",
			},
			expected: &Config{
				HealthAddr:          "127.0.0.1:9090",
				OnlineCheckInterval: 10 * time.Second,
				BlogID:              "travel",
				DBDriver:            "pgx",
				DSN:                 "postgres://x",
				CacheDir:            "/tmp/c",
				S3Bucket:            "b",
				S3Region:            "eu-west-1",
				S3Endpoint:          "http://s3",
				S3AccessKey:         "user",
				S3SecretKey:         "pass",
				S3PublicBaseURL:     "https://cdn",
				UploadConcurrency:   8,
				JanitorInterval:     time.Minute,
				MetricsAddr:         ":9100",
				LogLevel:            "debug",
			},
		},
		{
			name:     "unknown flags are ignored",
			args:     []string{"cmd", "-x", "1", "-b", "b1", "--verbose"},
			expected: &Config{BlogID: "b1"},
		},
		{
			name:        "incorrect check interval",
			args:        []string{"cmd", "-i", "abc"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
