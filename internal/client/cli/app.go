package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/mediasync/internal/client/cache"
	"github.com/dmitrijs2005/mediasync/internal/client/client"
	"github.com/dmitrijs2005/mediasync/internal/client/config"
	"github.com/dmitrijs2005/mediasync/internal/client/gateway"
	"github.com/dmitrijs2005/mediasync/internal/client/metrics"
	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/client/online"
	"github.com/dmitrijs2005/mediasync/internal/client/services"
	"github.com/dmitrijs2005/mediasync/internal/logging"
)

type App struct {
	config *config.Config
	log    logging.Logger

	repos    *client.Repositories
	engine   *services.Engine
	factory  services.Factory
	uploader services.Uploader
	syncer   services.Syncer
	janitor  services.Janitor
	media    services.MediaService

	watcher  *online.Watcher
	registry *prometheus.Registry
	closers  []func() error

	reader *bufio.Reader
	out    io.Writer
	// wg tracks uploads resumed by the watcher
	wg sync.WaitGroup
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	log := logging.New(os.Stderr, c.LogLevel)

	a := &App{
		config:   c,
		log:      log,
		registry: prometheus.NewRegistry(),
		reader:   bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}

	repos, err := client.InitDatabase(ctx, c.DBDriver, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	a.repos = repos
	a.closers = append(a.closers, repos.Close)

	store, err := cache.NewFileSystemStore(c.CacheDir, c.ThumbnailCacheEntries)
	if err != nil {
		a.Close()
		return nil, err
	}

	rec, err := metrics.New("mediasync", a.registry)
	if err != nil {
		a.Close()
		return nil, err
	}

	gw, err := gateway.NewS3GatewayFromConfig(ctx, gateway.S3Config{
		Region:        c.S3Region,
		Endpoint:      c.S3Endpoint,
		AccessKey:     c.S3AccessKey,
		SecretKey:     c.S3SecretKey,
		Bucket:        c.S3Bucket,
		PublicBaseURL: c.S3PublicBaseURL,
		UsePathStyle:  c.S3UsePathStyle,
		PresignTTL:    c.PresignTTL,
	}, &http.Client{})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("s3 init error: %w", err)
	}

	engine, err := services.NewEngine(services.Options{
		Media:             repos.Media,
		Metadata:          repos.Metadata,
		DB:                repos.DB,
		Cache:             store,
		Gateway:           gw,
		Logger:            log,
		Metrics:           rec,
		ThumbnailSize:     models.Size{Width: c.ThumbnailEdge, Height: c.ThumbnailEdge},
		UploadConcurrency: c.UploadConcurrency,
		Workers:           c.Workers,
		SyncRetries:       uint64(max(c.SyncRetries, 0)),
		SyncBackoff:       c.SyncBackoff,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.useEngine(engine)

	var pinger online.Pinger = online.PingerFunc(gw.Ping)
	if c.HealthAddr != "" {
		gp, err := online.NewGRPCPinger(c.HealthAddr, "")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, gp.Close)
		pinger = gp
	}
	a.watcher = online.NewWatcher(pinger, c.OnlineCheckInterval, log)
	a.watcher.OnChange = a.onModeChange

	return a, nil
}

func (a *App) useEngine(e *services.Engine) {
	a.engine = e
	a.factory = services.NewFactory(e)
	a.uploader = services.NewUploader(e)
	a.syncer = services.NewSyncer(e)
	a.janitor = services.NewJanitor(e)
	a.media = services.NewMediaService(e)
	a.closers = append([]func() error{e.Close}, a.closers...)
}

// Close stops background work and releases the store. Engine first, so no
// job outlives the database.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn(context.Background(), "close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run recovers interrupted uploads, starts the background loops and blocks
// in the REPL until the user exits or a signal arrives.
func (a *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer a.Close()

	a.initSignalHandler(cancelFunc)

	if n, err := a.media.RecoverInterrupted(ctx); err != nil {
		a.log.Error(ctx, "recovering interrupted uploads failed", "error", err)
	} else if n > 0 {
		a.log.Info(ctx, "interrupted uploads can be retried", "count", n)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.watcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.janitor.Run(ctx, a.config.JanitorInterval)
	}()
	if a.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveMetrics(ctx, a.config.MetricsAddr, a.registry, a.log); err != nil {
				a.log.Error(ctx, "metrics server failed", "error", err)
			}
		}()
	}

	a.Root(ctx)

	cancelFunc()
	wg.Wait()
	a.wg.Wait()
}

// onModeChange resumes pending uploads once the service is reachable again.
func (a *App) onModeChange(ctx context.Context, mode online.Mode) {
	if mode != online.ModeOnline {
		return
	}
	tasks, err := a.uploader.UploadPending(ctx, a.config.BlogID)
	if err != nil {
		a.log.Warn(ctx, "resuming uploads failed", "error", err)
	}
	if len(tasks) == 0 {
		return
	}
	a.log.Info(ctx, "resuming uploads", "count", len(tasks))
	for _, task := range tasks {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if _, err := task.Wait(ctx); err != nil {
				a.log.Warn(ctx, "resumed upload failed", "local_id", task.LocalID(), "error", err)
			}
		}()
	}
}
