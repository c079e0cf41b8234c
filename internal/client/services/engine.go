// Package services implements the media engine: creating records from
// sources, uploading them, reconciling with the remote library and keeping
// the cache tidy.
//
// Every read-modify-write of a record happens under that record's lock and
// goes through media.Repository.Update. Operations that write cache entries
// hold the shared side of the cache Barrier; orphan scans hold it
// exclusively.
package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/mediasync/internal/client/cache"
	"github.com/dmitrijs2005/mediasync/internal/client/gateway"
	"github.com/dmitrijs2005/mediasync/internal/client/metrics"
	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/client/repositories/media"
	"github.com/dmitrijs2005/mediasync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/mediasync/internal/client/thumbnail"
	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/logging"
)

// Executor delivers callbacks on a caller-designated context.
type Executor interface {
	Execute(fn func())
}

type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// Inline runs callbacks on the goroutine that produced them.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

type Options struct {
	Media    media.Repository
	Metadata metadata.Repository
	// DB enables per-page sync transactions. Without it pages are applied
	// statement by statement.
	DB       *sql.DB
	Cache    cache.Store
	Gateway  gateway.Gateway
	Renderer thumbnail.Renderer
	Logger   logging.Logger
	Metrics  *metrics.Recorder
	Executor Executor

	ThumbnailSize     models.Size
	UploadConcurrency int
	// Workers bounds background jobs other than transfers (thumbnails).
	Workers int

	// SyncRetries and SyncBackoff control retries of transient listing
	// failures during a sync.
	SyncRetries uint64
	SyncBackoff time.Duration
}

// Engine owns what the media services share: collaborators, record locks,
// the cache barrier and the background pool.
type Engine struct {
	repo     media.Repository
	meta     metadata.Repository
	db       *sql.DB
	cache    cache.Store
	gateway  gateway.Gateway
	renderer thumbnail.Renderer
	log      logging.Logger
	metrics  *metrics.Recorder
	exec     Executor

	thumbSize   models.Size
	concurrency int
	syncRetries uint64
	syncBackoff time.Duration

	locks   *recordLocks
	barrier *Barrier

	uploads *semaphore.Weighted
	workers *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]*UploadTask
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Media == nil || opts.Cache == nil {
		return nil, errors.New("media repository and cache are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Executor == nil {
		opts.Executor = Inline
	}
	if opts.Renderer == nil {
		opts.Renderer = thumbnail.NewImageRenderer()
	}
	if !opts.ThumbnailSize.Valid() {
		opts.ThumbnailSize = models.Size{Width: common.DefaultThumbnailEdge, Height: common.DefaultThumbnailEdge}
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 4
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.SyncBackoff <= 0 {
		opts.SyncBackoff = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		repo:        opts.Media,
		meta:        opts.Metadata,
		db:          opts.DB,
		cache:       opts.Cache,
		gateway:     opts.Gateway,
		renderer:    opts.Renderer,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		exec:        opts.Executor,
		thumbSize:   opts.ThumbnailSize,
		concurrency: opts.UploadConcurrency,
		syncRetries: opts.SyncRetries,
		syncBackoff: opts.SyncBackoff,
		locks:       newRecordLocks(),
		barrier:     NewBarrier(),
		uploads:     semaphore.NewWeighted(int64(opts.UploadConcurrency)),
		workers:     semaphore.NewWeighted(int64(opts.Workers)),
		ctx:         ctx,
		cancel:      cancel,
		inflight:    make(map[string]*UploadTask),
	}, nil
}

// Close cancels background work and waits for it to finish.
func (e *Engine) Close() error {
	e.cancel()
	e.wg.Wait()
	return nil
}

// Wait blocks until the background jobs started so far have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Barrier exposes the cache barrier for callers that write cache entries
// outside the services.
func (e *Engine) Barrier() *Barrier { return e.barrier }

// goBackground runs fn on the pool once a worker slot is free. fn receives
// the engine context, canceled by Close.
func (e *Engine) goBackground(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.workers.Acquire(e.ctx, 1); err != nil {
			return
		}
		defer e.workers.Release(1)
		fn(e.ctx)
	}()
}

func (e *Engine) requireGateway() error {
	if e.gateway == nil {
		return errors.New("no remote gateway configured")
	}
	return nil
}

func (e *Engine) observe(op string, start time.Time, err error) {
	e.metrics.ObserveOperation(op, time.Since(start), err)
}

// cacheKey maps a record path back to its cache key.
func (e *Engine) cacheKey(path string) (string, bool) {
	return e.cache.KeyOf(path)
}
