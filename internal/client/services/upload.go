package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/mediasync/internal/client/gateway"
	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/common"
)

// Uploader pushes local records to the remote library.
type Uploader interface {
	// Upload starts transferring a local or failed record. The record is
	// marked uploading before Upload returns.
	Upload(ctx context.Context, localID string) (*UploadTask, error)
	// UpdateMetadata pushes caption, alt, title and description of an
	// uploaded record. The file is never re-sent.
	UpdateMetadata(ctx context.Context, localID string) error
	// UpdateMultiple runs UpdateMetadata for every record concurrently and
	// returns the first error seen once all of them finished. Updates that
	// succeeded stay applied.
	UpdateMultiple(ctx context.Context, localIDs []string) error
	// UploadPending starts uploads for every local or failed record of the
	// blog that still has its original.
	UploadPending(ctx context.Context, blogID string) ([]*UploadTask, error)
}

// posterUploader is implemented by gateways that store video posters.
type posterUploader interface {
	PutPoster(ctx context.Context, blogID, remoteID string, body io.Reader, size int64) error
}

// UploadTask tracks one transfer.
type UploadTask struct {
	localID  string
	progress chan float64
	done     chan struct{}
	cancel   context.CancelFunc

	mu       sync.Mutex
	last     float64
	reported bool
	result   *models.Media
	err      error
}

func newUploadTask(localID string, cancel context.CancelFunc) *UploadTask {
	return &UploadTask{
		localID:  localID,
		progress: make(chan float64, 16),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
}

func (t *UploadTask) LocalID() string { return t.localID }

// Progress yields fractions in [0, 1] in non-decreasing order and is closed
// when the task ends. Intermediate values are dropped for slow readers.
func (t *UploadTask) Progress() <-chan float64 { return t.progress }

// Fraction returns the last reported progress.
func (t *UploadTask) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Cancel aborts the transfer; the record ends up failed.
func (t *UploadTask) Cancel() { t.cancel() }

func (t *UploadTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the task ends or ctx is done.
func (t *UploadTask) Wait(ctx context.Context) (*models.Media, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *UploadTask) report(fraction float64) {
	fraction = min(max(fraction, 0), 1)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reported && fraction <= t.last {
		return
	}
	t.last, t.reported = fraction, true

	select {
	case t.progress <- fraction:
	default:
		// drop the oldest value to keep the latest one
		select {
		case <-t.progress:
		default:
		}
		select {
		case t.progress <- fraction:
		default:
		}
	}
}

func (t *UploadTask) finish(m *models.Media, err error) {
	if err == nil {
		t.report(1)
	}
	t.mu.Lock()
	t.result, t.err = m, err
	t.mu.Unlock()
	close(t.progress)
	close(t.done)
}

type uploader struct {
	*Engine
}

func NewUploader(e *Engine) Uploader {
	return &uploader{Engine: e}
}

func (u *uploader) Upload(ctx context.Context, localID string) (*UploadTask, error) {
	if err := u.requireGateway(); err != nil {
		return nil, err
	}

	release, err := u.barrier.Shared(ctx)
	if err != nil {
		return nil, err
	}
	started := false
	defer func() {
		if !started {
			release()
		}
	}()

	unlock := u.locks.Lock(localID)
	defer unlock()

	u.inflightMu.Lock()
	_, busy := u.inflight[localID]
	u.inflightMu.Unlock()
	if busy {
		return nil, fmt.Errorf("%w: media %s is already uploading", common.ErrDuplicateOperation, localID)
	}

	m, err := u.repo.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	switch m.UploadState {
	case models.UploadStateUploading:
		return nil, fmt.Errorf("%w: media %s is already uploading", common.ErrDuplicateOperation, localID)
	case models.UploadStateUploaded:
		return nil, fmt.Errorf("%w: media %s is already uploaded; update its metadata instead", common.ErrInvalidState, localID)
	}

	key, ok := u.cacheKey(m.LocalPath)
	if !ok {
		return nil, fmt.Errorf("%w: media %s has no local file", common.ErrInvalidState, localID)
	}
	file, err := u.cache.Open(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: original of media %s is missing", common.ErrInvalidState, localID)
		}
		return nil, err
	}

	m.UploadState = models.UploadStateUploading
	if err := u.repo.Update(ctx, m); err != nil {
		_ = file.Close()
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(u.ctx)
	task := newUploadTask(localID, cancel)
	u.inflightMu.Lock()
	u.inflight[localID] = task
	u.inflightMu.Unlock()

	started = true
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer release()
		defer file.Close()
		u.transfer(taskCtx, task, m.Clone(), file)
	}()

	u.log.Info(ctx, "upload started", "local_id", localID, "blog_id", m.BlogID)
	return task, nil
}

func (u *uploader) transfer(ctx context.Context, task *UploadTask, m *models.Media, file *os.File) {
	start := time.Now()
	defer task.cancel()

	result, err := u.send(ctx, task, m, file)
	if err != nil {
		if errors.Is(err, context.Canceled) && !errors.Is(err, common.ErrCanceled) {
			err = fmt.Errorf("%w: %w", common.ErrCanceled, err)
		}
		result = u.markFailed(m.LocalID, err)
	}
	u.observe("upload", start, err)

	u.inflightMu.Lock()
	delete(u.inflight, m.LocalID)
	u.inflightMu.Unlock()

	task.finish(result, err)
}

func (u *uploader) send(ctx context.Context, task *UploadTask, m *models.Media, file *os.File) (*models.Media, error) {
	if err := u.uploads.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer u.uploads.Release(1)

	done := u.metrics.UploadStarted()
	defer done()

	fi, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat original: %w", common.ErrIO, err)
	}

	task.report(0)
	rm, err := u.gateway.CreateMedia(ctx, gateway.UploadRequest{
		BlogID:    m.BlogID,
		PostID:    m.PostID,
		Filename:  m.Filename,
		MIMEType:  m.MIMEType,
		MediaType: m.MediaType,
		Width:     m.Width,
		Height:    m.Height,
		Metadata:  m.Metadata,
		Body:      file,
		Size:      fi.Size(),
	}, func(sent, total int64) {
		if total > 0 {
			task.report(float64(sent) / float64(total))
		}
	})
	if err != nil {
		return nil, err
	}
	u.metrics.AddUploadedBytes(fi.Size())

	if m.MediaType == models.MediaTypeVideo {
		u.uploadPoster(ctx, m, rm.RemoteID)
	}

	return u.markUploaded(ctx, m.LocalID, rm)
}

func (u *uploader) uploadPoster(ctx context.Context, m *models.Media, remoteID string) {
	pu, ok := u.gateway.(posterUploader)
	if !ok || m.ThumbnailPath == "" {
		return
	}
	key, ok := u.cacheKey(m.ThumbnailPath)
	if !ok {
		return
	}
	f, err := u.cache.Open(ctx, key)
	if err != nil {
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err == nil {
		err = pu.PutPoster(ctx, m.BlogID, remoteID, f, fi.Size())
	}
	if err != nil {
		u.log.Warn(ctx, "poster upload failed", "local_id", m.LocalID, "error", err)
	}
}

// markUploaded links the record to its remote copy. Edits made while the
// transfer ran are kept and stay dirty.
func (u *uploader) markUploaded(ctx context.Context, localID string, rm *models.RemoteMedia) (*models.Media, error) {
	unlock := u.locks.Lock(localID)
	defer unlock()

	// the record must be written even if the task was canceled meanwhile
	ctx = context.WithoutCancel(ctx)

	cur, err := u.repo.GetByID(ctx, localID)
	if errors.Is(err, common.ErrNotFound) {
		u.log.Warn(ctx, "media deleted during upload; removing remote copy", "local_id", localID, "remote_id", rm.RemoteID)
		if derr := u.gateway.DeleteMedia(ctx, rm.BlogID, rm.RemoteID); derr != nil {
			u.log.Error(ctx, "failed to remove remote copy", "remote_id", rm.RemoteID, "error", derr)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	// a sync may have listed the new object before this record learned
	// its remote id
	if shadow, err := u.repo.GetByRemoteID(ctx, cur.BlogID, rm.RemoteID); err == nil && shadow.LocalID != localID {
		if err := u.repo.Delete(ctx, shadow.LocalID); err != nil {
			return nil, err
		}
	}

	cur.RemoteID = rm.RemoteID
	cur.RemoteURL = rm.URL
	cur.UploadState = models.UploadStateUploaded
	if err := u.repo.Update(ctx, cur); err != nil {
		u.log.Error(ctx, "failed to record upload", "local_id", localID, "remote_id", rm.RemoteID, "error", err)
		return nil, err
	}

	u.log.Info(ctx, "upload finished", "local_id", localID, "remote_id", rm.RemoteID)
	return cur, nil
}

func (u *uploader) markFailed(localID string, cause error) *models.Media {
	ctx := context.Background()
	unlock := u.locks.Lock(localID)
	defer unlock()

	u.log.Warn(ctx, "upload failed", "local_id", localID, "error", cause)

	cur, err := u.repo.GetByID(ctx, localID)
	if err != nil {
		return nil
	}
	if cur.UploadState != models.UploadStateUploading {
		return cur
	}
	cur.UploadState = models.UploadStateFailed
	if err := u.repo.Update(ctx, cur); err != nil {
		u.log.Error(ctx, "failed to mark upload failed", "local_id", localID, "error", err)
	}
	return cur
}

func (u *uploader) UpdateMetadata(ctx context.Context, localID string) (err error) {
	start := time.Now()
	defer func() { u.observe("update_metadata", start, err) }()

	if err := u.requireGateway(); err != nil {
		return err
	}

	unlock := u.locks.Lock(localID)
	defer unlock()

	m, err := u.repo.GetByID(ctx, localID)
	if err != nil {
		return err
	}
	if m.RemoteID == "" {
		return fmt.Errorf("%w: media %s has not been uploaded", common.ErrInvalidState, localID)
	}

	if err := u.gateway.UpdateMedia(ctx, m.BlogID, m.RemoteID, m.Metadata); err != nil {
		return fmt.Errorf("update metadata of %s: %w", localID, err)
	}

	if m.Dirty {
		m.Dirty = false
		if err := u.repo.Update(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (u *uploader) UpdateMultiple(ctx context.Context, localIDs []string) error {
	var g errgroup.Group
	g.SetLimit(u.concurrency)

	for _, id := range localIDs {
		g.Go(func() error {
			return u.UpdateMetadata(ctx, id)
		})
	}
	return g.Wait()
}

func (u *uploader) UploadPending(ctx context.Context, blogID string) ([]*UploadTask, error) {
	records, err := u.repo.ListByBlog(ctx, blogID)
	if err != nil {
		return nil, err
	}

	var tasks []*UploadTask
	for _, m := range records {
		if !m.UploadState.Retryable() || m.LocalPath == "" {
			continue
		}
		task, err := u.Upload(ctx, m.LocalID)
		if err != nil {
			if errors.Is(err, common.ErrDuplicateOperation) || errors.Is(err, common.ErrInvalidState) {
				u.log.Debug(ctx, "skipping pending media", "local_id", m.LocalID, "error", err)
				continue
			}
			return tasks, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
