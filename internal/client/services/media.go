package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/mediasync/internal/client/cache"
	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/client/thumbnail"
	"github.com/dmitrijs2005/mediasync/internal/common"
)

// MediaService covers the record-level operations around the engine.
type MediaService interface {
	Get(ctx context.Context, localID string) (*models.Media, error)
	List(ctx context.Context, blogID string) ([]*models.Media, error)
	// Find looks a record up by its remote identity.
	Find(ctx context.Context, blogID, remoteID string) (*models.Media, error)
	// GetRemote fetches one remote item and upserts its local record.
	GetRemote(ctx context.Context, blogID, remoteID string) (*models.Media, error)
	Count(ctx context.Context, blogID string, types ...models.MediaType) (int, error)
	// Thumbnail returns the path of a thumbnail of the given size, rendering
	// it from the cached original or the remote copy when needed.
	Thumbnail(ctx context.Context, localID string, size models.Size) (string, error)
	// ThumbnailBytes is Thumbnail returning the JPEG itself. Repeated calls
	// for the default size are served from memory.
	ThumbnailBytes(ctx context.Context, localID string, size models.Size) ([]byte, error)
	ResolveVideo(ctx context.Context, blogID, videoID string) (*models.VideoReference, error)
	// EditMetadata changes the descriptive fields locally. Uploaded records
	// become dirty until UpdateMetadata pushes them.
	EditMetadata(ctx context.Context, localID string, md models.Metadata) (*models.Media, error)
	// Delete removes the remote copy (if any), the record and its cache files.
	Delete(ctx context.Context, localID string) error
	// RecoverInterrupted moves records left uploading by a previous run to
	// failed.
	RecoverInterrupted(ctx context.Context) (int, error)
}

type mediaService struct {
	*Engine
}

func NewMediaService(e *Engine) MediaService {
	return &mediaService{Engine: e}
}

func (s *mediaService) Get(ctx context.Context, localID string) (*models.Media, error) {
	return s.repo.GetByID(ctx, localID)
}

func (s *mediaService) List(ctx context.Context, blogID string) ([]*models.Media, error) {
	return s.repo.ListByBlog(ctx, blogID)
}

func (s *mediaService) Find(ctx context.Context, blogID, remoteID string) (*models.Media, error) {
	return s.repo.GetByRemoteID(ctx, blogID, remoteID)
}

func (s *mediaService) Count(ctx context.Context, blogID string, types ...models.MediaType) (int, error) {
	return s.repo.CountByType(ctx, blogID, types)
}

func (s *mediaService) GetRemote(ctx context.Context, blogID, remoteID string) (*models.Media, error) {
	if err := s.requireGateway(); err != nil {
		return nil, err
	}
	rm, err := s.gateway.GetMedia(ctx, blogID, remoteID)
	if err != nil {
		return nil, err
	}

	cur, err := s.repo.GetByRemoteID(ctx, blogID, remoteID)
	if errors.Is(err, common.ErrNotFound) {
		m := newRemoteRecord(blogID, *rm)
		cerr := s.repo.Create(ctx, m)
		if cerr == nil {
			return m, nil
		}
		// a concurrent sync may have inserted the same remote item
		if cur, err = s.repo.GetByRemoteID(ctx, blogID, remoteID); err != nil {
			return nil, cerr
		}
	}
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(cur.LocalID)
	defer unlock()

	cur, err = s.repo.GetByID(ctx, cur.LocalID)
	if err != nil {
		return nil, err
	}
	if mergeRemote(cur, *rm) {
		if err := s.repo.Update(ctx, cur); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (s *mediaService) ResolveVideo(ctx context.Context, blogID, videoID string) (*models.VideoReference, error) {
	if err := s.requireGateway(); err != nil {
		return nil, err
	}
	return s.gateway.ResolveVideo(ctx, blogID, videoID)
}

func (s *mediaService) Thumbnail(ctx context.Context, localID string, size models.Size) (string, error) {
	key, _, err := s.thumbnail(ctx, localID, size)
	if err != nil {
		return "", err
	}
	return s.cache.Path(key), nil
}

func (s *mediaService) ThumbnailBytes(ctx context.Context, localID string, size models.Size) ([]byte, error) {
	_, data, err := s.thumbnail(ctx, localID, size)
	return data, err
}

func (s *mediaService) thumbnail(ctx context.Context, localID string, size models.Size) (string, []byte, error) {
	if !size.Valid() {
		size = s.thumbSize
	}

	release, err := s.barrier.Shared(ctx)
	if err != nil {
		return "", nil, err
	}
	defer release()

	unlock := s.locks.Lock(localID)
	defer unlock()

	m, err := s.repo.GetByID(ctx, localID)
	if err != nil {
		return "", nil, err
	}

	key := cache.ThumbnailKey(localID, size)
	data, err := s.cache.Read(ctx, key)
	switch {
	case err == nil:
		if err := s.linkThumbnail(ctx, m, key, size); err != nil {
			return "", nil, err
		}
		return key, data, nil
	case !errors.Is(err, common.ErrNotFound):
		return "", nil, err
	}

	src, mime, err := s.thumbnailSource(ctx, m)
	if err != nil {
		return "", nil, err
	}
	defer src.Close()

	var buf bytes.Buffer
	if err := s.renderer.Render(ctx, src, mime, size, &buf); err != nil {
		return "", nil, fmt.Errorf("render thumbnail of %s: %w", localID, err)
	}
	data = buf.Bytes()
	if _, err := s.cache.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return "", nil, err
	}
	if err := s.linkThumbnail(ctx, m, key, size); err != nil {
		return "", nil, err
	}
	return key, data, nil
}

// linkThumbnail records the default-size thumbnail on the record; other
// sizes are transient and left to the orphan scan.
func (s *mediaService) linkThumbnail(ctx context.Context, m *models.Media, key string, size models.Size) error {
	path := s.cache.Path(key)
	if size != s.thumbSize || m.ThumbnailPath == path {
		return nil
	}
	m.ThumbnailPath = path
	return s.repo.Update(ctx, m)
}

// thumbnailSource opens a still image of m: the original when it can be
// rendered, otherwise the default thumbnail (a video poster).
func (s *mediaService) thumbnailSource(ctx context.Context, m *models.Media) (io.ReadCloser, string, error) {
	if !thumbnail.Supports(m.MIMEType) {
		key, ok := s.cacheKey(m.ThumbnailPath)
		if !ok {
			return nil, "", fmt.Errorf("%w: no still image for %s (%s)", thumbnail.ErrUnsupportedMIMEType, m.LocalID, m.MIMEType)
		}
		f, err := s.cache.Open(ctx, key)
		if err != nil {
			return nil, "", err
		}
		return f, thumbnail.OutputMIME, nil
	}

	if key, ok := s.cacheKey(m.LocalPath); ok {
		f, err := s.cache.Open(ctx, key)
		if err == nil {
			return f, m.MIMEType, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, "", err
		}
	}

	if m.RemoteID == "" {
		return nil, "", fmt.Errorf("%w: media %s has neither a local nor a remote copy", common.ErrNotFound, m.LocalID)
	}
	if err := s.requireGateway(); err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if _, err := s.gateway.Download(ctx, m.BlogID, m.RemoteID, &buf); err != nil {
		return nil, "", err
	}
	return io.NopCloser(&buf), m.MIMEType, nil
}

func (s *mediaService) EditMetadata(ctx context.Context, localID string, md models.Metadata) (*models.Media, error) {
	unlock := s.locks.Lock(localID)
	defer unlock()

	m, err := s.repo.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if m.Metadata == md {
		return m, nil
	}

	m.Metadata = md
	if m.UploadState == models.UploadStateUploaded || m.UploadState == models.UploadStateUploading {
		m.Dirty = true
	}
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *mediaService) Delete(ctx context.Context, localID string) error {
	unlock := s.locks.Lock(localID)
	defer unlock()

	m, err := s.repo.GetByID(ctx, localID)
	if err != nil {
		return err
	}
	if m.UploadState == models.UploadStateUploading {
		return fmt.Errorf("%w: media %s is uploading", common.ErrInvalidState, localID)
	}

	if m.RemoteID != "" {
		if err := s.requireGateway(); err != nil {
			return err
		}
		if err := s.gateway.DeleteMedia(ctx, m.BlogID, m.RemoteID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("delete remote copy of %s: %w", localID, err)
		}
	}

	if err := s.repo.Delete(ctx, localID); err != nil {
		return err
	}

	for _, p := range []string{m.LocalPath, m.ThumbnailPath} {
		if key, ok := s.cacheKey(p); ok {
			if err := s.cache.Delete(ctx, key); err != nil {
				s.log.Warn(ctx, "failed to remove cached file", "key", key, "error", err)
			}
		}
	}
	s.log.Info(ctx, "media deleted", "local_id", localID, "remote_id", m.RemoteID)
	return nil
}

func (s *mediaService) RecoverInterrupted(ctx context.Context) (int, error) {
	records, err := s.repo.ListByState(ctx, models.UploadStateUploading)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, m := range records {
		s.inflightMu.Lock()
		_, running := s.inflight[m.LocalID]
		s.inflightMu.Unlock()
		if running {
			continue
		}

		ok, err := s.recover(ctx, m.LocalID)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		s.log.Info(ctx, "interrupted uploads marked failed", "count", recovered)
	}
	return recovered, nil
}

func (s *mediaService) recover(ctx context.Context, localID string) (bool, error) {
	unlock := s.locks.Lock(localID)
	defer unlock()

	s.inflightMu.Lock()
	_, running := s.inflight[localID]
	s.inflightMu.Unlock()
	if running {
		return false, nil
	}

	m, err := s.repo.GetByID(ctx, localID)
	if err != nil {
		return false, err
	}
	if m.UploadState != models.UploadStateUploading {
		return false, nil
	}
	m.UploadState = models.UploadStateFailed
	return true, s.repo.Update(ctx, m)
}
