package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/mediasync/internal/client/cache"
	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/client/thumbnail"
	"github.com/dmitrijs2005/mediasync/internal/common"
)

// ThumbnailFunc receives the record once its thumbnail is linked; the
// thumbnail path is m.ThumbnailPath.
type ThumbnailFunc func(m *models.Media)

// Asset is a platform asset handle (photo library entry, share sheet item).
type Asset interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// PosterAsset is an Asset that can also supply a still frame. Video assets
// implementing it get a thumbnail, which is uploaded as the video poster.
type PosterAsset interface {
	Asset
	OpenPoster(ctx context.Context) (io.ReadCloser, error)
}

// stillSource opens the image a thumbnail is rendered from, with its MIME
// type.
type stillSource func(ctx context.Context) (io.ReadCloser, string, error)

// Factory creates local media records from sources. It returns once the
// record and its original are durable; thumbnails are rendered in the
// background and reported through onThumbnail at most once.
type Factory interface {
	CreateFromFile(ctx context.Context, path, blogID, postID string, onThumbnail ThumbnailFunc) (*models.Media, error)
	CreateFromAsset(ctx context.Context, asset Asset, blogID, postID string, onThumbnail ThumbnailFunc) (*models.Media, error)
	CreateFromImage(ctx context.Context, img image.Image, mediaID, blogID, postID string, onThumbnail ThumbnailFunc) (*models.Media, error)
}

type factory struct {
	*Engine
}

func NewFactory(e *Engine) Factory {
	return &factory{Engine: e}
}

// sniffLen matches what mimetype inspects.
const sniffLen = 3072

var mediaIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var newLocalID = uuid.NewString

func (f *factory) CreateFromFile(ctx context.Context, path, blogID, postID string, onThumbnail ThumbnailFunc) (*models.Media, error) {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s does not exist", common.ErrInvalidSource, path)
	case err != nil:
		return nil, fmt.Errorf("%w: stat %s: %w", common.ErrInvalidSource, path, err)
	case fi.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", common.ErrInvalidSource, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", common.ErrInvalidSource, path, err)
	}
	defer file.Close()

	return f.create(ctx, file, filepath.Base(path), "", blogID, postID, nil, onThumbnail)
}

func (f *factory) CreateFromAsset(ctx context.Context, asset Asset, blogID, postID string, onThumbnail ThumbnailFunc) (*models.Media, error) {
	if asset == nil {
		return nil, fmt.Errorf("%w: nil asset", common.ErrInvalidSource)
	}

	rc, err := asset.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: open asset %s: %w", common.ErrInvalidSource, asset.Name(), err)
	}
	defer rc.Close()

	var poster func(context.Context) (io.ReadCloser, error)
	if pa, ok := asset.(PosterAsset); ok {
		poster = pa.OpenPoster
	}
	return f.create(ctx, rc, asset.Name(), "", blogID, postID, poster, onThumbnail)
}

// CreateFromImage stores img as JPEG. A non-empty mediaID becomes the
// record's local ID and must not be in use.
func (f *factory) CreateFromImage(ctx context.Context, img image.Image, mediaID, blogID, postID string, onThumbnail ThumbnailFunc) (*models.Media, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", common.ErrInvalidSource)
	}
	if mediaID != "" && !mediaIDPattern.MatchString(mediaID) {
		return nil, fmt.Errorf("%w: malformed media id %q", common.ErrInvalidSource, mediaID)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("%w: encode image: %w", common.ErrInvalidSource, err)
	}

	id := mediaID
	if id == "" {
		id = newLocalID()
	}
	return f.create(ctx, &buf, id+".jpg", mediaID, blogID, postID, nil, onThumbnail)
}

func (f *factory) create(ctx context.Context, src io.Reader, name, explicitID, blogID, postID string,
	poster func(context.Context) (io.ReadCloser, error), onThumbnail ThumbnailFunc) (m *models.Media, err error) {
	start := time.Now()
	defer func() { f.observe("create", start, err) }()

	if blogID == "" {
		return nil, fmt.Errorf("%w: empty blog id", common.ErrInvalidSource)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrInvalidSource, name, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s is empty", common.ErrInvalidSource, name)
	}
	head = head[:n]
	mt := mimetype.Detect(head)

	id := explicitID
	if id == "" {
		id = newLocalID()
	}

	release, err := f.barrier.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	unlock := f.locks.Lock(id)
	defer unlock()

	if explicitID != "" {
		_, err := f.repo.GetByID(ctx, id)
		if err == nil {
			return nil, fmt.Errorf("%w: media id %s already in use", common.ErrInvalidState, id)
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", common.ErrIO, err)
		}
	}

	key := cache.OriginalKey(id, extension(name, mt))
	path, err := f.cache.Put(ctx, key, io.MultiReader(bytes.NewReader(head), src))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m = &models.Media{
		LocalID:     id,
		BlogID:      blogID,
		PostID:      postID,
		LocalPath:   path,
		MediaType:   models.MediaTypeFromMIME(mt.String()),
		MIMEType:    baseMIME(mt.String()),
		Filename:    name,
		UploadState: models.UploadStateLocal,
		Origin:      models.OriginLocal,
		CreatedAt:   now,
	}
	if fi, err := os.Stat(path); err == nil {
		m.Size = fi.Size()
	}
	if m.MediaType == models.MediaTypeImage {
		if size, err := f.imageSize(ctx, key, m.MIMEType); err == nil {
			m.Width, m.Height = size.Width, size.Height
		}
	}

	if err := f.repo.Create(ctx, m); err != nil {
		if derr := f.cache.Delete(context.WithoutCancel(ctx), key); derr != nil {
			f.log.Warn(ctx, "failed to remove original after create failure", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("%w: persist media %s: %w", common.ErrIO, id, err)
	}

	f.log.Info(ctx, "media created", "local_id", id, "blog_id", blogID, "mime", m.MIMEType, "size", m.Size)

	f.scheduleThumbnail(m.Clone(), poster, onThumbnail)
	return m.Clone(), nil
}

func (f *factory) imageSize(ctx context.Context, key, mime string) (models.Size, error) {
	r, err := f.cache.Open(ctx, key)
	if err != nil {
		return models.Size{}, err
	}
	defer r.Close()
	return thumbnail.DecodeConfig(r, mime)
}

func (f *factory) scheduleThumbnail(m *models.Media, poster func(context.Context) (io.ReadCloser, error), onThumbnail ThumbnailFunc) {
	var open stillSource
	switch {
	case m.MediaType == models.MediaTypeVideo && poster != nil:
		open = posterSource(poster)
	case thumbnail.Supports(m.MIMEType):
		open = f.originalSource(m)
	default:
		f.log.Debug(f.ctx, "no thumbnail for media type", "local_id", m.LocalID, "mime", m.MIMEType)
		return
	}

	f.goBackground(func(ctx context.Context) {
		updated, err := f.renderThumbnail(ctx, m, open)
		if err != nil {
			f.log.Warn(ctx, "thumbnail generation failed", "local_id", m.LocalID, "error", err)
			return
		}
		if onThumbnail != nil {
			f.exec.Execute(func() { onThumbnail(updated) })
		}
	})
}

func (f *factory) originalSource(m *models.Media) stillSource {
	return func(ctx context.Context) (io.ReadCloser, string, error) {
		key, ok := f.cacheKey(m.LocalPath)
		if !ok {
			return nil, "", fmt.Errorf("original %q is outside the cache", m.LocalPath)
		}
		rc, err := f.cache.Open(ctx, key)
		if err != nil {
			return nil, "", err
		}
		return rc, m.MIMEType, nil
	}
}

// posterSource reads the poster and sniffs its type.
func posterSource(open func(context.Context) (io.ReadCloser, error)) stillSource {
	return func(ctx context.Context) (io.ReadCloser, string, error) {
		rc, err := open(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("open poster: %w", err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, "", fmt.Errorf("read poster: %w", err)
		}
		return io.NopCloser(bytes.NewReader(data)), baseMIME(mimetype.Detect(data).String()), nil
	}
}

// renderThumbnail renders the default-size thumbnail and links it to the
// record. The record may have been deleted in the meantime; the thumbnail is
// then dropped.
func (f *factory) renderThumbnail(ctx context.Context, m *models.Media, open stillSource) (*models.Media, error) {
	release, err := f.barrier.Shared(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	src, mime, err := open(ctx)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var buf bytes.Buffer
	if err := f.renderer.Render(ctx, src, mime, f.thumbSize, &buf); err != nil {
		return nil, err
	}

	key := cache.ThumbnailKey(m.LocalID, f.thumbSize)
	path, err := f.cache.Put(ctx, key, &buf)
	if err != nil {
		return nil, err
	}

	unlock := f.locks.Lock(m.LocalID)
	defer unlock()

	cur, err := f.repo.GetByID(ctx, m.LocalID)
	if err != nil {
		_ = f.cache.Delete(ctx, key)
		return nil, fmt.Errorf("reload media: %w", err)
	}
	cur.ThumbnailPath = path
	if err := f.repo.Update(ctx, cur); err != nil {
		_ = f.cache.Delete(ctx, key)
		return nil, fmt.Errorf("link thumbnail: %w", err)
	}
	return cur, nil
}

func extension(name string, mt *mimetype.MIME) string {
	if ext := filepath.Ext(name); ext != "" && len(ext) <= 8 && !strings.ContainsAny(ext, `/\ `) {
		return strings.ToLower(ext)
	}
	return mt.Extension()
}

func baseMIME(s string) string {
	base, _, _ := strings.Cut(s, ";")
	return strings.TrimSpace(base)
}
