package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/client/repositories/media"
	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/dbx"
)

// SyncReport counts what one library sync changed.
type SyncReport struct {
	Pages     int
	Created   int
	Updated   int
	Unchanged int
	Deleted   int
}

func (r SyncReport) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// Syncer reconciles local records with the remote library of a blog.
type Syncer interface {
	// SyncLibrary pages through the remote library. Each page is committed
	// on its own; a failing page aborts the sync and leaves earlier pages
	// applied. Records created by a previous sync, never edited locally and
	// no longer listed are deleted once every page succeeded. Locally
	// authored records are never deleted.
	SyncLibrary(ctx context.Context, blogID string) (SyncReport, error)
	// LastSync returns when SyncLibrary last completed for the blog, or
	// the zero time.
	LastSync(ctx context.Context, blogID string) (time.Time, error)
	// SyncStatus returns the last sync time of every blog synced so far.
	SyncStatus(ctx context.Context) (map[string]time.Time, error)
}

type syncer struct {
	*Engine
}

func NewSyncer(e *Engine) Syncer {
	return &syncer{Engine: e}
}

func (s *syncer) SyncLibrary(ctx context.Context, blogID string) (report SyncReport, err error) {
	start := time.Now()
	defer func() { s.observe("sync", start, err) }()

	if err := s.requireGateway(); err != nil {
		return report, err
	}

	seen := make(map[string]bool)
	token := ""
	for {
		page, err := s.fetchPage(ctx, blogID, token)
		if err != nil {
			s.log.Warn(ctx, "sync aborted", "blog_id", blogID, "page", report.Pages+1, "error", err)
			return report, fmt.Errorf("list remote media of %s: %w", blogID, err)
		}

		for _, it := range page.Items {
			seen[it.RemoteID] = true
		}
		if err := s.applyPage(ctx, blogID, page.Items, &report); err != nil {
			return report, fmt.Errorf("apply page %d of %s: %w", report.Pages+1, blogID, err)
		}
		report.Pages++

		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	deleted, err := s.deleteUnlisted(ctx, blogID, seen)
	report.Deleted = deleted
	if err != nil {
		return report, err
	}

	if s.meta != nil {
		stamp := time.Now().UTC().Format(time.RFC3339Nano)
		if err := s.meta.Set(ctx, common.SyncStateKeyPrefix+blogID, []byte(stamp)); err != nil {
			s.log.Warn(ctx, "failed to store sync time", "blog_id", blogID, "error", err)
		}
	}

	s.log.Info(ctx, "sync finished", "blog_id", blogID, "pages", report.Pages,
		"created", report.Created, "updated", report.Updated, "deleted", report.Deleted)
	return report, nil
}

func (s *syncer) LastSync(ctx context.Context, blogID string) (time.Time, error) {
	if s.meta == nil {
		return time.Time{}, nil
	}
	raw, err := s.meta.Get(ctx, common.SyncStateKeyPrefix+blogID)
	if err != nil || raw == nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(raw))
}

func (s *syncer) SyncStatus(ctx context.Context) (map[string]time.Time, error) {
	status := make(map[string]time.Time)
	if s.meta == nil {
		return status, nil
	}
	all, err := s.meta.List(ctx)
	if err != nil {
		return nil, err
	}
	for key, raw := range all {
		blogID, ok := strings.CutPrefix(key, common.SyncStateKeyPrefix)
		if !ok {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			s.log.Warn(ctx, "skipping malformed sync time", "key", key, "error", err)
			continue
		}
		status[blogID] = at
	}
	return status, nil
}

// fetchPage retries transient listing failures with exponential backoff.
func (s *syncer) fetchPage(ctx context.Context, blogID, token string) (*models.RemotePage, error) {
	var page *models.RemotePage
	backoff := retry.WithMaxRetries(s.syncRetries, retry.NewExponential(s.syncBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		page, err = s.gateway.ListMedia(ctx, blogID, token)
		if err != nil && common.IsTransient(err) {
			s.log.Debug(ctx, "retrying media listing", "blog_id", blogID, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	return page, err
}

func (s *syncer) applyPage(ctx context.Context, blogID string, items []models.RemoteMedia, report *SyncReport) error {
	// lock the records this page touches before opening the transaction;
	// lock holders may be waiting for a connection
	var ids []string
	for _, it := range items {
		m, err := s.repo.GetByRemoteID(ctx, blogID, it.RemoteID)
		switch {
		case err == nil:
			ids = append(ids, m.LocalID)
		case !errors.Is(err, common.ErrNotFound):
			return err
		}
	}
	locked := make(map[string]bool, len(ids))
	for _, id := range ids {
		locked[id] = true
	}
	unlock := s.locks.LockAll(ids)
	defer unlock()

	var pageReport SyncReport
	apply := func(ctx context.Context, repo media.Repository) error {
		pageReport = SyncReport{}
		for _, it := range items {
			cur, err := repo.GetByRemoteID(ctx, blogID, it.RemoteID)
			if errors.Is(err, common.ErrNotFound) {
				if err := repo.Create(ctx, newRemoteRecord(blogID, it)); err != nil {
					return err
				}
				pageReport.Created++
				continue
			}
			if err != nil {
				return err
			}
			if !locked[cur.LocalID] {
				// linked after the page was locked; next sync picks it up
				pageReport.Unchanged++
				continue
			}
			if !mergeRemote(cur, it) {
				pageReport.Unchanged++
				continue
			}
			if err := repo.Update(ctx, cur); err != nil {
				return err
			}
			pageReport.Updated++
		}
		return nil
	}

	var err error
	if s.db != nil {
		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return apply(ctx, s.repo.WithDB(tx))
		})
	} else {
		err = apply(ctx, s.repo)
	}
	if err != nil {
		return err
	}

	report.Created += pageReport.Created
	report.Updated += pageReport.Updated
	report.Unchanged += pageReport.Unchanged
	return nil
}

func (s *syncer) deleteUnlisted(ctx context.Context, blogID string, seen map[string]bool) (int, error) {
	records, err := s.repo.ListByBlog(ctx, blogID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, m := range records {
		if !removable(m, seen) {
			continue
		}
		ok, err := s.deleteIfUnlisted(ctx, m.LocalID, seen)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (s *syncer) deleteIfUnlisted(ctx context.Context, localID string, seen map[string]bool) (bool, error) {
	unlock := s.locks.Lock(localID)
	defer unlock()

	cur, err := s.repo.GetByID(ctx, localID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !removable(cur, seen) {
		return false, nil
	}

	if err := s.repo.Delete(ctx, localID); err != nil {
		return false, err
	}
	for _, p := range []string{cur.LocalPath, cur.ThumbnailPath} {
		if key, ok := s.cacheKey(p); ok {
			if err := s.cache.Delete(ctx, key); err != nil {
				s.log.Warn(ctx, "failed to remove cached file", "key", key, "error", err)
			}
		}
	}
	s.log.Debug(ctx, "removed media no longer listed", "local_id", localID, "remote_id", cur.RemoteID)
	return true, nil
}

// removable reports whether a sync may delete m: it came from a sync, was
// never edited here, and the server no longer lists it.
func removable(m *models.Media, seen map[string]bool) bool {
	return m.Origin == models.OriginRemote &&
		!m.Dirty &&
		m.RemoteID != "" &&
		!seen[m.RemoteID]
}

func newRemoteRecord(blogID string, rm models.RemoteMedia) *models.Media {
	created := rm.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	mt := rm.MediaType
	if mt == "" {
		mt = models.MediaTypeFromMIME(rm.MIMEType)
	}
	return &models.Media{
		LocalID:     newLocalID(),
		RemoteID:    rm.RemoteID,
		BlogID:      blogID,
		PostID:      rm.PostID,
		RemoteURL:   rm.URL,
		MediaType:   mt,
		MIMEType:    rm.MIMEType,
		Filename:    rm.Filename,
		Size:        rm.Size,
		Width:       rm.Width,
		Height:      rm.Height,
		UploadState: models.UploadStateUploaded,
		Origin:      models.OriginRemote,
		Metadata:    rm.Metadata,
		CreatedAt:   created,
	}
}

// mergeRemote copies server-owned fields into m and reports whether any
// changed. Metadata edited locally (dirty) wins over the server's.
func mergeRemote(m *models.Media, rm models.RemoteMedia) bool {
	before := *m

	m.RemoteURL = rm.URL
	if rm.PostID != "" {
		m.PostID = rm.PostID
	}
	if rm.MIMEType != "" {
		m.MIMEType = rm.MIMEType
	}
	if rm.MediaType != "" {
		m.MediaType = rm.MediaType
	}
	if rm.Filename != "" {
		m.Filename = rm.Filename
	}
	if rm.Size > 0 {
		m.Size = rm.Size
	}
	if rm.Width > 0 && rm.Height > 0 {
		m.Width, m.Height = rm.Width, rm.Height
	}
	if !m.Dirty {
		m.Metadata = rm.Metadata
	}

	return before.RemoteURL != m.RemoteURL ||
		before.PostID != m.PostID ||
		before.MIMEType != m.MIMEType ||
		before.MediaType != m.MediaType ||
		before.Filename != m.Filename ||
		before.Size != m.Size ||
		before.Width != m.Width ||
		before.Height != m.Height ||
		before.Metadata != m.Metadata
}
