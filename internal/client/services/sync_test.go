package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/common"
)

func remoteItems(ids ...string) []models.RemoteMedia {
	items := make([]models.RemoteMedia, 0, len(ids))
	for i, id := range ids {
		items = append(items, models.RemoteMedia{
			RemoteID: id,
			MIMEType: "image/jpeg",
			Filename: id + ".jpg",
			Size:     int64(1000 + i),
			Width:    640,
			Height:   480,
			Metadata: models.Metadata{Caption: "caption " + id},
		})
	}
	return items
}

func snapshot(t *testing.T, e *env, blogID string) map[string]*models.Media {
	t.Helper()
	list, err := e.media.List(context.Background(), blogID)
	require.NoError(t, err)
	out := make(map[string]*models.Media, len(list))
	for _, m := range list {
		out[m.LocalID] = m
	}
	return out
}

func TestSyncLibrary_IsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.seed("blog-1", remoteItems("a", "b", "c", "d", "e")...)

	report, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Pages: 3, Created: 5}, report)

	before := snapshot(t, e, "blog-1")
	require.Len(t, before, 5)
	for _, m := range before {
		assert.Equal(t, models.OriginRemote, m.Origin)
		assert.Equal(t, models.UploadStateUploaded, m.UploadState)
		assert.Empty(t, m.LocalPath)
	}

	report, err = e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Equal(t, 5, report.Unchanged)

	after := snapshot(t, e, "blog-1")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("second sync changed records (-before +after):\n%s", diff)
	}
	requireValidRecords(t, e)
}

func TestSyncLibrary_AppliesServerChanges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.seed("blog-1", remoteItems("a", "b")...)

	_, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)

	e.gw.mu.Lock()
	e.gw.items["blog-1"][0].Metadata.Caption = "new caption"
	e.gw.mu.Unlock()

	report, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Unchanged)

	m, err := e.media.Find(ctx, "blog-1", "a")
	require.NoError(t, err)
	assert.Equal(t, "new caption", m.Metadata.Caption)
}

func TestSyncLibrary_DeletesUnlistedButKeepsLocalRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.seed("blog-1", remoteItems("a", "b", "c")...)

	_, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)

	pending := e.createLocal(t, "blog-1")
	mine := e.uploaded(t, "blog-1")
	e.gw.remove("blog-1", "b")
	e.gw.remove("blog-1", mine.RemoteID)

	report, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	_, err = e.media.Find(ctx, "blog-1", "b")
	require.ErrorIs(t, err, common.ErrNotFound)

	assert.Equal(t, models.UploadStateLocal, e.get(t, pending.LocalID).UploadState)
	assert.Equal(t, mine.RemoteID, e.get(t, mine.LocalID).RemoteID)
	assert.Len(t, snapshot(t, e, "blog-1"), 4)
}

func TestSyncLibrary_KeepsLocalEdits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.seed("blog-1", remoteItems("a")...)

	_, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	m, err := e.media.Find(ctx, "blog-1", "a")
	require.NoError(t, err)

	edited, err := e.media.EditMetadata(ctx, m.LocalID, models.Metadata{Caption: "mine"})
	require.NoError(t, err)
	require.True(t, edited.Dirty)

	_, err = e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	assert.Equal(t, "mine", e.get(t, m.LocalID).Metadata.Caption)

	e.gw.remove("blog-1", "a")
	report, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	assert.Zero(t, report.Deleted)
	assert.True(t, e.get(t, m.LocalID).Dirty)
}

func TestSyncLibrary_MatchesUploadedRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m := e.uploaded(t, "blog-1")

	report, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Equal(t, 1, report.Unchanged)
	assert.Len(t, snapshot(t, e, "blog-1"), 1)
	assert.Equal(t, m.UpdatedAt, e.get(t, m.LocalID).UpdatedAt)
}

func TestSyncLibrary_PageFailureAbortsWithoutDeleting(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.seed("blog-1", remoteItems("old")...)
	_, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)

	e.gw.remove("blog-1", "old")
	e.gw.seed("blog-1", remoteItems("a", "b", "c")...)
	e.gw.listErrs = []error{nil, &common.RemoteError{Op: "list", Err: errors.New("bad token")}}

	report, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.ErrorIs(t, err, common.ErrRemoteAPI)
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 2, report.Created)

	_, err = e.media.Find(ctx, "blog-1", "old")
	require.NoError(t, err)
	_, err = e.media.Find(ctx, "blog-1", "c")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSyncLibrary_RetriesTransientFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.gw.seed("blog-1", remoteItems("a")...)
	e.gw.listErrs = []error{&common.RemoteError{Op: "list", Transient: true, Err: errors.New("503")}}

	report, err := e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, e.gw.lists)
}

func TestSyncLibrary_RecordsLastSync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	last, err := e.syncer.LastSync(ctx, "blog-1")
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	_, err = e.syncer.SyncLibrary(ctx, "blog-1")
	require.NoError(t, err)

	last, err = e.syncer.LastSync(ctx, "blog-1")
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	other, err := e.syncer.LastSync(ctx, "blog-2")
	require.NoError(t, err)
	assert.True(t, other.IsZero())

	status, err := e.syncer.SyncStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, last, status["blog-1"])
}
