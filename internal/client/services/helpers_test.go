package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediasync/internal/client/cache"
	"github.com/dmitrijs2005/mediasync/internal/client/client"
	"github.com/dmitrijs2005/mediasync/internal/client/gateway"
	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/common"
)

// fakeGateway is an in-memory remote library.
type fakeGateway struct {
	mu       sync.Mutex
	items    map[string][]models.RemoteMedia
	bodies   map[string][]byte
	posters  map[string][]byte
	pageSize int
	nextID   int

	createErr  error
	createGate chan struct{}
	started    chan string
	updateErrs map[string]error
	listErrs   []error

	creates int
	updates int
	lists   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		items:      map[string][]models.RemoteMedia{},
		bodies:     map[string][]byte{},
		posters:    map[string][]byte{},
		pageSize:   2,
		updateErrs: map[string]error{},
	}
}

func (g *fakeGateway) seed(blogID string, items ...models.RemoteMedia) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, it := range items {
		it.BlogID = blogID
		if it.URL == "" {
			it.URL = "https://cdn.example/" + it.RemoteID
		}
		g.items[blogID] = append(g.items[blogID], it)
	}
}

func (g *fakeGateway) remove(blogID, remoteID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := g.items[blogID]
	for i, it := range list {
		if it.RemoteID == remoteID {
			g.items[blogID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (g *fakeGateway) find(blogID, remoteID string) (models.RemoteMedia, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, it := range g.items[blogID] {
		if it.RemoteID == remoteID {
			return it, true
		}
	}
	return models.RemoteMedia{}, false
}

func notFound(op string) error {
	return &common.RemoteError{Op: op, Err: common.ErrNotFound}
}

func (g *fakeGateway) CreateMedia(ctx context.Context, req gateway.UploadRequest, progress gateway.ProgressFunc) (*models.RemoteMedia, error) {
	g.mu.Lock()
	g.creates++
	gate, started, createErr := g.createGate, g.started, g.createErr
	g.mu.Unlock()

	if started != nil {
		started <- req.Filename
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if createErr != nil {
		return nil, createErr
	}

	var body bytes.Buffer
	chunk := make([]byte, 4)
	for {
		n, err := req.Body.Read(chunk)
		body.Write(chunk[:n])
		if progress != nil && n > 0 {
			progress(int64(body.Len()), req.Size)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	rm := models.RemoteMedia{
		RemoteID:  "r" + strconv.Itoa(g.nextID),
		BlogID:    req.BlogID,
		PostID:    req.PostID,
		MediaType: req.MediaType,
		MIMEType:  req.MIMEType,
		Filename:  req.Filename,
		Size:      int64(body.Len()),
		Width:     req.Width,
		Height:    req.Height,
		Metadata:  req.Metadata,
		CreatedAt: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
	}
	rm.URL = "https://cdn.example/" + rm.RemoteID
	g.items[req.BlogID] = append(g.items[req.BlogID], rm)
	g.bodies[rm.RemoteID] = body.Bytes()
	return &rm, nil
}

func (g *fakeGateway) UpdateMedia(ctx context.Context, blogID, remoteID string, md models.Metadata) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates++
	if err := g.updateErrs[remoteID]; err != nil {
		return err
	}
	for i, it := range g.items[blogID] {
		if it.RemoteID == remoteID {
			g.items[blogID][i].Metadata = md
			return nil
		}
	}
	return notFound("update")
}

func (g *fakeGateway) ListMedia(ctx context.Context, blogID, pageToken string) (*models.RemotePage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lists++
	if len(g.listErrs) > 0 {
		err := g.listErrs[0]
		g.listErrs = g.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	start, _ := strconv.Atoi(pageToken)
	list := g.items[blogID]
	end := min(len(list), start+g.pageSize)
	page := &models.RemotePage{Items: append([]models.RemoteMedia(nil), list[start:end]...)}
	if end < len(list) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (g *fakeGateway) GetMedia(ctx context.Context, blogID, remoteID string) (*models.RemoteMedia, error) {
	if it, ok := g.find(blogID, remoteID); ok {
		return &it, nil
	}
	return nil, notFound("get")
}

func (g *fakeGateway) DeleteMedia(ctx context.Context, blogID, remoteID string) error {
	if _, ok := g.find(blogID, remoteID); !ok {
		return notFound("delete")
	}
	g.remove(blogID, remoteID)
	return nil
}

func (g *fakeGateway) ResolveVideo(ctx context.Context, blogID, videoID string) (*models.VideoReference, error) {
	it, ok := g.find(blogID, videoID)
	if !ok {
		return nil, notFound("resolve")
	}
	return &models.VideoReference{VideoURL: it.URL + "?signed", PosterURL: it.URL + "/poster?signed"}, nil
}

func (g *fakeGateway) PutPoster(ctx context.Context, blogID, remoteID string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.posters[remoteID] = data
	return nil
}

func (g *fakeGateway) poster(remoteID string) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.posters[remoteID]
}

func (g *fakeGateway) Download(ctx context.Context, blogID, remoteID string, w io.Writer) (int64, error) {
	g.mu.Lock()
	body, ok := g.bodies[remoteID]
	g.mu.Unlock()
	if !ok {
		return 0, notFound("download")
	}
	n, err := w.Write(body)
	return int64(n), err
}

type env struct {
	engine   *Engine
	repos    *client.Repositories
	cache    *cache.FileSystemStore
	gw       *fakeGateway
	factory  Factory
	uploader Uploader
	syncer   Syncer
	janitor  Janitor
	media    MediaService
}

func newEnv(t *testing.T, tweak ...func(*Options)) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	repos, err := client.InitDatabase(ctx, client.DriverSQLite, filepath.Join(dir, "media.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	store, err := cache.NewFileSystemStore(filepath.Join(dir, "cache"), 16)
	require.NoError(t, err)

	gw := newFakeGateway()
	opts := Options{
		Media:             repos.Media,
		Metadata:          repos.Metadata,
		DB:                repos.DB,
		Cache:             store,
		Gateway:           gw,
		ThumbnailSize:     models.Size{Width: 8, Height: 8},
		UploadConcurrency: 4,
		SyncRetries:       2,
		SyncBackoff:       time.Millisecond,
	}
	for _, fn := range tweak {
		fn(&opts)
	}

	e, err := NewEngine(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return &env{
		engine:   e,
		repos:    repos,
		cache:    store,
		gw:       gw,
		factory:  NewFactory(e),
		uploader: NewUploader(e),
		syncer:   NewSyncer(e),
		janitor:  NewJanitor(e),
		media:    NewMediaService(e),
	}
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 120, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	p := filepath.Join(t.TempDir(), fmt.Sprintf("photo_%dx%d.png", w, h))
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

// mp4Header is enough of an ISO BMFF ftyp box to be sniffed as video/mp4.
func mp4Header() []byte {
	return append([]byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isommp42"), make([]byte, 64)...)
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

// videoAsset is a video with a poster frame.
type videoAsset struct {
	bytesAsset
	poster []byte
}

func (a videoAsset) OpenPoster(ctx context.Context) (io.ReadCloser, error) {
	if a.poster == nil {
		return nil, errors.New("no poster")
	}
	return io.NopCloser(bytes.NewReader(a.poster)), nil
}

// createVideo creates a video record with a poster and waits for its
// thumbnail.
func (e *env) createVideo(t *testing.T, blogID string) *models.Media {
	t.Helper()
	asset := videoAsset{
		bytesAsset: bytesAsset{name: "clip.mp4", data: mp4Header()},
		poster:     encodePNG(t, 40, 20),
	}
	m, err := e.factory.CreateFromAsset(context.Background(), asset, blogID, "", nil)
	require.NoError(t, err)
	e.engine.Wait()
	return e.get(t, m.LocalID)
}

// renderFunc adapts a function to thumbnail.Renderer.
type renderFunc func(ctx context.Context, src io.Reader, mimeType string, size models.Size, dst io.Writer) error

func (f renderFunc) Render(ctx context.Context, src io.Reader, mimeType string, size models.Size, dst io.Writer) error {
	return f(ctx, src, mimeType, size, dst)
}

// createLocal creates a PNG-backed record and waits for its thumbnail.
func (e *env) createLocal(t *testing.T, blogID string) *models.Media {
	t.Helper()
	m, err := e.factory.CreateFromFile(context.Background(), writePNG(t, 32, 16), blogID, "", nil)
	require.NoError(t, err)
	e.engine.Wait()
	got, err := e.repos.Media.GetByID(context.Background(), m.LocalID)
	require.NoError(t, err)
	return got
}

func (e *env) uploaded(t *testing.T, blogID string) *models.Media {
	t.Helper()
	m := e.createLocal(t, blogID)
	task, err := e.uploader.Upload(context.Background(), m.LocalID)
	require.NoError(t, err)
	got, err := task.Wait(context.Background())
	require.NoError(t, err)
	return got
}

func (e *env) get(t *testing.T, localID string) *models.Media {
	t.Helper()
	m, err := e.repos.Media.GetByID(context.Background(), localID)
	require.NoError(t, err)
	return m
}

func (e *env) keys(t *testing.T) []string {
	t.Helper()
	keys, err := e.cache.Keys(context.Background())
	require.NoError(t, err)
	sort.Strings(keys)
	return keys
}

func requireValidRecords(t *testing.T, e *env) {
	t.Helper()
	all, err := e.repos.Media.ListAll(context.Background())
	require.NoError(t, err)
	for _, m := range all {
		require.NoError(t, m.Validate(), m.LocalID)
		require.Equal(t, m.UploadState == models.UploadStateUploaded, m.RemoteID != "", m.LocalID)
	}
}
