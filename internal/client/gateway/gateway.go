// Package gateway defines the remote media library the engine talks to and
// an S3-backed implementation of it.
package gateway

import (
	"context"
	"io"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
)

// ProgressFunc receives upload progress in bytes.
type ProgressFunc func(sent, total int64)

// UploadRequest describes one file to publish.
type UploadRequest struct {
	BlogID    string
	PostID    string
	Filename  string
	MIMEType  string
	MediaType models.MediaType
	Width     int
	Height    int
	Metadata  models.Metadata

	Body io.Reader
	Size int64
}

// Gateway is the remote media library.
//
// All methods fail with an error matching common.ErrRemoteAPI (and
// common.ErrNetwork for transport failures); missing items additionally
// match common.ErrNotFound.
type Gateway interface {
	CreateMedia(ctx context.Context, req UploadRequest, progress ProgressFunc) (*models.RemoteMedia, error)
	UpdateMedia(ctx context.Context, blogID, remoteID string, md models.Metadata) error
	ListMedia(ctx context.Context, blogID, pageToken string) (*models.RemotePage, error)
	GetMedia(ctx context.Context, blogID, remoteID string) (*models.RemoteMedia, error)
	DeleteMedia(ctx context.Context, blogID, remoteID string) error
	ResolveVideo(ctx context.Context, blogID, videoID string) (*models.VideoReference, error)
	Download(ctx context.Context, blogID, remoteID string, w io.Writer) (int64, error)
}
