// Package models defines the client-side media records persisted locally and
// reconciled with the remote media library.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/common"
)

// MediaType classifies a media asset.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
	MediaTypeOther    MediaType = "other"
)

// MediaTypeFromMIME maps a MIME type such as "image/png" to a MediaType.
func MediaTypeFromMIME(mime string) MediaType {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaTypeImage
	case strings.HasPrefix(mime, "video/"):
		return MediaTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return MediaTypeAudio
	case strings.HasPrefix(mime, "text/"),
		strings.HasPrefix(mime, "application/pdf"),
		strings.Contains(mime, "document"),
		strings.Contains(mime, "msword"),
		strings.Contains(mime, "spreadsheet"),
		strings.Contains(mime, "presentation"):
		return MediaTypeDocument
	default:
		return MediaTypeOther
	}
}

// UploadState is the per-record upload state machine.
//
//	local ──► uploading ──► uploaded
//	  ▲           │
//	  └─ failed ◄─┘
type UploadState string

const (
	UploadStateLocal     UploadState = "local"
	UploadStateUploading UploadState = "uploading"
	UploadStateUploaded  UploadState = "uploaded"
	UploadStateFailed    UploadState = "failed"
)

// Retryable reports whether a record in this state may start an upload.
func (s UploadState) Retryable() bool {
	return s == UploadStateLocal || s == UploadStateFailed
}

// Origin records who authored a media record.
type Origin string

const (
	// OriginLocal records were created on this device by the factory.
	OriginLocal Origin = "local"
	// OriginRemote records were created by a library sync.
	OriginRemote Origin = "remote"
)

// Metadata holds the descriptive fields that can change after upload.
type Metadata struct {
	Caption     string `json:"caption"`
	Alt         string `json:"alt"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Media is the local record of one media asset.
type Media struct {
	// LocalID identifies the record on this device for its whole lifetime.
	LocalID string
	// RemoteID is assigned by the server; empty until the first upload.
	RemoteID string

	BlogID string
	// PostID is the optional post the media is attached to.
	PostID string

	// LocalPath is the cached original; empty once evicted.
	LocalPath string
	// ThumbnailPath is set once the thumbnail has been rendered.
	ThumbnailPath string
	RemoteURL     string

	MediaType MediaType
	MIMEType  string
	Filename  string
	Size      int64
	Width     int
	Height    int

	UploadState UploadState
	Origin      Origin
	// Dirty marks metadata edited locally and not yet pushed to the server.
	Dirty bool

	Metadata Metadata

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the record invariants that do not depend on other records.
func (m *Media) Validate() error {
	if m.LocalID == "" {
		return fmt.Errorf("%w: empty local id", common.ErrInvalidState)
	}
	if m.BlogID == "" {
		return fmt.Errorf("%w: media %s has no blog", common.ErrInvalidState, m.LocalID)
	}
	uploaded := m.UploadState == UploadStateUploaded
	if uploaded != (m.RemoteID != "") {
		return fmt.Errorf("%w: media %s is %s with remote id %q",
			common.ErrInvalidState, m.LocalID, m.UploadState, m.RemoteID)
	}
	return nil
}

// Clone returns a copy safe to mutate independently.
func (m *Media) Clone() *Media {
	c := *m
	return &c
}

// Size is a pixel box.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Valid reports whether both edges are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}
