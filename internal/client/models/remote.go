package models

import "time"

// RemoteMedia is one item of the server-side media library.
type RemoteMedia struct {
	RemoteID  string
	BlogID    string
	PostID    string
	URL       string
	MediaType MediaType
	MIMEType  string
	Filename  string
	Size      int64
	Width     int
	Height    int
	Metadata  Metadata
	CreatedAt time.Time
}

// RemotePage is one page of a library listing. An empty NextPageToken marks
// the last page.
type RemotePage struct {
	Items         []RemoteMedia
	NextPageToken string
}

// VideoReference locates a playable video stream and its poster image.
type VideoReference struct {
	VideoURL  string
	PosterURL string
}
