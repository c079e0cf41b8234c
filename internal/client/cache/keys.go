package cache

import (
	"path"
	"strings"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
)

const (
	originalsDir  = "originals"
	thumbnailsDir = "thumbnails"
	tempDir       = ".tmp"
)

func shard(mediaID string) string {
	s := strings.ToLower(mediaID)
	if len(s) < 2 {
		return "__"
	}
	return s[:2]
}

// OriginalKey returns the key of the cached original of a media item.
// ext includes the leading dot and may be empty.
func OriginalKey(mediaID, ext string) string {
	return path.Join(originalsDir, shard(mediaID), mediaID+strings.ToLower(ext))
}

// ThumbnailKey returns the key of the thumbnail rendered for size.
func ThumbnailKey(mediaID string, size models.Size) string {
	return path.Join(thumbnailsDir, shard(mediaID), mediaID+"_"+size.String()+".jpg")
}

// IsThumbnailKey reports whether key lives in the thumbnail namespace.
func IsThumbnailKey(key string) bool {
	return strings.HasPrefix(key, thumbnailsDir+"/")
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	first, _, _ := strings.Cut(key, "/")
	return first != ".." && first != tempDir && first != "."
}
