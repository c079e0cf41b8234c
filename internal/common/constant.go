package common

// DefaultThumbnailEdge is the edge length, in pixels, of the square box the
// thumbnail produced at creation time must fit into.
const DefaultThumbnailEdge = 256

// SyncStateKeyPrefix prefixes metadata keys that hold the last successful
// sync time of a blog.
const SyncStateKeyPrefix = "sync.last."
