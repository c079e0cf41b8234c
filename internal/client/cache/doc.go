// Package cache stores media originals and thumbnails on disk.
//
// Keys are slash separated and map deterministically onto files under a
// single root directory, so the set of keys a media record should own can be
// recomputed from the record alone:
//
//	originals/<ab>/<mediaID><ext>
//	thumbnails/<ab>/<mediaID>_<w>x<h>.jpg
//
// where <ab> is the first two characters of the media ID. Writes go through a
// temp directory under the root and are renamed into place.
package cache
