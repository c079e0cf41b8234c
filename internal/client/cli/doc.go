// Package cli provides the interactive mediasync command-line client.
//
// It wires configuration, the local media store, the S3 gateway and the
// media engine, then runs a REPL. A background watcher probes the media
// service and resumes pending uploads when it comes back online; another
// goroutine cleans cache orphans periodically.
//
// Commands:
//   - add, upload, pending: create records from files and upload them
//   - edit, push: change metadata locally and push it to the server
//   - sync, list, count, video, thumb: browse the library
//   - clean, reclaim: tidy the cache
//   - delete
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
