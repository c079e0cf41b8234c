// Package online tracks whether the remote media service is reachable.
//
// A Watcher probes a Pinger on a fixed interval and reports transitions
// between online and offline. The CLI uses the transition to online to
// resume pending uploads.
package online
