package online

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Watcher polls a Pinger and remembers the last observed mode.
type Watcher struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger

	online atomic.Bool
	// OnChange is called after every transition, on the watcher goroutine.
	OnChange func(ctx context.Context, mode Mode)
}

func NewWatcher(p Pinger, interval time.Duration, log logging.Logger) *Watcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Watcher{pinger: p, interval: interval, timeout: 3 * time.Second, log: log}
}

func (w *Watcher) Mode() Mode {
	if w.online.Load() {
		return ModeOnline
	}
	return ModeOffline
}

// Check probes once and applies the result.
func (w *Watcher) Check(ctx context.Context) Mode {
	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.pinger.Ping(pctx)
	cancel()

	mode := ModeOnline
	if err != nil {
		mode = ModeOffline
		w.log.Debug(ctx, "ping failed", "error", err)
	}
	w.setMode(ctx, mode)
	return mode
}

func (w *Watcher) setMode(ctx context.Context, mode Mode) {
	if !w.online.CompareAndSwap(mode != ModeOnline, mode == ModeOnline) {
		return
	}
	w.log.Info(ctx, "switched mode", "mode", mode)
	if w.OnChange != nil {
		w.OnChange(ctx, mode)
	}
}

// Run checks immediately and then every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.Check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
