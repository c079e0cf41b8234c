package online

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type switchPinger struct {
	up atomic.Bool
}

func (p *switchPinger) Ping(context.Context) error {
	if p.up.Load() {
		return nil
	}
	return ErrUnavailable
}

func TestWatcher_ReportsTransitionsOnce(t *testing.T) {
	p := &switchPinger{}
	w := NewWatcher(p, time.Hour, nil)

	var modes []Mode
	w.OnChange = func(_ context.Context, m Mode) { modes = append(modes, m) }

	ctx := context.Background()
	assert.Equal(t, ModeOffline, w.Check(ctx))
	assert.Empty(t, modes)

	p.up.Store(true)
	assert.Equal(t, ModeOnline, w.Check(ctx))
	assert.Equal(t, ModeOnline, w.Check(ctx))

	p.up.Store(false)
	assert.Equal(t, ModeOffline, w.Check(ctx))
	assert.Equal(t, ModeOffline, w.Mode())

	assert.Equal(t, []Mode{ModeOnline, ModeOffline}, modes)
}

func TestWatcher_RunUntilCanceled(t *testing.T) {
	p := &switchPinger{}
	p.up.Store(true)
	w := NewWatcher(p, 5*time.Millisecond, nil)

	var (
		mu      sync.Mutex
		onlined int
	)
	w.OnChange = func(_ context.Context, m Mode) {
		mu.Lock()
		defer mu.Unlock()
		if m == ModeOnline {
			onlined++
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool { return w.Mode() == ModeOnline }, time.Second, time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, onlined)
}

func TestPingerFunc(t *testing.T) {
	boom := errors.New("boom")
	var p Pinger = PingerFunc(func(context.Context) error { return boom })
	require.ErrorIs(t, p.Ping(context.Background()), boom)
}
