package services

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/mediasync/internal/common"
)

const barrierWeight = 1 << 30

// Barrier keeps cache scans apart from operations that write cache entries
// not yet linked to a record. Writers share it; a scan holds it exclusively.
// Waiters are served in FIFO order, so a pending scan is not starved.
type Barrier struct {
	sem *semaphore.Weighted
}

func NewBarrier() *Barrier {
	return &Barrier{sem: semaphore.NewWeighted(barrierWeight)}
}

// Shared enters the barrier alongside other writers.
func (b *Barrier) Shared(ctx context.Context) (func(), error) {
	return b.acquire(ctx, 1)
}

// Exclusive waits for every writer to leave and keeps new ones out.
func (b *Barrier) Exclusive(ctx context.Context) (func(), error) {
	return b.acquire(ctx, barrierWeight)
}

func (b *Barrier) acquire(ctx context.Context, n int64) (func(), error) {
	if err := b.sem.Acquire(ctx, n); err != nil {
		return nil, fmt.Errorf("%w: waiting for cache barrier: %w", common.ErrCanceled, err)
	}
	return func() { b.sem.Release(n) }, nil
}
