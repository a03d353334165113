package pipeline

import (
	"context"
	"sync"
)

// Latch is a one-shot signal. Once released it stays released.
type Latch struct {
	once sync.Once
	ch   chan struct{}
	init sync.Once
}

func (l *Latch) channel() chan struct{} {
	l.init.Do(func() { l.ch = make(chan struct{}) })
	return l.ch
}

// Release opens the latch. Subsequent calls are no-ops.
func (l *Latch) Release() {
	ch := l.channel()
	l.once.Do(func() { close(ch) })
}

// Done returns a channel that is closed once the latch is released.
func (l *Latch) Done() <-chan struct{} {
	return l.channel()
}

// IsReleased reports whether Release has been called.
func (l *Latch) IsReleased() bool {
	select {
	case <-l.channel():
		return true
	default:
		return false
	}
}

// Wait blocks until the latch is released or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.channel():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
