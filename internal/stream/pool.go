package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrBusy is returned when no read slot frees up before the context ends.
var ErrBusy = errors.New("stream: all read slots busy")

// Pool bounds how many files are read at once across all requests, so a burst
// of large downloads cannot monopolise the disk or the process's file handles.
//
// Usage: acquire before opening a file, release once the response is written.
//
//	release, err := pool.Acquire(ctx)
//	if err != nil { ... }
//	defer release()
type Pool struct {
	slots chan struct{}
}

// NewPool returns a pool with size slots (minimum 1).
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is idempotent.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.slots <- struct{}{}:
		return p.releaser(), nil
	default:
	}
	select {
	case p.slots <- struct{}{}:
		return p.releaser(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
	}
}

func (p *Pool) releaser() func() {
	return sync.OnceFunc(func() { <-p.slots })
}

// Size returns the number of slots.
func (p *Pool) Size() int { return cap(p.slots) }

// InUse returns the number of slots currently held.
func (p *Pool) InUse() int { return len(p.slots) }
