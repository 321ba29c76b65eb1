package bundle

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultAsyncQueueDepth is the default number of operations an Async
// accepts before Submit blocks.
const DefaultAsyncQueueDepth = 64

// AsyncOption configures NewAsync.
type AsyncOption func(*asyncConfig)

type asyncConfig struct {
	depth int64
}

// AsyncWithQueueDepth bounds the number of queued operations.
// Values < 1 use DefaultAsyncQueueDepth.
func AsyncWithQueueDepth(n int) AsyncOption {
	return func(c *asyncConfig) {
		c.depth = int64(n)
	}
}

// Future is the pending result of an operation submitted to an Async.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(val T, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Done returns a channel closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
//
// Giving up on a Future does not cancel the operation once it has started.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Async runs bundle operations on a single worker goroutine in submission
// order. It is safe for concurrent use.
//
// Each method queues one operation and returns immediately with a Future.
// Submission blocks while the queue is full. An operation whose context is
// done before it starts is skipped and its Future resolves to ctx.Err().
type Async struct {
	b     *Bundle
	sem   *semaphore.Weighted
	queue chan func()
	group errgroup.Group

	mu     sync.Mutex
	closed bool
}

// NewAsync starts a worker that owns b. After NewAsync, b must only be used
// through the returned Async.
func NewAsync(b *Bundle, opts ...AsyncOption) *Async {
	cfg := asyncConfig{depth: DefaultAsyncQueueDepth}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.depth < 1 {
		cfg.depth = DefaultAsyncQueueDepth
	}

	a := &Async{
		b:     b,
		sem:   semaphore.NewWeighted(cfg.depth),
		queue: make(chan func(), cfg.depth),
	}
	a.group.Go(func() error {
		for job := range a.queue {
			job()
		}
		return nil
	})
	return a
}

// submit queues fn and returns its Future.
func submit[T any](ctx context.Context, a *Async, fn func(*Bundle) (T, error)) *Future[T] {
	f := newFuture[T]()
	var zero T

	if err := a.sem.Acquire(ctx, 1); err != nil {
		f.resolve(zero, err)
		return f
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.sem.Release(1)
		f.resolve(zero, ErrClosed)
		return f
	}
	a.queue <- func() {
		defer a.sem.Release(1)
		if err := ctx.Err(); err != nil {
			f.resolve(zero, err)
			return
		}
		f.resolve(fn(a.b))
	}
	return f
}

// submitErr queues an operation with no result value.
func submitErr(ctx context.Context, a *Async, fn func(*Bundle) error) *Future[struct{}] {
	return submit(ctx, a, func(b *Bundle) (struct{}, error) {
		return struct{}{}, fn(b)
	})
}

// Close waits for every queued operation to finish, then closes the bundle.
// Operations submitted after Close resolve to ErrClosed.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	if err := a.group.Wait(); err != nil {
		return err
	}
	return a.b.Close()
}

// GetFiles queues Bundle.GetFiles.
func (a *Async) GetFiles(ctx context.Context) *Future[[]string] {
	return submit(ctx, a, func(b *Bundle) ([]string, error) {
		return b.GetFiles()
	})
}

// GetFileSize queues Bundle.GetFileSize.
func (a *Async) GetFileSize(ctx context.Context, path string) *Future[int64] {
	return submit(ctx, a, func(b *Bundle) (int64, error) {
		return b.GetFileSize(path)
	})
}

// GetBundleAttribute queues Bundle.GetBundleAttribute.
func (a *Async) GetBundleAttribute(ctx context.Context, slot Slot) *Future[[]byte] {
	return submit(ctx, a, func(b *Bundle) ([]byte, error) {
		return b.GetBundleAttribute(slot)
	})
}

// SetBundleAttribute queues Bundle.SetBundleAttribute.
func (a *Async) SetBundleAttribute(ctx context.Context, slot Slot, data []byte) *Future[struct{}] {
	return submitErr(ctx, a, func(b *Bundle) error {
		return b.SetBundleAttribute(slot, data)
	})
}

// CreateFile queues Bundle.CreateFile.
func (a *Async) CreateFile(ctx context.Context, path string) *Future[int] {
	return submit(ctx, a, func(b *Bundle) (int, error) {
		return b.CreateFile(path)
	})
}

// OpenFile queues Bundle.OpenFile.
func (a *Async) OpenFile(ctx context.Context, path string) *Future[int] {
	return submit(ctx, a, func(b *Bundle) (int, error) {
		return b.OpenFile(path)
	})
}

// OpenOrCreateFile queues Bundle.OpenOrCreateFile.
func (a *Async) OpenOrCreateFile(ctx context.Context, path string) *Future[int] {
	return submit(ctx, a, func(b *Bundle) (int, error) {
		return b.OpenOrCreateFile(path)
	})
}

// DeleteFile queues Bundle.DeleteFile.
func (a *Async) DeleteFile(ctx context.Context, path string) *Future[struct{}] {
	return submitErr(ctx, a, func(b *Bundle) error {
		return b.DeleteFile(path)
	})
}

// Seek queues Bundle.Seek.
func (a *Async) Seek(ctx context.Context, fd int, pos int64) *Future[struct{}] {
	return submitErr(ctx, a, func(b *Bundle) error {
		return b.Seek(fd, pos)
	})
}

// SeekFrom queues Bundle.SeekFrom.
func (a *Async) SeekFrom(ctx context.Context, fd int, offset int64, whence int) *Future[int64] {
	return submit(ctx, a, func(b *Bundle) (int64, error) {
		return b.SeekFrom(fd, offset, whence)
	})
}

// ReadBlock queues Bundle.ReadBlock.
func (a *Async) ReadBlock(ctx context.Context, fd, size int) *Future[[]byte] {
	return submit(ctx, a, func(b *Bundle) ([]byte, error) {
		return b.ReadBlock(fd, size)
	})
}

// WriteBlock queues Bundle.WriteBlock. p must not be modified until the
// Future resolves.
func (a *Async) WriteBlock(ctx context.Context, fd int, p []byte) *Future[int] {
	return submit(ctx, a, func(b *Bundle) (int, error) {
		return b.WriteBlock(fd, p)
	})
}

// Truncate queues Bundle.Truncate.
func (a *Async) Truncate(ctx context.Context, fd int, size int64) *Future[struct{}] {
	return submitErr(ctx, a, func(b *Bundle) error {
		return b.Truncate(fd, size)
	})
}

// GetFileProperties queues Bundle.GetFileProperties.
func (a *Async) GetFileProperties(ctx context.Context, fd int) *Future[[]byte] {
	return submit(ctx, a, func(b *Bundle) ([]byte, error) {
		return b.GetFileProperties(fd)
	})
}

// SetFileProperties queues Bundle.SetFileProperties.
func (a *Async) SetFileProperties(ctx context.Context, fd int, props []byte) *Future[struct{}] {
	return submitErr(ctx, a, func(b *Bundle) error {
		return b.SetFileProperties(fd, props)
	})
}

// CloseFile queues Bundle.CloseFile.
func (a *Async) CloseFile(ctx context.Context, fd int) *Future[struct{}] {
	return submitErr(ctx, a, func(b *Bundle) error {
		return b.CloseFile(fd)
	})
}

// Sync queues Bundle.Sync.
func (a *Async) Sync(ctx context.Context) *Future[struct{}] {
	return submitErr(ctx, a, func(b *Bundle) error {
		return b.Sync()
	})
}

// Purge queues Bundle.Purge.
func (a *Async) Purge(ctx context.Context) *Future[int] {
	return submit(ctx, a, func(b *Bundle) (int, error) {
		return b.Purge()
	})
}

// Stats queues Bundle.Stats.
func (a *Async) Stats(ctx context.Context) *Future[Stats] {
	return submit(ctx, a, func(b *Bundle) (Stats, error) {
		return b.Stats()
	})
}

// Do queues an arbitrary function with exclusive access to the bundle.
// fn must not retain b.
func (a *Async) Do(ctx context.Context, fn func(b *Bundle) error) *Future[struct{}] {
	return submitErr(ctx, a, fn)
}
