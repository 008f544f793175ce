package starlark

import (
	"log/slog"
	"sync"

	"go.starlark.net/starlark"
)

const defaultPoolSize = 4

// ThreadPool recycles Starlark threads between boundary calls. Threads that
// were cancelled or hit the step limit are never returned to the pool, since
// a cancelled thread stays cancelled.
type ThreadPool struct {
	mu      sync.Mutex
	threads []*starlark.Thread
	maxSize int
	logger  *slog.Logger
}

// NewThreadPool creates a pool holding at most maxSize idle threads.
func NewThreadPool(maxSize int, logger *slog.Logger) *ThreadPool {
	if maxSize <= 0 {
		maxSize = defaultPoolSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ThreadPool{
		threads: make([]*starlark.Thread, 0, maxSize),
		maxSize: maxSize,
		logger:  logger,
	}
}

// Get retrieves an idle thread or creates one. name shows up in Starlark
// backtraces.
func (p *ThreadPool) Get(name string) *starlark.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.threads); n > 0 {
		thread := p.threads[n-1]
		p.threads = p.threads[:n-1]
		thread.Name = name
		return thread
	}

	logger := p.logger
	return &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			logger.Debug("starlark print", "thread", thread.Name, "msg", msg)
		},
	}
}

// Put returns a healthy thread to the pool. If the pool is full the thread
// is discarded.
func (p *ThreadPool) Put(thread *starlark.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) < p.maxSize {
		thread.Name = ""
		p.threads = append(p.threads, thread)
	}
}

// Size returns the number of idle threads.
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}
