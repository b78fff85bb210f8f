// Package serial runs jobs one at a time per key. The room and quiz layers
// key by room id so every mutation of a room happens on a single worker,
// while different rooms proceed in parallel.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrClosed = errors.New("executor closed")

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

type worker struct {
	jobs     chan job
	pending  int
	lastUsed time.Time
	retired  bool
}

type Executor struct {
	mu      sync.Mutex
	workers map[string]*worker
	queue   int
	closed  bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// New returns an executor whose workers accept up to queue waiting jobs
// before Do blocks.
func New(queue int) *Executor {
	if queue < 1 {
		queue = 1
	}
	return &Executor{
		workers: make(map[string]*worker),
		queue:   queue,
		now:     time.Now,
	}
}

// Do runs fn on the worker for key and returns its error. A job must not call
// Do with its own key; it would wait on itself.
func (e *Executor) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	w, err := e.acquire(key)
	if err != nil {
		return err
	}
	defer e.release(key, w)

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	// once queued the job runs to completion, so its effects are never half
	// applied even if the caller gives up
	return <-j.done
}

func (e *Executor) acquire(key string) (*worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	w, ok := e.workers[key]
	if !ok {
		w = &worker{jobs: make(chan job, e.queue)}
		e.workers[key] = w
		e.wg.Add(1)
		go e.run(w)
	}
	w.pending++

	return w, nil
}

func (e *Executor) release(key string, w *worker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w.pending--
	w.lastUsed = e.now()
	if w.retired && w.pending == 0 {
		close(w.jobs)
	}
}

func (e *Executor) run(w *worker) {
	defer e.wg.Done()

	for j := range w.jobs {
		j.done <- e.call(j)
	}
}

func (e *Executor) call(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return j.fn(context.WithoutCancel(j.ctx))
}

// Reap stops workers that have had nothing to do for at least idle.
func (e *Executor) Reap(idle time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-idle)
	n := 0
	for key, w := range e.workers {
		if w.pending == 0 && !w.lastUsed.After(cutoff) {
			delete(e.workers, key)
			close(w.jobs)
			n++
		}
	}

	return n
}

// Workers reports how many keys currently have a worker.
func (e *Executor) Workers() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.workers)
}

// Run reaps idle workers every interval until ctx ends, then closes the
// executor.
func (e *Executor) Run(ctx context.Context, idle time.Duration) error {
	defer e.Close()

	if idle <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Reap(idle)
		}
	}
}

// Close lets queued jobs finish, then stops every worker. Later calls to Do
// fail with ErrClosed.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for key, w := range e.workers {
		delete(e.workers, key)
		// callers still holding the worker close it on release
		if w.pending == 0 {
			close(w.jobs)
		} else {
			w.retired = true
		}
	}
	e.mu.Unlock()

	e.wg.Wait()
}
