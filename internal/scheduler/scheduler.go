// Package scheduler runs background scans on a fixed worker pool. Requests
// for the same path never run concurrently, and a queued request is
// superseded by a newer one for the same path.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrSuperseded completes a queued request replaced by a newer one.
	ErrSuperseded = errors.New("scheduler: request superseded")
	// ErrClosed completes requests that were pending at Close, or submitted after it.
	ErrClosed = errors.New("scheduler: closed")
)

// Job is one unit of scan work.
type Job func(ctx context.Context) error

// Ticket tracks a submitted job.
type Ticket struct {
	done chan struct{}
	err  error
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed when the job has completed, been superseded, or the
// scheduler closed.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err returns the outcome once Done is closed.
func (t *Ticket) Err() error {
	<-t.done
	return t.err
}

// Wait blocks until the ticket completes or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type request struct {
	path   string
	job    Job
	ticket *Ticket
}

// Scheduler is a fixed pool of scan workers.
type Scheduler struct {
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string            // paths with a pending request, FIFO
	pending map[string]*request // at most one per path
	running map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

// New starts workers goroutines.
func New(workers int, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: map[string]*request{},
		running: map[string]bool{},
	}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(workers)
	for range workers {
		go s.worker()
	}
	return s
}

// Submit queues job for path. A request already queued for path completes
// with ErrSuperseded; a request already running finishes first.
func (s *Scheduler) Submit(path string, job Job) *Ticket {
	t := newTicket()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		t.finish(ErrClosed)
		return t
	}
	if old, ok := s.pending[path]; ok {
		old.ticket.finish(ErrSuperseded)
	} else {
		s.queue = append(s.queue, path)
	}
	s.pending[path] = &request{path: path, job: job, ticket: t}
	s.cond.Signal()
	return t
}

// Pending returns the number of queued requests.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels running jobs, completes queued ones with ErrClosed and
// waits for the workers to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, r := range s.pending {
		r.ticket.finish(ErrClosed)
	}
	s.pending = map[string]*request{}
	s.queue = nil
	s.cancel()
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

// next pops the oldest request whose path is not already running.
func (s *Scheduler) next() (*request, bool) {
	for {
		if s.closed {
			return nil, false
		}
		for i, path := range s.queue {
			if s.running[path] {
				continue
			}
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			r := s.pending[path]
			delete(s.pending, path)
			s.running[path] = true
			return r, true
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		r, ok := s.next()
		if !ok {
			return
		}
		s.mu.Unlock()
		err := s.run(r)
		s.mu.Lock()
		delete(s.running, r.path)
		r.ticket.finish(err)
		// A request for the same path may have queued behind this one.
		s.cond.Broadcast()
	}
}

func (s *Scheduler) run(r *request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: job for %s panicked: %v", r.path, p)
			s.logger.Error("scan job panicked", "path", r.path, "error", err)
		}
	}()
	return r.job(s.ctx)
}
