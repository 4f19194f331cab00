package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmitRunsJob(t *testing.T) {
	t.Parallel()
	s := New(2, nil)
	defer s.Close()

	var ran atomic.Bool
	tk := s.Submit("a.py", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, tk.Wait(context.Background()))
	assert.True(t, ran.Load())
}

func TestJobErrorIsReported(t *testing.T) {
	t.Parallel()
	s := New(1, nil)
	defer s.Close()

	boom := errors.New("boom")
	tk := s.Submit("a.py", func(context.Context) error { return boom })
	assert.ErrorIs(t, tk.Err(), boom)
}

func TestQueuedRequestIsSuperseded(t *testing.T) {
	t.Parallel()
	s := New(1, nil)
	defer s.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := s.Submit("busy.py", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	var order []string
	var mu sync.Mutex
	record := func(name string) Job {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	stale := s.Submit("a.py", record("stale"))
	fresh := s.Submit("a.py", record("fresh"))
	assert.Equal(t, 1, s.Pending())

	assert.ErrorIs(t, stale.Err(), ErrSuperseded)
	close(release)
	require.NoError(t, blocker.Err())
	require.NoError(t, fresh.Err())
	assert.Equal(t, []string{"fresh"}, order)
}

func TestSamePathNeverRunsConcurrently(t *testing.T) {
	t.Parallel()
	s := New(4, nil)
	defer s.Close()

	var active, maxActive atomic.Int32
	job := func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	}

	var tickets []*Ticket
	for range 10 {
		tickets = append(tickets, s.Submit("same.py", job))
		time.Sleep(time.Millisecond)
	}
	for _, tk := range tickets {
		err := tk.Err()
		if err != nil {
			assert.ErrorIs(t, err, ErrSuperseded)
		}
	}
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestDifferentPathsRunInParallel(t *testing.T) {
	t.Parallel()
	s := New(2, nil)
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	both := make(chan struct{})
	job := func(context.Context) error {
		wg.Done()
		<-both
		return nil
	}
	a := s.Submit("a.py", job)
	b := s.Submit("b.py", job)

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs for different paths did not overlap")
	}
	close(both)
	require.NoError(t, a.Err())
	require.NoError(t, b.Err())
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := New(1, nil)
	defer s.Close()

	tk := s.Submit("a.py", func(context.Context) error { panic("kaboom") })
	err := tk.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// The worker survives.
	require.NoError(t, s.Submit("b.py", func(context.Context) error { return nil }).Err())
}

func TestCloseCancelsAndRejects(t *testing.T) {
	t.Parallel()
	s := New(1, nil)

	started := make(chan struct{})
	running := s.Submit("a.py", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	queued := s.Submit("b.py", func(context.Context) error { return nil })

	s.Close()
	assert.ErrorIs(t, running.Err(), context.Canceled)
	assert.ErrorIs(t, queued.Err(), ErrClosed)
	assert.ErrorIs(t, s.Submit("c.py", func(context.Context) error { return nil }).Err(), ErrClosed)
	s.Close()
}

func TestTicketWaitHonorsContext(t *testing.T) {
	t.Parallel()
	s := New(1, nil)
	defer s.Close()

	release := make(chan struct{})
	tk := s.Submit("a.py", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tk.Wait(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, tk.Err())
}
