package worker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	d := NewDispatcher(cfg, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Shutdown(ctx)
	})
	return d
}

func TestDispatcherRunsJobs(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 3, QueueSize: 16})

	var count atomic.Int32
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		key := "chat-1"
		if i%2 == 0 {
			key = "chat-2"
		}
		go func() {
			errs <- d.Do(context.Background(), key, "chat", func(ctx context.Context) error {
				count.Add(1)
				return nil
			})
		}()
	}
	for i := 0; i < 10; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("job failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for jobs")
		}
	}
	if got := count.Load(); got != 10 {
		t.Fatalf("expected 10 runs, got %d", got)
	}
	if running, _ := d.pool.size(); running > 3 {
		t.Fatalf("pool exceeded max workers: %d", running)
	}
}

func TestDispatcherReturnsTaskError(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	want := errors.New("image quota exceeded")
	err := d.Do(context.Background(), "chat-1", "chat", func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	err := d.Do(context.Background(), "chat-1", "chat", func(ctx context.Context) error { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected panic error, got %v", err)
	}
	// the worker survives
	if err := d.Do(context.Background(), "chat-1", "chat", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("second job failed: %v", err)
	}
}

func TestDispatcherSkipsCancelledJobs(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	result, err := d.Submit(ctx, "chat-1", "chat", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
	if called {
		t.Fatalf("cancelled job should not run")
	}
}

func TestDispatcherBusy(t *testing.T) {
	d := newTestDispatcher(t, Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	first, err := d.Submit(context.Background(), "chat-1", "chat", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	<-started

	second, err := d.Submit(context.Background(), "chat-2", "chat", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if _, err := d.Submit(context.Background(), "chat-3", "chat", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy, got %v", err)
	}

	close(release)
	for _, ch := range []<-chan error{first, second} {
		if err := <-ch; err != nil {
			t.Fatalf("job failed: %v", err)
		}
	}
}

func TestDispatcherRoundRobinAcrossKeys(t *testing.T) {
	d := newDispatcherState(16, zap.NewNop())
	for _, j := range []Job{
		{Key: "chat-1", Name: "a1"},
		{Key: "chat-1", Name: "a2"},
		{Key: "chat-1", Name: "a3"},
		{Key: "chat-2", Name: "b1"},
		{Key: "chat-3", Name: "c1"},
	} {
		d.enqueueJob(j)
	}

	var order []string
	for {
		job, ok := d.next()
		if !ok {
			break
		}
		order = append(order, job.Name)
	}
	if got, want := strings.Join(order, ","), "a1,b1,c1,a2,a3"; got != want {
		t.Fatalf("unexpected order %s, want %s", got, want)
	}
	if len(d.queues) != 0 || d.ready.Len() != 0 {
		t.Fatalf("queues not drained")
	}
}

func TestDispatcherShutdownRejectsNewJobs(t *testing.T) {
	d := NewDispatcher(Config{MinWorkers: 1, MaxWorkers: 1, QueueSize: 4}, zap.NewNop())
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := d.Submit(context.Background(), "chat-1", "chat", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestPoolRetiresIdleWorkers(t *testing.T) {
	d := newDispatcherState(4, zap.NewNop())
	p := newJobChannelPool(0, 2, time.Hour, d)
	p.spawnWorker()
	p.spawnWorker()

	p.mu.Lock()
	for _, meta := range p.idle {
		meta.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()

	p.shutdownExpired()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if running, _ := p.size(); running == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	running, idle := p.size()
	t.Fatalf("expected idle workers retired, running=%d idle=%d", running, idle)
}
