package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestDispatcherRunsUserJobsInOrderWithoutOverlap(t *testing.T) {
	d := NewDispatcher(4, 4, 64, time.Minute)
	defer d.Close(context.Background())

	var (
		mu      sync.Mutex
		order   []int
		running int32
		overlap int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		err := d.Submit(1, "seq", func() {
			defer wg.Done()
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&running, -1)
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	wg.Wait()

	if overlap != 0 {
		t.Fatalf("jobs of one user overlapped")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, order)
		}
	}
}

func TestDispatcherDoesNotStarveOtherUsers(t *testing.T) {
	d := NewDispatcher(2, 2, 64, time.Minute)
	defer d.Close(context.Background())

	release := make(chan struct{})
	for i := 0; i < 10; i++ {
		d.Submit(1, "slow", func() { <-release })
	}
	done := make(chan struct{})
	if err := d.Submit(2, "fast", func() { close(done) }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("user 2 starved behind user 1")
	}
	close(release)
}

func TestDispatcherBusyWhenQueueFull(t *testing.T) {
	d := NewDispatcher(1, 1, 1, time.Minute)
	defer d.Close(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	d.Submit(1, "block", func() {
		close(started)
		<-release
	})
	<-started
	// the only worker is busy, so the dispatcher parks on this job
	d.Submit(2, "parked", func() {})
	waitUntil(t, func() bool { return len(d.JobQueue) == 0 })

	if err := d.Submit(3, "queued", func() {}); err != nil {
		t.Fatalf("expected room for one queued job: %v", err)
	}
	if err := d.Submit(4, "overflow", func() {}); !errors.Is(err, ErrDispatcherBusy) {
		t.Fatalf("expected ErrDispatcherBusy, got %v", err)
	}
	close(release)
}

func TestDispatcherCancelUserDropsQueuedJobs(t *testing.T) {
	d := NewDispatcher(1, 1, 16, time.Minute)
	defer d.Close(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var ran int32
	d.Submit(1, "running", func() {
		close(started)
		<-release
	})
	<-started
	for i := 0; i < 3; i++ {
		d.Submit(1, "queued", func() { atomic.AddInt32(&ran, 1) })
	}
	waitUntil(t, func() bool { return d.queued(1) == 3 })

	if n := d.CancelUser(1); n != 3 {
		t.Fatalf("expected 3 dropped jobs, got %d", n)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ran != 0 {
		t.Fatalf("cancelled jobs ran %d times", ran)
	}
}

func TestDispatcherSurvivesPanickingJob(t *testing.T) {
	d := NewDispatcher(1, 1, 16, time.Minute)
	d.Submit(1, "panic", func() { panic("boom") })
	done := make(chan struct{})
	d.Submit(1, "after", func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher stalled after a panic")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Submit(1, "late", func() {}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
}

func TestDispatcherCancelUserDropsJobsNotYetQueued(t *testing.T) {
	// run is started by hand so the jobs are still waiting in JobQueue
	d := newDispatcher(1, 1, 16, time.Minute)

	var cancelledRan, otherRan, laterRan int32
	d.Submit(1, "save", func() { atomic.AddInt32(&cancelledRan, 1) })
	d.Submit(1, "status", func() { atomic.AddInt32(&cancelledRan, 1) })
	d.Submit(2, "save", func() { atomic.AddInt32(&otherRan, 1) })

	if n := d.CancelUser(1); n != 2 {
		t.Fatalf("expected 2 dropped jobs, got %d", n)
	}
	d.Submit(1, "after cancel", func() { atomic.AddInt32(&laterRan, 1) })
	go d.run()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if cancelledRan != 0 {
		t.Fatalf("cancelled jobs ran %d times", cancelledRan)
	}
	if otherRan != 1 || laterRan != 1 {
		t.Fatalf("jobs outside the cancel must run: other=%d later=%d", otherRan, laterRan)
	}
}
