package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// blockingWorker runs until its context is cancelled.
func blockingWorker(started chan<- struct{}) RunFunc {
	return func(ctx context.Context) error {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestStartRejectsDuplicateCredential(t *testing.T) {
	r := New()
	defer r.Shutdown()

	h := Handle{Credential: "111:aaa", OwnerID: 1}
	started := make(chan struct{})
	if err := r.Start(context.Background(), h, blockingWorker(started)); err != nil {
		t.Fatalf("first start: %v", err)
	}
	<-started

	err := r.Start(context.Background(), h, blockingWorker(nil))
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	r := New()
	defer r.Shutdown()

	const racers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Start(context.Background(), Handle{Credential: "222:bbb", OwnerID: 2}, blockingWorker(nil))
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrAlreadyRunning) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins.Load())
	}
	if !r.IsLive("222:bbb") {
		t.Fatal("winning worker must be live")
	}
}

func TestStopWaitsAndIsIdempotent(t *testing.T) {
	r := New()

	started := make(chan struct{})
	finished := make(chan struct{})
	run := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(finished)
		return ctx.Err()
	}
	if err := r.Start(context.Background(), Handle{Credential: "333:ccc", OwnerID: 3}, run); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	if !r.Stop("333:ccc") {
		t.Fatal("first stop must report true")
	}
	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before the worker finished")
	}
	if r.Stop("333:ccc") {
		t.Fatal("second stop must report false")
	}
	if r.Stop("never-started") {
		t.Fatal("stopping an unknown credential must report false")
	}
}

func TestCredentialHeldUntilWorkerDrains(t *testing.T) {
	r := New()

	cancelled := make(chan struct{})
	release := make(chan struct{})
	run := func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		// simulate a poller still flushing after cancellation
		<-release
		return ctx.Err()
	}
	h := Handle{Credential: "999:slow", OwnerID: 9}
	if err := r.Start(context.Background(), h, run); err != nil {
		t.Fatalf("start: %v", err)
	}

	stopDone := make(chan bool)
	go func() { stopDone <- r.Stop("999:slow") }()
	<-cancelled

	// the old poller has not drained yet: the credential must stay taken
	if err := r.Start(context.Background(), h, blockingWorker(nil)); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("start during drain err = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	if !<-stopDone {
		t.Fatal("stop must report true")
	}

	if err := r.Start(context.Background(), h, blockingWorker(nil)); err != nil {
		t.Fatalf("restart after drain: %v", err)
	}
	r.Shutdown()
}

func TestWorkerSelfDeregistersOnCrash(t *testing.T) {
	r := New()

	crashed := make(chan struct{})
	run := func(ctx context.Context) error {
		defer close(crashed)
		return errors.New("poll loop failed")
	}
	if err := r.Start(context.Background(), Handle{Credential: "444:ddd", OwnerID: 4}, run); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-crashed

	deadline := time.After(2 * time.Second)
	for r.IsLive("444:ddd") {
		select {
		case <-deadline:
			t.Fatal("crashed worker still registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// the credential is free again
	if err := r.Start(context.Background(), Handle{Credential: "444:ddd", OwnerID: 4}, blockingWorker(nil)); err != nil {
		t.Fatalf("restart after crash: %v", err)
	}
	r.Shutdown()
}

func TestStopAllScopedToOwner(t *testing.T) {
	r := New()
	defer r.Shutdown()

	for _, h := range []Handle{
		{Credential: "tok-a", OwnerID: 1},
		{Credential: "tok-b", OwnerID: 2},
		{Credential: "tok-c", OwnerID: 1},
	} {
		if err := r.Start(context.Background(), h, blockingWorker(nil)); err != nil {
			t.Fatalf("start %s: %v", h.Credential, err)
		}
	}

	if stopped := r.StopAll(1); stopped != 2 {
		t.Fatalf("StopAll(1) = %d, want 2", stopped)
	}
	if r.IsLive("tok-a") || r.IsLive("tok-c") {
		t.Fatal("owner 1's workers must be gone")
	}
	if !r.IsLive("tok-b") {
		t.Fatal("owner 2's worker must survive owner 1's bulk stop")
	}

	if stopped := r.StopAll(1); stopped != 0 {
		t.Fatalf("repeat StopAll(1) = %d, want 0", stopped)
	}
	if stopped := r.StopAll(99); stopped != 0 {
		t.Fatalf("StopAll(unknown owner) = %d, want 0", stopped)
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	var count atomic.Int32
	r := New(WithCountObserver(func(n int) { count.Store(int32(n)) }))

	for i, cred := range []string{"a", "b", "c"} {
		h := Handle{Credential: cred, OwnerID: int64(i + 1)}
		if err := r.Start(context.Background(), h, blockingWorker(nil)); err != nil {
			t.Fatalf("start %s: %v", cred, err)
		}
	}
	if count.Load() != 3 {
		t.Fatalf("observer count = %d, want 3", count.Load())
	}

	if stopped := r.Shutdown(); stopped != 3 {
		t.Fatalf("Shutdown = %d, want 3", stopped)
	}
	if handles := r.Active(); len(handles) != 0 {
		t.Fatalf("active after Shutdown = %v", handles)
	}
	if count.Load() != 0 {
		t.Fatalf("observer count = %d after Shutdown, want 0", count.Load())
	}
}

func TestActiveReturnsHandles(t *testing.T) {
	r := New()
	defer r.Shutdown()

	h := Handle{Credential: "555:eee", OwnerID: 5, SourceID: "kb-5"}
	if err := r.Start(context.Background(), h, blockingWorker(nil)); err != nil {
		t.Fatalf("start: %v", err)
	}
	handles := r.Active()
	if len(handles) != 1 || handles[0] != h {
		t.Fatalf("active = %+v, want [%+v]", handles, h)
	}
}
