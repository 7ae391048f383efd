package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"bookshelf/catalogservice/internal/domain"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames []domain.ProgressMessage
	closed bool
}

func (t *fakeTransport) Send(payload []byte) error {
	var msg domain.ProgressMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	t.mu.Lock()
	t.frames = append(t.frames, msg)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) frameTypes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	types := make([]string, 0, len(t.frames))
	for _, frame := range t.frames {
		types = append(types, frame.Type)
	}
	return types
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func TestConnectBeforeProcessHandshake(t *testing.T) {
	registry := NewRegistry(WithReadyTimeout(2 * time.Second))
	transport := &fakeTransport{}

	// Client connects first; the actor is created in queued state.
	if err := registry.Attach("job-1", transport); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got := transport.frameTypes(); len(got) != 1 || got[0] != "connected" {
		t.Fatalf("expected connected ack, got %v", got)
	}

	if err := registry.Start(context.Background(), "job-1", domain.JobTypeEnrich, 3); err != nil {
		t.Fatalf("start: %v", err)
	}

	readyResult := make(chan bool, 1)
	go func() {
		readyResult <- registry.WaitReady(context.Background(), "job-1")
	}()

	time.Sleep(20 * time.Millisecond)
	if err := registry.MarkReady("job-1"); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	select {
	case ready := <-readyResult:
		if !ready {
			t.Fatal("WaitReady must report handshake completion")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not return after MarkReady")
	}
}

func TestWaitReadyTimeoutProceeds(t *testing.T) {
	registry := NewRegistry(WithReadyTimeout(30 * time.Millisecond))
	if err := registry.Start(context.Background(), "job-1", domain.JobTypeScan, 1); err != nil {
		t.Fatalf("start: %v", err)
	}

	startedAt := time.Now()
	ready := registry.WaitReady(context.Background(), "job-1")
	if ready {
		t.Fatal("no client ever signaled ready")
	}
	if elapsed := time.Since(startedAt); elapsed > time.Second {
		t.Fatalf("timeout took %v, want roughly the configured 30ms", elapsed)
	}

	// Fire-and-forget from here on: pushes succeed without a transport.
	if err := registry.Push(context.Background(), "job-1", domain.ProgressUpdate{ProcessedItems: 1}); err != nil {
		t.Fatalf("push after timeout: %v", err)
	}
}

func TestPushForwardsFramesInOrder(t *testing.T) {
	registry := NewRegistry()
	transport := &fakeTransport{}
	if err := registry.Attach("job-1", transport); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := registry.Start(context.Background(), "job-1", domain.JobTypeEnrich, 2); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 1; i <= 2; i++ {
		if err := registry.Push(context.Background(), "job-1", domain.ProgressUpdate{
			Progress:       float64(i) / 2,
			ProcessedItems: i,
			TotalItems:     2,
		}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := registry.Complete("job-1", &domain.JobResult{JobID: "job-1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	want := []string{"connected", "progress", "progress", "completed"}
	got := transport.frameTypes()
	if len(got) != len(want) {
		t.Fatalf("frames %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
	if !transport.isClosed() {
		t.Fatal("terminal state must close the transport")
	}
}

func TestTerminalStateAbsorbs(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Start(context.Background(), "job-1", domain.JobTypeEnrich, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := registry.Complete("job-1", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Push against a completed job is a silent no-op.
	if err := registry.Push(context.Background(), "job-1", domain.ProgressUpdate{}); err != nil {
		t.Fatalf("push on terminal job must be a no-op, got %v", err)
	}
	// Further transitions are rejected internally, never visible as state.
	if err := registry.Fail("job-1", "late failure", nil); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
	if err := registry.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("cancel on terminal job must be a no-op, got %v", err)
	}

	snapshot, err := registry.SnapshotOf("job-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Job.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", snapshot.Job.Status)
	}
}

func TestCancellationIsFinalAcrossReconnect(t *testing.T) {
	registry := NewRegistry(WithLinger(time.Hour))
	first := &fakeTransport{}
	if err := registry.Attach("job-1", first); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := registry.Start(context.Background(), "job-1", domain.JobTypeScan, 10); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := registry.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !first.isClosed() {
		t.Fatal("cancel must close the live transport")
	}

	// A reconnecting client cannot resurrect the job.
	second := &fakeTransport{}
	if err := registry.Attach("job-1", second); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if err := registry.Push(context.Background(), "job-1", domain.ProgressUpdate{ProcessedItems: 5}); !errors.Is(err, domain.ErrJobCanceled) {
		t.Fatalf("push after cancel = %v, want ErrJobCanceled", err)
	}

	types := second.frameTypes()
	if len(types) < 2 || types[0] != "connected" || types[1] != "canceled" {
		t.Fatalf("reconnect must see connected then canceled, got %v", types)
	}
}

func TestCancelSurvivesActorDropViaDurableStore(t *testing.T) {
	store := NewMemoryCancelStore()
	registry := NewRegistry(WithCancelStore(store), WithLinger(0))
	if err := registry.Start(context.Background(), "job-1", domain.JobTypeScan, 10); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := registry.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// Zero linger drops the actor almost immediately.
	deadline := time.Now().Add(time.Second)
	for {
		registry.mu.Lock()
		_, alive := registry.actors["job-1"]
		registry.mu.Unlock()
		if !alive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("actor never dropped after linger")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A brand-new actor for the same id still refuses to run.
	if err := registry.Start(context.Background(), "job-1", domain.JobTypeScan, 10); !errors.Is(err, domain.ErrJobCanceled) {
		t.Fatalf("restart of canceled job = %v, want ErrJobCanceled", err)
	}
}

func TestCancelUnknownJobIsNoOp(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Cancel(context.Background(), "ghost"); err != nil {
		t.Fatalf("cancel unknown job = %v, want nil", err)
	}
	if _, err := registry.SnapshotOf("ghost"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("snapshot = %v, want ErrJobNotFound", err)
	}
}

func TestIndependentJobsDoNotSerialize(t *testing.T) {
	registry := NewRegistry()
	const jobs = 8
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			if err := registry.Start(context.Background(), id, domain.JobTypeEnrich, 5); err != nil {
				t.Errorf("start %s: %v", id, err)
				return
			}
			for j := 1; j <= 5; j++ {
				if err := registry.Push(context.Background(), id, domain.ProgressUpdate{ProcessedItems: j}); err != nil {
					t.Errorf("push %s/%d: %v", id, j, err)
					return
				}
			}
			if err := registry.Complete(id, nil); err != nil {
				t.Errorf("complete %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestLateReconnectSeesOutcome(t *testing.T) {
	registry := NewRegistry(WithLinger(time.Hour))
	if err := registry.Start(context.Background(), "job-1", domain.JobTypeEnrich, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := registry.Complete("job-1", &domain.JobResult{JobID: "job-1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	late := &fakeTransport{}
	if err := registry.Attach("job-1", late); err != nil {
		t.Fatalf("late attach: %v", err)
	}
	types := late.frameTypes()
	if len(types) != 2 || types[0] != "connected" || types[1] != "completed" {
		t.Fatalf("late reconnect frames = %v, want [connected completed]", types)
	}
}

func TestLateReconnectAfterActorDropSeesCanceled(t *testing.T) {
	store := NewMemoryCancelStore()
	registry := NewRegistry(WithCancelStore(store), WithLinger(0))
	if err := registry.Start(context.Background(), "job-1", domain.JobTypeEnrich, 4); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := registry.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		registry.mu.Lock()
		_, alive := registry.actors["job-1"]
		registry.mu.Unlock()
		if !alive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("actor never dropped after linger")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A websocket connect after the drop must not present the job as
	// queued again; the durable flag restores the canceled outcome.
	transport := &fakeTransport{}
	if err := registry.Attach("job-1", transport); err != nil {
		t.Fatalf("reattach: %v", err)
	}
	types := transport.frameTypes()
	if len(types) < 2 || types[0] != "connected" || types[1] != "canceled" {
		t.Fatalf("late reconnect must see connected then canceled, got %v", types)
	}
	snapshot, err := registry.SnapshotOf("job-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Job.Status != domain.JobCanceled {
		t.Fatalf("recreated actor status = %s, want canceled", snapshot.Job.Status)
	}
}

func TestConnectOnlyActorIsReaped(t *testing.T) {
	registry := NewRegistry(WithOrphanTimeout(20 * time.Millisecond))
	transport := &fakeTransport{}
	if err := registry.Attach("nobody-home", transport); err != nil {
		t.Fatalf("attach: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		registry.mu.Lock()
		_, alive := registry.actors["nobody-home"]
		registry.mu.Unlock()
		if !alive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connect-only actor never reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !transport.isClosed() {
		t.Fatal("reaping must close the dangling transport")
	}

	// A job that does register work within the window is untouched.
	second := &fakeTransport{}
	if err := registry.Attach("worker", second); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := registry.Start(context.Background(), "worker", domain.JobTypeEnrich, 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	registry.mu.Lock()
	_, alive := registry.actors["worker"]
	registry.mu.Unlock()
	if !alive {
		t.Fatal("started job must survive the orphan window")
	}
}
